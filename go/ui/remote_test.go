package ui

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/ukern/go/kernel"
	"github.com/lunixbochs/ukern/go/kernel/sys"
	"github.com/lunixbochs/ukern/go/models"
)

func TestServeStopsWithListener(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Output = &nopCloser{}
	k, err := kernel.New(cfg, nil)
	require.NoError(t, err)
	d, err := sys.New(k)
	require.NoError(t, err)
	defer d.Close()

	listening := make(chan net.Listener, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(d, "127.0.0.1:0", func(ln net.Listener) error {
			listening <- ln
			return nil
		})
	}()
	var ln net.Listener
	select {
	case ln = <-listening:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never came up")
	}
	require.NoError(t, ln.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
