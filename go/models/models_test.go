package models

import (
	"bytes"
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepr(t *testing.T) {
	assert.Equal(t, `"hi\x00\n"`, Repr([]byte("hi\x00\n"), 0))
	assert.Equal(t, `"abcde"...`, Repr([]byte("abcdefghij"), 8))
	assert.Equal(t, `"abc"`, Repr([]byte("abc"), 8))
	assert.Equal(t, `"a\"b"`, Repr([]byte(`a"b`), 0))
	assert.Equal(t, `"name"`, ReprString([]byte("name\x00junk"), 0))
}

func TestHexDump(t *testing.T) {
	lines := HexDump(0x1000, []byte("0123456789abcdef\x01"), 32)
	require.Len(t, lines, 2)
	assert.Equal(t, "0x00001000: 30313233 34353637 38396162 63646566 [0123456789abcdef]", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0x00001010: 01      "), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], "[.]"), lines[1])
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, uint64(0x100000), c.Watermark)
	assert.True(t, c.ZeroTimeoutBlocks())
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte("cpus: 2\nrequest_zero_timeout: poll\nmailbox_slots: 8\ndebug: [\"SCHED;IPC\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.CPUs)
	assert.Equal(t, 8, c.MailboxSlots)
	assert.False(t, c.ZeroTimeoutBlocks())
	assert.Equal(t, uint64(4096), c.PageSize, "defaults survive")

	_, err = ParseConfig([]byte("page_size: 3000\n"))
	assert.Error(t, err)
	_, err = ParseConfig([]byte("request_zero_timeout: later\n"))
	assert.Error(t, err)
	_, err = ParseConfig([]byte("alloc_base: 0x1000\n"))
	assert.Error(t, err)
}

func TestLoggerSelectors(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, true)
	l.Enable(ParseSelectors("sched; ipc")...)
	assert.True(t, l.Enabled(SCHED))
	assert.True(t, l.Enabled(ALWAYS))
	assert.False(t, l.Enabled(VM))

	l.Debugf(VM, "hidden")
	l.Debugf(IPC, "send %d", 3)
	l.Warnf("careful")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "send 3")
	// colour is dropped for plain writers
	assert.Contains(t, out, "[IPC] send 3\n")
	assert.Contains(t, out, "[warn] careful\n")
	assert.NotContains(t, out, "\x1b[")
}

func TestLoggerStripsEscapes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, false)
	l.Printf("a\x1b[31mred\x1b[0m")
	assert.Equal(t, "ared\n", buf.String())
}

func TestPrintFlags(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.Int("cpus", 1, "number of tasks allowed to run at once")
	fs.String("to", "", strings.Repeat("word ", 30))
	var flags []*flag.Flag
	fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
	var buf bytes.Buffer
	PrintFlags(&buf, flags)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.True(t, len(lines) > 2)
	assert.True(t, strings.HasPrefix(lines[0], "  -cpus (1) "))
	assert.Contains(t, lines[0], "number of tasks")
	for _, l := range lines {
		assert.True(t, len(l) <= 80, l)
	}
}
