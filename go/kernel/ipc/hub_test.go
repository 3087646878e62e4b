package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

func newHub(pids ...int) *Hub {
	h := NewHub(4)
	for _, pid := range pids {
		h.Open(pid)
	}
	return h
}

func TestSendReceiveFIFO(t *testing.T) {
	h := newHub(1, 2)
	var woken []int
	h.SetNotify(func(pid int) { woken = append(woken, pid) })

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Send(Message{From: 1, To: 2, Label: uint32(i)}))
	}
	assert.Equal(t, []int{2, 2, 2}, woken)
	assert.Equal(t, 3, h.Pending(2))
	for i := 0; i < 3; i++ {
		m, err := h.Receive(2)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), m.Label)
		assert.Equal(t, KindSend, m.Kind)
		assert.Equal(t, 1, m.From)
	}
	_, err := h.Receive(2)
	assert.Equal(t, errno.WouldBlock, err)
}

func TestSendErrors(t *testing.T) {
	h := newHub(1)
	assert.Equal(t, errno.NotFound, errno.Of(h.Send(Message{From: 1, To: 9})))
	for i := 0; i < 4; i++ {
		require.NoError(t, h.Send(Message{From: 1, To: 1}))
	}
	assert.Equal(t, errno.Exhausted, errno.Of(h.Send(Message{From: 1, To: 1})))
	assert.Equal(t, errno.InvalidArgument, h.Send(Message{To: 1, Payload: make([]byte, PayloadMax+1)}))
}

func TestPayloadIsCopied(t *testing.T) {
	h := newHub(1)
	buf := []byte("abc")
	h.Send(Message{To: 1, Payload: buf})
	buf[0] = 'z'
	m, _ := h.Receive(1)
	assert.Equal(t, "abc", string(m.Payload))
}

func TestBroadcast(t *testing.T) {
	h := newHub(1, 2, 3)
	require.NoError(t, h.Subscribe(2, "clock"))
	require.NoError(t, h.Subscribe(3, "clock"))
	require.NoError(t, h.Subscribe(2, "clock"))
	assert.Equal(t, []int{2, 3}, h.Subscribers("clock"))

	got, err := h.Broadcast("clock", Message{From: 1, Label: 7})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got)

	require.NoError(t, h.Unsubscribe(2, "clock"))
	got, _ = h.Broadcast("clock", Message{From: 1, Label: 8})
	assert.Equal(t, []int{3}, got)

	m, _ := h.Receive(2)
	assert.Equal(t, uint32(7), m.Label)
	assert.Equal(t, KindBroadcast, m.Kind)
	_, err = h.Receive(2)
	assert.Equal(t, errno.WouldBlock, err)
	assert.Equal(t, 2, h.Pending(3))

	assert.Equal(t, errno.NotFound, errno.Of(h.Unsubscribe(2, "clock")))
	require.NoError(t, h.Unsubscribe(3, "clock"))
	assert.Empty(t, h.Channels(), "empty channel removed")

	got, err = h.Broadcast("nobody", Message{})
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestBroadcastFullMailbox(t *testing.T) {
	h := NewHub(1)
	for _, pid := range []int{1, 2, 3} {
		h.Open(pid)
		require.NoError(t, h.Subscribe(pid, "tick"))
	}
	require.NoError(t, h.Send(Message{From: 1, To: 3, Label: 1}))

	got, err := h.Broadcast("tick", Message{From: 1, Label: 2})
	assert.Equal(t, errno.Exhausted, errno.Of(err))
	assert.Empty(t, got)
	assert.Equal(t, 0, h.Pending(1))
	assert.Equal(t, 0, h.Pending(2))
	assert.Equal(t, 1, h.Pending(3))

	m, err := h.Receive(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), m.Label)
	got, err = h.Broadcast("tick", Message{From: 1, Label: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRequestRespond(t *testing.T) {
	h := newHub(1, 2, 3)
	corr, err := h.Request(Message{From: 1, To: 2, Payload: []byte("q")})
	require.NoError(t, err)

	req, err := h.Receive(2)
	require.NoError(t, err)
	assert.Equal(t, KindRequest, req.Kind)
	assert.Equal(t, corr, req.Correlation)

	_, ok := h.Collect(corr)
	assert.False(t, ok)

	// wrong requester does not complete it
	require.NoError(t, h.Respond(2, corr, Message{From: 2}))
	_, ok = h.Collect(corr)
	assert.False(t, ok)

	// only the addressed task may answer
	require.NoError(t, h.Respond(req.From, corr, Message{From: 3, Payload: []byte("forged")}))
	assert.False(t, h.Answered(corr))

	require.NoError(t, h.Respond(req.From, corr, Message{From: 2, Payload: []byte("a")}))
	assert.True(t, h.Answered(corr))
	resp, ok := h.Collect(corr)
	require.True(t, ok)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, "a", string(resp.Payload))
	assert.Equal(t, 0, h.Waiting())
}

func TestLateRespondDiscarded(t *testing.T) {
	h := newHub(1, 2)
	corr, _ := h.Request(Message{From: 1, To: 2})
	h.Abandon(corr)
	assert.NoError(t, h.Respond(1, corr, Message{From: 2}))
	_, ok := h.Collect(corr)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Pending(1), "late response must not reach the mailbox")

	corr2, _ := h.Request(Message{From: 1, To: 2})
	assert.NotEqual(t, corr, corr2)
}

func TestCloseDropsState(t *testing.T) {
	h := newHub(1, 2)
	h.Subscribe(1, "a")
	h.Subscribe(2, "a")
	h.Request(Message{From: 1, To: 2})
	h.Close(1)
	assert.Equal(t, []int{2}, h.Subscribers("a"))
	assert.Equal(t, 0, h.Waiting())
	assert.Equal(t, errno.NotFound, errno.Of(h.Send(Message{To: 1})))
	_, err := h.Receive(1)
	assert.Equal(t, errno.NotFound, errno.Of(err))
}

func TestWireRoundTrip(t *testing.T) {
	w := ToWire(Message{Kind: KindRequest, From: 3, To: 4, Correlation: 9, Label: 2, Payload: []byte("xyz")})
	assert.Equal(t, uint32(3), w.Size)
	m, err := w.Message()
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(m.Payload))
	assert.Equal(t, uint64(9), m.Correlation)

	w.Size = PayloadMax + 1
	_, err = w.Message()
	assert.Equal(t, errno.InvalidArgument, errno.Of(err))
}
