// Package ipc implements task mailboxes, named broadcast channels and the
// correlation of requests with their responses. Nothing here blocks; the
// kernel parks callers and is told through the notify hook when a mailbox
// or a pending request changes.
package ipc

import (
	"sort"

	"github.com/fvbommel/sortorder"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

type pending struct {
	requester, target int
	done              bool
	response          Message
}

type Hub struct {
	mu        deadlock.Mutex
	mailboxes map[int][]Message
	channels  map[string][]int
	pending   map[uint64]*pending
	nextCorr  uint64
	slots     int
	notify    func(pid int)
}

func NewHub(slots int) *Hub {
	return &Hub{
		mailboxes: make(map[int][]Message),
		channels:  make(map[string][]int),
		pending:   make(map[uint64]*pending),
		slots:     slots,
	}
}

// SetNotify installs the hook called, without hub locks held, whenever pid
// has something new to receive or a response has arrived for it.
func (h *Hub) SetNotify(fn func(pid int)) {
	h.mu.Lock()
	h.notify = fn
	h.mu.Unlock()
}

func (h *Hub) wake(pids ...int) {
	h.mu.Lock()
	fn := h.notify
	h.mu.Unlock()
	if fn == nil {
		return
	}
	for _, pid := range pids {
		fn(pid)
	}
}

// Open creates the mailbox for pid.
func (h *Hub) Open(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.mailboxes[pid]; !ok {
		h.mailboxes[pid] = nil
	}
}

// Close drops pid's mailbox, its subscriptions and any requests it is
// still waiting on.
func (h *Hub) Close(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.mailboxes, pid)
	for name := range h.channels {
		h.unsubscribe(pid, name)
	}
	for corr, p := range h.pending {
		if p.requester == pid {
			delete(h.pending, corr)
		}
	}
}

// deliver is called with h.mu held.
func (h *Hub) deliver(to int, m Message) error {
	box, ok := h.mailboxes[to]
	if !ok {
		return errors.Wrapf(errno.NotFound, "no mailbox for %d", to)
	}
	if h.slots > 0 && len(box) >= h.slots {
		return errors.Wrapf(errno.Exhausted, "mailbox %d full", to)
	}
	m.To = to
	h.mailboxes[to] = append(box, m.clone())
	return nil
}

// Send enqueues m in the mailbox of m.To.
func (h *Hub) Send(m Message) error {
	if len(m.Payload) > PayloadMax {
		return errno.InvalidArgument
	}
	m.Kind = KindSend
	h.mu.Lock()
	err := h.deliver(m.To, m)
	h.mu.Unlock()
	if err == nil {
		h.wake(m.To)
	}
	return err
}

// Broadcast copies m into every current subscriber of channel, in
// subscription order, and returns their pids. If any subscriber mailbox is
// full nothing is delivered and the error is Exhausted.
func (h *Hub) Broadcast(channel string, m Message) ([]int, error) {
	if len(m.Payload) > PayloadMax {
		return nil, errno.InvalidArgument
	}
	m.Kind = KindBroadcast
	h.mu.Lock()
	subs := h.channels[channel]
	if h.slots > 0 {
		for _, pid := range subs {
			if len(h.mailboxes[pid]) >= h.slots {
				h.mu.Unlock()
				return nil, errors.Wrapf(errno.Exhausted, "broadcast %q: mailbox %d full", channel, pid)
			}
		}
	}
	got := make([]int, 0, len(subs))
	for _, pid := range subs {
		if h.deliver(pid, m) == nil {
			got = append(got, pid)
		}
	}
	h.mu.Unlock()
	h.wake(got...)
	return got, nil
}

// Receive dequeues the oldest message for pid.
func (h *Hub) Receive(pid int) (Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	box, ok := h.mailboxes[pid]
	if !ok {
		return Message{}, errors.Wrapf(errno.NotFound, "no mailbox for %d", pid)
	}
	if len(box) == 0 {
		return Message{}, errno.WouldBlock
	}
	m := box[0]
	box[0] = Message{}
	h.mailboxes[pid] = box[1:]
	return m, nil
}

// Pending counts queued messages for pid.
func (h *Hub) Pending(pid int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mailboxes[pid])
}

func (h *Hub) Subscribe(pid int, channel string) error {
	if channel == "" || len(channel) > ChannelMax {
		return errno.InvalidArgument
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.channels[channel] {
		if p == pid {
			return nil
		}
	}
	h.channels[channel] = append(h.channels[channel], pid)
	return nil
}

func (h *Hub) Unsubscribe(pid int, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.unsubscribe(pid, channel) {
		return errors.Wrapf(errno.NotFound, "%d not subscribed to %q", pid, channel)
	}
	return nil
}

// unsubscribe is called with h.mu held. Empty channels are removed.
func (h *Hub) unsubscribe(pid int, channel string) bool {
	subs := h.channels[channel]
	for i, p := range subs {
		if p == pid {
			subs = append(subs[:i:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(h.channels, channel)
			} else {
				h.channels[channel] = subs
			}
			return true
		}
	}
	return false
}

// Subscribers lists channel members in subscription order.
func (h *Hub) Subscribers(channel string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.channels[channel]...)
}

// Channels lists channel names in natural order.
func (h *Hub) Channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	sort.Sort(sortorder.Natural(names))
	return names
}

// Request delivers m to m.To as a request with a fresh correlation id and
// registers the caller as waiting for the response.
func (h *Hub) Request(m Message) (uint64, error) {
	if len(m.Payload) > PayloadMax {
		return 0, errno.InvalidArgument
	}
	h.mu.Lock()
	h.nextCorr++
	corr := h.nextCorr
	m.Kind = KindRequest
	m.Correlation = corr
	if err := h.deliver(m.To, m); err != nil {
		h.mu.Unlock()
		return 0, err
	}
	h.pending[corr] = &pending{requester: m.From, target: m.To}
	h.mu.Unlock()
	h.wake(m.To)
	return corr, nil
}

// Respond completes the request identified by corr if requester is still
// waiting on it and m.From is the task the request was addressed to.
// Anything else is dropped without error.
func (h *Hub) Respond(requester int, corr uint64, m Message) error {
	if len(m.Payload) > PayloadMax {
		return errno.InvalidArgument
	}
	h.mu.Lock()
	p, ok := h.pending[corr]
	if !ok || p.requester != requester || p.target != m.From || p.done {
		h.mu.Unlock()
		return nil
	}
	m.Kind = KindResponse
	m.To = requester
	m.Correlation = corr
	p.response = m.clone()
	p.done = true
	h.mu.Unlock()
	h.wake(requester)
	return nil
}

// Collect returns the response for corr once it has arrived and forgets
// the request.
func (h *Hub) Collect(corr uint64) (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[corr]
	if !ok || !p.done {
		return Message{}, false
	}
	delete(h.pending, corr)
	return p.response, true
}

// Answered reports whether the response for corr is waiting to be
// collected.
func (h *Hub) Answered(corr uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[corr]
	return ok && p.done
}

// Abandon forgets corr so a late response is discarded.
func (h *Hub) Abandon(corr uint64) {
	h.mu.Lock()
	delete(h.pending, corr)
	h.mu.Unlock()
}

// Waiting counts outstanding requests.
func (h *Hub) Waiting() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
