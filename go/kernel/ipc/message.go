package ipc

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

const (
	PayloadMax = 512
	ChannelMax = 64
)

type Kind uint32

const (
	KindSend Kind = iota + 1
	KindBroadcast
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindBroadcast:
		return "broadcast"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return "?"
}

// Message is the kernel form of a message. Mailboxes hold copies.
type Message struct {
	Kind        Kind
	From, To    int
	Correlation uint64
	Label       uint32
	Payload     []byte
}

func (m Message) clone() Message {
	m.Payload = append([]byte(nil), m.Payload...)
	return m
}

// Wire is the layout of a message in task memory.
type Wire struct {
	Kind        uint32
	From        int32
	To          int32
	Correlation uint64
	Label       uint32
	Size        uint32
	Payload     [PayloadMax]byte
}

func (w *Wire) Message() (Message, error) {
	if w.Size > PayloadMax {
		return Message{}, errors.Wrapf(errno.InvalidArgument, "payload size %d", w.Size)
	}
	return Message{
		Kind:        Kind(w.Kind),
		From:        int(w.From),
		To:          int(w.To),
		Correlation: w.Correlation,
		Label:       w.Label,
		Payload:     append([]byte(nil), w.Payload[:w.Size]...),
	}, nil
}

// ToWire copies m into its memory layout. Oversized payloads are cut.
func ToWire(m Message) *Wire {
	w := &Wire{
		Kind:        uint32(m.Kind),
		From:        int32(m.From),
		To:          int32(m.To),
		Correlation: m.Correlation,
		Label:       m.Label,
	}
	w.Size = uint32(copy(w.Payload[:], m.Payload))
	return w
}
