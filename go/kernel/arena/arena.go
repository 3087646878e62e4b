// Package arena is a dense id store. Keys carry the generation of the slot
// they were issued for, so a key that outlives its entry never resolves to
// whatever reused the slot.
package arena

import (
	"fmt"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

const (
	indexBits = 16
	indexMask = 1<<indexBits - 1
	genMask   = 1<<(31-indexBits) - 1

	// MaxSize is the largest capacity an arena can be created with.
	MaxSize = indexMask + 1
)

type Key int32

func makeKey(index int, gen uint32) Key {
	return Key(int32(gen&genMask)<<indexBits | int32(index))
}

func (k Key) index() int     { return int(k) & indexMask }
func (k Key) gen() uint32    { return uint32(k>>indexBits) & genMask }
func (k Key) String() string { return fmt.Sprintf("%d", int32(k)) }

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

// Arena is not safe for concurrent use; owners lock around it.
type Arena[T any] struct {
	slots []slot[T]
	limit int
	live  int
}

func New[T any](limit int) *Arena[T] {
	if limit <= 0 || limit > MaxSize {
		limit = MaxSize
	}
	return &Arena[T]{limit: limit}
}

// Insert stores v in the lowest free slot.
func (a *Arena[T]) Insert(v T) (Key, error) {
	for i := range a.slots {
		if !a.slots[i].used {
			s := &a.slots[i]
			s.used, s.val = true, v
			a.live++
			return makeKey(i, s.gen), nil
		}
	}
	if len(a.slots) >= a.limit {
		return -1, errno.Exhausted
	}
	a.slots = append(a.slots, slot[T]{used: true, val: v})
	a.live++
	return makeKey(len(a.slots)-1, 0), nil
}

func (a *Arena[T]) lookup(k Key) *slot[T] {
	if k < 0 {
		return nil
	}
	i := k.index()
	if i >= len(a.slots) {
		return nil
	}
	s := &a.slots[i]
	if !s.used || s.gen&genMask != k.gen() {
		return nil
	}
	return s
}

func (a *Arena[T]) Get(k Key) (T, bool) {
	if s := a.lookup(k); s != nil {
		return s.val, true
	}
	var zero T
	return zero, false
}

func (a *Arena[T]) Has(k Key) bool {
	return a.lookup(k) != nil
}

// Remove frees the slot and bumps its generation.
func (a *Arena[T]) Remove(k Key) (T, bool) {
	var zero T
	s := a.lookup(k)
	if s == nil {
		return zero, false
	}
	v := s.val
	s.val, s.used = zero, false
	s.gen++
	a.live--
	return v, true
}

func (a *Arena[T]) Len() int { return a.live }
func (a *Arena[T]) Cap() int { return a.limit }

// Each visits live entries in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Key, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.used && !fn(makeKey(i, s.gen), s.val) {
			return
		}
	}
}
