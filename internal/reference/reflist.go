package reference

import (
	"encoding/json"
	"iter"
)

// RefList is an index-stable slot arena. Push appends and returns the slot
// index; Remove turns a slot into a tombstone without shifting any other
// slot, because URIRecords hold raw indices into the list. Readers get the
// clean view through Live or All.
//
// The zero value is an empty list ready to use.
type RefList[T any] struct {
	slots []*T
	live  int
}

// Push appends v and returns its slot index.
func (l *RefList[T]) Push(v T) int {
	l.slots = append(l.slots, &v)
	l.live++
	return len(l.slots) - 1
}

// Remove tombstones slot i. It reports false when i is out of range or
// already a tombstone.
func (l *RefList[T]) Remove(i int) bool {
	if i < 0 || i >= len(l.slots) || l.slots[i] == nil {
		return false
	}
	l.slots[i] = nil
	l.live--
	return true
}

// At returns the value in slot i, or false for a tombstone or a slot that
// was never written.
func (l *RefList[T]) At(i int) (T, bool) {
	if i < 0 || i >= len(l.slots) || l.slots[i] == nil {
		var zero T
		return zero, false
	}
	return *l.slots[i], true
}

// Alive reports whether slot i holds a value.
func (l *RefList[T]) Alive(i int) bool {
	return i >= 0 && i < len(l.slots) && l.slots[i] != nil
}

// Len returns the number of live slots.
func (l *RefList[T]) Len() int { return l.live }

// Slots returns the total number of slots ever written, tombstones included.
func (l *RefList[T]) Slots() int { return len(l.slots) }

// Empty reports whether every slot is a tombstone.
func (l *RefList[T]) Empty() bool { return l.live == 0 }

// All iterates over live slots in index order.
func (l *RefList[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, p := range l.slots {
			if p == nil {
				continue
			}
			if !yield(i, *p) {
				return
			}
		}
	}
}

// Live returns a copy of the live values in slot order.
func (l *RefList[T]) Live() []T {
	if l.live == 0 {
		return nil
	}
	out := make([]T, 0, l.live)
	for _, p := range l.slots {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func (l *RefList[T]) clone() RefList[T] {
	c := RefList[T]{slots: make([]*T, len(l.slots)), live: l.live}
	for i, p := range l.slots {
		if p != nil {
			v := *p
			c.slots[i] = &v
		}
	}
	return c
}

// MarshalJSON encodes the list as an array with null tombstones so slot
// indices survive a round trip.
func (l RefList[T]) MarshalJSON() ([]byte, error) {
	if l.slots == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.slots)
}

func (l *RefList[T]) UnmarshalJSON(b []byte) error {
	var slots []*T
	if err := json.Unmarshal(b, &slots); err != nil {
		return err
	}
	l.slots = slots
	l.live = 0
	for _, p := range slots {
		if p != nil {
			l.live++
		}
	}
	return nil
}
