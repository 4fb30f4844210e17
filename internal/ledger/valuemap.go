package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidChannel is returned when a channel outside the configured set
// is referenced by a command or configuration.
var ErrInvalidChannel = fmt.Errorf("invalid channel")

// ValueMap maps channel numbers to note values. The channel set is fixed at
// construction; values are mutable at runtime and consulted on every Valid
// classification. Duplicate values across channels are legal.
type ValueMap struct {
	mu     sync.RWMutex
	values map[int]int
}

// NewValueMap creates a map over the given initial assignment. The key set
// defines the valid channels for the session.
func NewValueMap(initial map[int]int) *ValueMap {
	values := make(map[int]int, len(initial))
	for ch, v := range initial {
		values[ch] = v
	}
	return &ValueMap{values: values}
}

// Value returns the current value for a channel.
func (m *ValueMap) Value(channel int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[channel]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	return v, nil
}

// Set replaces a channel's value. Only future classifications are affected;
// already-recorded events keep the value they were accepted at.
func (m *ValueMap) Set(channel, value int) error {
	if value <= 0 {
		return fmt.Errorf("value must be positive, got %d", value)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[channel]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	m.values[channel] = value
	return nil
}

// All returns a copy of the current assignment.
func (m *ValueMap) All() map[int]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]int, len(m.values))
	for ch, v := range m.values {
		out[ch] = v
	}
	return out
}

// Channels returns the configured channel numbers in ascending order.
func (m *ValueMap) Channels() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chs := make([]int, 0, len(m.values))
	for ch := range m.values {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	return chs
}
