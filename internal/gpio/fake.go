package gpio

import (
	"fmt"
	"sync"
)

// FakeReader is a test double with settable per-channel levels. It is safe
// for concurrent use: sampling goroutines read levels while the test driver
// asserts and releases lines.
type FakeReader struct {
	mu       sync.Mutex
	asserted map[int]bool
	reads    map[int]int

	// ReadError, if set, will be returned by Level.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeReader creates a reader over the given channel set, all lines idle.
func NewFakeReader(channels ...int) *FakeReader {
	f := &FakeReader{
		asserted: make(map[int]bool, len(channels)),
		reads:    make(map[int]int, len(channels)),
	}
	for _, ch := range channels {
		f.asserted[ch] = false
	}
	return f
}

// Level returns the current scripted level for a channel.
func (f *FakeReader) Level(channel int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}
	on, ok := f.asserted[channel]
	if !ok {
		return false, fmt.Errorf("no line for channel %d", channel)
	}
	f.reads[channel]++
	return on, nil
}

// Assert pulls a channel's line LOW (pulse in progress).
func (f *FakeReader) Assert(channel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asserted[channel] = true
}

// Release returns a channel's line to idle.
func (f *FakeReader) Release(channel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asserted[channel] = false
}

// Reads returns how many times a channel has been sampled.
func (f *FakeReader) Reads(channel int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[channel]
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
