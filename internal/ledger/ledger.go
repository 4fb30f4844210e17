// Package ledger provides the thread-safe session ledger and the runtime
// channel-to-value map. These are the only two pieces of state shared
// between channel goroutines, the command loop, and publishers.
package ledger

import (
	"sync"
	"time"
)

// AcceptedEvent records one accepted note. Immutable after creation; the
// Value is the channel's mapped value at acceptance time, so later
// reconfiguration never rewrites history.
type AcceptedEvent struct {
	Channel int
	Value   int
	Width   time.Duration
	Time    time.Time
}

// Snapshot is a point-in-time copy of the ledger.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	TotalCount int
	TotalValue int
	PerChannel map[int]int
	History    []AcceptedEvent
	Since      time.Time
	Now        time.Time
}

// Ledger is the single source of truth for session totals.
type Ledger struct {
	mu         sync.Mutex
	totalCount int
	totalValue int
	perChannel map[int]int
	history    []AcceptedEvent
	historyCap int // 0 = unbounded
	since      time.Time
	now        func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHistoryCap bounds the retained history; once full the oldest events
// are dropped. Totals are unaffected.
func WithHistoryCap(n int) Option {
	return func(l *Ledger) { l.historyCap = n }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		perChannel: make(map[int]int),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.since = l.now()
	return l
}

// Record atomically applies one accepted event: total count, total value,
// per-channel count and history all move together or not at all.
func (l *Ledger) Record(ev AcceptedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalCount++
	l.totalValue += ev.Value
	l.perChannel[ev.Channel]++
	l.history = append(l.history, ev)
	if l.historyCap > 0 && len(l.history) > l.historyCap {
		l.history = append(l.history[:0], l.history[len(l.history)-l.historyCap:]...)
	}
}

// Snapshot returns a consistent copy of the current state. No partially
// applied Record is ever visible.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	per := make(map[int]int, len(l.perChannel))
	for ch, n := range l.perChannel {
		per[ch] = n
	}
	hist := make([]AcceptedEvent, len(l.history))
	copy(hist, l.history)

	return Snapshot{
		TotalCount: l.totalCount,
		TotalValue: l.totalValue,
		PerChannel: per,
		History:    hist,
		Since:      l.since,
		Now:        l.now(),
	}
}

// Reset atomically zeroes all counters and clears history.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalCount = 0
	l.totalValue = 0
	l.perChannel = make(map[int]int)
	l.history = nil
	l.since = l.now()
}
