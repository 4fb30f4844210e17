// Package monitor runs the continuous sample/debounce/classify cycle, one
// goroutine per channel, and turns Valid pulses into ledger records.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/bill-acceptor/internal/gpio"
	"github.com/sweeney/bill-acceptor/internal/ledger"
	"github.com/sweeney/bill-acceptor/internal/pulse"
)

// Monitor samples the configured channels and records accepted notes.
// Each channel gets its own goroutine so one channel's in-flight width
// measurement never stalls another channel's sampling.
type Monitor struct {
	reader  gpio.Reader
	cfg     pulse.Config
	values  *ledger.ValueMap
	book    *ledger.Ledger
	log     *zap.Logger
	diag    atomic.Bool
	onEvent func(ledger.AcceptedEvent)
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAcceptedFunc registers a callback invoked after every recorded event,
// from the accepting channel's goroutine.
func WithAcceptedFunc(fn func(ledger.AcceptedEvent)) Option {
	return func(m *Monitor) { m.onEvent = fn }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor over the given reader and shared state.
func New(reader gpio.Reader, cfg pulse.Config, values *ledger.ValueMap, book *ledger.Ledger, log *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		reader: reader,
		cfg:    cfg,
		values: values,
		book:   book,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ToggleDiagnostics flips verbose transition logging and returns the new
// state. Observability only; classification is unaffected.
func (m *Monitor) ToggleDiagnostics() bool {
	for {
		old := m.diag.Load()
		if m.diag.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Run samples all configured channels until ctx is cancelled. It blocks
// until every channel goroutine has observed the cancellation and exited.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ch := range m.values.Channels() {
		wg.Add(1)
		go func(channel int) {
			defer wg.Done()
			m.watch(ctx, channel)
		}(ch)
	}
	wg.Wait()
}

// watch is one channel's sampling loop. The detector is owned exclusively
// by this goroutine.
func (m *Monitor) watch(ctx context.Context, channel int) {
	det := pulse.NewDetector(channel, m.cfg)
	log := m.log.With(zap.Int("channel", channel))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var lastAsserted bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		asserted, err := m.reader.Level(channel)
		if err != nil {
			log.Error("line read failed", zap.Error(err))
			continue
		}

		if m.diag.Load() && asserted != lastAsserted {
			log.Debug("line transition", zap.Bool("asserted", asserted))
		}
		lastAsserted = asserted

		p := det.Process(pulse.Sample{Asserted: asserted, Time: m.now()})
		if p == nil {
			continue
		}
		m.handle(*p, log)
	}
}

func (m *Monitor) handle(p pulse.Pulse, log *zap.Logger) {
	if p.Outcome != pulse.Valid {
		// Normal rejection outcomes, not failures. Timeout is called out
		// separately because it usually means a stuck line.
		if p.Outcome == pulse.Timeout {
			log.Warn("pulse timed out, line may be stuck", zap.Duration("width", p.Width))
		} else {
			log.Info("pulse rejected", zap.String("outcome", string(p.Outcome)), zap.Duration("width", p.Width))
		}
		return
	}

	value, err := m.values.Value(p.Channel)
	if err != nil {
		log.Error("no value for channel", zap.Error(err))
		return
	}

	ev := ledger.AcceptedEvent{
		Channel: p.Channel,
		Value:   value,
		Width:   p.Width,
		Time:    m.now(),
	}
	m.book.Record(ev)

	log.Info("note accepted",
		zap.Int("value", value),
		zap.Duration("width", p.Width),
		zap.Int("session_total", m.book.Snapshot().TotalValue))

	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
