package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State names the bridge's position in its connection lifecycle.
type State string

const (
	StateSearching     State = "SEARCHING"
	StateConnecting    State = "CONNECTING"
	StateAwaitingReady State = "AWAITING_READY"
	StateStreaming     State = "STREAMING"
	StateReconnecting  State = "RECONNECTING"
	StateFailed        State = "FAILED"
)

// ErrNoDevice means discovery found no candidate transport.
var ErrNoDevice = errors.New("no serial device found")

// ErrReconnectExhausted means the consecutive reconnect bound was hit.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Handler consumes decoded stream records. Calls arrive from the bridge's
// read goroutine, one at a time.
type Handler interface {
	// Ready is called once per connection when the far end announces itself.
	Ready(device string)
	// Accepted is called for each bill-accepted report.
	Accepted(ev RemoteEvent)
	// Ack is called for generic acknowledgements; stats is nil unless the
	// acknowledgement embedded a statistics payload.
	Ack(msg string, stats *Stats)
	// Raw is called for lines that are not valid records, and for valid but
	// unrecognized ones. Diagnostic only.
	Raw(line string)
}

// Config holds the bridge's transport and retry settings.
type Config struct {
	// Port pins the transport to a device node; empty enables discovery.
	Port        string
	Baud        int
	ReadTimeout time.Duration
	// SettleDelay is waited after opening, because opening the link resets
	// the far end.
	SettleDelay time.Duration
	// ReconnectLimit bounds consecutive failed reconnect attempts.
	ReconnectLimit  int
	ReconnectDelay  time.Duration
	RediscoveryWait time.Duration
	// AwaitReady keeps the bridge in AWAITING_READY until the far end's
	// readiness announcement arrives.
	AwaitReady bool
}

// Bridge runs the connection state machine and the streaming read loop.
type Bridge struct {
	cfg     Config
	open    Opener
	handler Handler
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	port     Port
	device   string
	state    State
	sawReady bool
}

// New creates a bridge. A nil opener uses the real serial port.
func New(cfg Config, handler Handler, log *zap.Logger, open Opener) *Bridge {
	if open == nil {
		open = OpenSerial
	}
	return &Bridge{
		cfg:     cfg,
		open:    open,
		handler: handler,
		log:     log,
		now:     time.Now,
		state:   StateSearching,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.log.Info("bridge state", zap.String("state", string(s)))
}

// SendStatus requests the far end's statistics. The response arrives
// asynchronously as an ordinary stream record.
func (b *Bridge) SendStatus() error {
	return b.send("STATUS\n")
}

// SendReset asks the far end to zero its totals.
func (b *Bridge) SendReset() error {
	return b.send("RESET\n")
}

func (b *Bridge) send(token string) error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()

	if port == nil {
		return errors.New("not connected")
	}
	if _, err := port.Write([]byte(token)); err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(token), err)
	}
	return nil
}

// Run drives the state machine until ctx is cancelled, the reconnect bound
// is exceeded, or startup discovery fails outright.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.connect(ctx, b.cfg.RediscoveryWait); err != nil {
		b.setState(StateFailed)
		return err
	}

	for {
		err := b.stream(ctx)
		b.closePort()
		if err == nil {
			return ctx.Err()
		}
		b.log.Warn("connection lost", zap.Error(err))

		// Bounded retry: only consecutive failed reopens consume the
		// bound; a successful reconnect resets it to zero.
		failures := 0
		for {
			b.setState(StateReconnecting)
			b.log.Info("reconnecting",
				zap.Int("attempt", failures+1),
				zap.Int("limit", b.cfg.ReconnectLimit))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.ReconnectDelay):
			}

			cerr := b.connect(ctx, b.cfg.RediscoveryWait)
			if cerr == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= b.cfg.ReconnectLimit {
				b.setState(StateFailed)
				b.log.Error("giving up after consecutive reconnect failures",
					zap.Int("attempts", failures), zap.Error(cerr))
				return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, cerr)
			}
		}
	}
}

// connect discovers and opens the transport. The settle delay after a
// successful open is mandatory: opening the link resets the far end and
// anything written before it finishes booting is lost.
func (b *Bridge) connect(ctx context.Context, discoveryWait time.Duration) error {
	b.setState(StateSearching)

	name := b.cfg.Port
	if name == "" || !PortExists(name) {
		name = WaitFor(ctx, b.device, discoveryWait)
		if name == "" {
			return ErrNoDevice
		}
	}

	b.setState(StateConnecting)
	b.log.Info("opening transport", zap.String("device", name))

	port, err := b.open(name, b.cfg.Baud, b.cfg.ReadTimeout)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case <-ctx.Done():
		port.Close()
		return ctx.Err()
	case <-time.After(b.cfg.SettleDelay):
	}

	b.mu.Lock()
	b.port = port
	b.device = name
	b.sawReady = false
	b.mu.Unlock()

	if b.cfg.AwaitReady {
		b.setState(StateAwaitingReady)
	} else {
		b.setState(StateStreaming)
	}
	return nil
}

func (b *Bridge) closePort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		b.port.Close()
		b.port = nil
	}
}

// stream reads newline-delimited records until ctx is cancelled (nil error)
// or the transport fails.
func (b *Bridge) stream(ctx context.Context) error {
	b.mu.Lock()
	port := b.port
	device := b.device
	b.mu.Unlock()

	lr := newLineReader(port)
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := lr.next()
		if err != nil {
			return fmt.Errorf("read %s: %w", device, err)
		}
		if line == "" {
			// Read timeout tick. Catch the device dropping off the bus
			// even when the driver keeps returning empty reads.
			if !PortExists(device) {
				return fmt.Errorf("device %s disappeared", device)
			}
			continue
		}

		b.dispatch(line)
	}
}

// dispatch routes one line. Decode failure is not fatal; the raw line is
// surfaced as diagnostics instead.
func (b *Bridge) dispatch(line string) {
	rec, ok := decodeRecord([]byte(line))
	if !ok {
		b.handler.Raw(line)
		return
	}

	switch {
	case rec.Status == "ready":
		b.mu.Lock()
		first := !b.sawReady
		b.sawReady = true
		b.mu.Unlock()
		if first {
			b.setState(StateStreaming)
			b.handler.Ready(rec.Device)
		}

	case rec.Event == "bill_accepted":
		ev := RemoteEvent{
			Channel:     rec.Channel,
			Value:       rec.Value,
			Width:       time.Duration(rec.PulseMs * float64(time.Millisecond)),
			TotalAmount: rec.TotalAmount,
			Time:        b.now(),
		}
		if rec.TotalBills != nil {
			ev.TotalBills = *rec.TotalBills
		}
		b.handler.Accepted(ev)

	case rec.Status == "ok":
		var stats *Stats
		if rec.TotalBills != nil {
			stats = &Stats{
				TotalBills:  *rec.TotalBills,
				TotalAmount: rec.TotalAmount,
				Channels:    rec.Channels,
			}
		}
		b.handler.Ack(rec.Msg, stats)

	default:
		// Structurally valid but unrecognized; surface verbatim.
		b.handler.Raw(line)
	}
}
