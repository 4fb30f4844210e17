//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads vend lines from actual hardware using the Linux GPIO
// character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealReader requests all configured vend line pins as inputs with
// pull-ups. The acceptor drives the lines LOW during a pulse, so the idle
// state must read HIGH; pull-ups keep disconnected inputs from floating.
func NewRealReader(pins map[int]int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealReader{chip: chip, lines: make(map[int]*gpiocdev.Line, len(pins))}
	for channel, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request channel %d pin %d: %w", channel, pin, err)
		}
		r.lines[channel] = line
	}
	return r, nil
}

// Level returns the logical state of one channel's line.
// Inverts raw GPIO: raw 0 (pulled LOW by the acceptor) = asserted.
func (r *RealReader) Level(channel int) (bool, error) {
	line, ok := r.lines[channel]
	if !ok {
		return false, fmt.Errorf("no line for channel %d", channel)
	}
	raw, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read channel %d: %w", channel, err)
	}
	return raw == 0, nil
}

// Close releases GPIO resources. Lines are reconfigured back to plain
// inputs before closing so the pins are in a known state for the next
// process that claims them.
func (r *RealReader) Close() error {
	var errs []error

	for channel, line := range r.lines {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure channel %d: %w", channel, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d: %w", channel, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
