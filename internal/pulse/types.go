// Package pulse contains pure decoding logic for parallel-mode bill acceptor
// signals. This package has NO external dependencies (no GPIO, serial, OS, or
// time.Sleep). Time is always injectable via time.Time parameters.
package pulse

import (
	"fmt"
	"time"
)

// Outcome classifies a resolved pulse by its measured width.
type Outcome string

const (
	// Valid means the width fell inside [MinWidth, MaxWidth] and the pulse
	// represents an accepted note.
	Valid Outcome = "VALID"
	// TooShort means the width was below MinWidth (noise or partial insert).
	TooShort Outcome = "TOO_SHORT"
	// TooLong means the width exceeded MaxWidth but resolved before Timeout.
	TooLong Outcome = "TOO_LONG"
	// Timeout means the line never released within Timeout. This usually
	// indicates a stuck line or wiring fault and is reported separately
	// from TooLong.
	Timeout Outcome = "TIMEOUT"
)

// Pulse is a resolved measurement on one channel.
type Pulse struct {
	Channel int
	Width   time.Duration
	Outcome Outcome
}

// Config holds the decoding thresholds shared by all channels.
// The GPIO and voltage-divider wirings differ only in these constants,
// never in logic.
type Config struct {
	// DebounceWindow is the minimum gap after an accepted pulse ends
	// before a new falling edge on the same channel is treated as genuine.
	// Rejected pulses do not arm the window.
	DebounceWindow time.Duration
	// MinWidth and MaxWidth bound the widths accepted as Valid
	// (both boundaries inclusive).
	MinWidth time.Duration
	MaxWidth time.Duration
	// Timeout is the hard cap on one measurement. Must be >= MaxWidth.
	Timeout time.Duration
	// PollInterval is the target gap between samples while measuring.
	// The detector itself is sample-driven; this is consumed by the
	// sampling loop that feeds it.
	PollInterval time.Duration
}

// DefaultConfig matches the NV10 parallel-mode timings.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: 100 * time.Millisecond,
		MinWidth:       50 * time.Millisecond,
		MaxWidth:       500 * time.Millisecond,
		Timeout:        600 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
}

// Validate checks the threshold ordering.
func (c Config) Validate() error {
	if c.MinWidth <= 0 {
		return fmt.Errorf("min width must be positive, got %v", c.MinWidth)
	}
	if c.MaxWidth < c.MinWidth {
		return fmt.Errorf("max width %v below min width %v", c.MaxWidth, c.MinWidth)
	}
	if c.Timeout < c.MaxWidth {
		return fmt.Errorf("timeout %v below max width %v", c.Timeout, c.MaxWidth)
	}
	if c.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must not be negative, got %v", c.DebounceWindow)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// Sample is one observation of a channel line, already inverted from raw
// GPIO: Asserted=true means the line is held LOW by the acceptor.
type Sample struct {
	Asserted bool
	Time     time.Time
}
