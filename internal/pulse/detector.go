package pulse

import "time"

// Detector turns a stream of level samples for one channel into resolved
// pulses. It owns the channel's debounce state and must only be fed from a
// single goroutine; cross-channel state is never shared.
type Detector struct {
	cfg     Config
	channel int

	lastLevel    bool // asserted state of the previous sample
	primed       bool // first sample taken, lastLevel meaningful
	measuring    bool
	start        time.Time // start of the in-flight candidate
	lastPulseEnd time.Time
	hasPulseEnd  bool
}

// NewDetector creates a detector for one channel.
func NewDetector(channel int, cfg Config) *Detector {
	return &Detector{cfg: cfg, channel: channel}
}

// Channel returns the channel this detector watches.
func (d *Detector) Channel() int {
	return d.channel
}

// Measuring reports whether a candidate pulse is currently in flight.
func (d *Detector) Measuring() bool {
	return d.measuring
}

// Process consumes one sample and returns the resolved pulse, if this sample
// completed one. The very first sample only establishes the baseline level;
// an edge is never derived from it.
//
// A falling edge inside the debounce window of the previous accepted
// pulse's end is dropped without touching any in-flight measurement.
func (d *Detector) Process(s Sample) *Pulse {
	defer func() { d.lastLevel = s.Asserted }()

	if !d.primed {
		d.primed = true
		return nil
	}

	if d.measuring {
		return d.resolve(s)
	}

	// Falling edge: previously released, now asserted.
	if s.Asserted && !d.lastLevel {
		if d.hasPulseEnd && s.Time.Sub(d.lastPulseEnd) < d.cfg.DebounceWindow {
			// Bounce from the previous pulse.
			return nil
		}
		d.measuring = true
		d.start = s.Time
	}
	return nil
}

// resolve advances an in-flight measurement. The candidate ends when the
// line releases or the elapsed time reaches Timeout, whichever comes first.
func (d *Detector) resolve(s Sample) *Pulse {
	elapsed := s.Time.Sub(d.start)

	if s.Asserted && elapsed < d.cfg.Timeout {
		// Still held, still inside budget.
		return nil
	}

	d.measuring = false

	outcome := d.classify(elapsed)
	// Only an accepted pulse arms the debounce window; after a rejected
	// blip the next edge measures immediately.
	if outcome == Valid {
		d.lastPulseEnd = s.Time
		d.hasPulseEnd = true
	}

	return &Pulse{
		Channel: d.channel,
		Width:   elapsed,
		Outcome: outcome,
	}
}

func (d *Detector) classify(width time.Duration) Outcome {
	switch {
	case width >= d.cfg.Timeout:
		return Timeout
	case width < d.cfg.MinWidth:
		return TooShort
	case width <= d.cfg.MaxWidth:
		return Valid
	default:
		return TooLong
	}
}
