// Package gpio provides GPIO input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader samples vend line levels on demand.
type Reader interface {
	// Level returns the logical state of one channel's line.
	// The raw GPIO values are inverted: the lines idle HIGH under
	// pull-ups, so raw 0 = asserted (note pulse in progress).
	Level(channel int) (asserted bool, err error)

	// Close releases GPIO resources.
	Close() error
}

// Default vend line pins (BCM numbering), keyed by channel.
var DefaultPins = map[int]int{
	1: 17,
	2: 27,
	3: 22,
	4: 23,
}
