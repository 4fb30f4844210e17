package bridge

import (
	"context"
	"fmt"
	"time"
)

// devicePatterns are the USB-serial node name patterns scanned during
// discovery. CDC-ACM covers Arduino-style boards; ttyUSB covers CH340,
// CP2102 and FTDI adapters.
var devicePatterns = []string{"/dev/ttyACM%d", "/dev/ttyUSB%d"}

// Find returns the first present candidate device, or "" when none exists.
// A previously used device is preferred so reconnection lands on the same
// node when it reappears.
func Find(preferred string) string {
	if preferred != "" && PortExists(preferred) {
		return preferred
	}
	for _, pattern := range devicePatterns {
		for i := 0; i < 10; i++ {
			name := fmt.Sprintf(pattern, i)
			if PortExists(name) {
				return name
			}
		}
	}
	return ""
}

// WaitFor polls for a candidate device until one appears, maxWait elapses,
// or ctx is cancelled. The far end re-enumerates after its own reset, so a
// bounded wait here covers the gap.
func WaitFor(ctx context.Context, preferred string, maxWait time.Duration) string {
	deadline := time.Now().Add(maxWait)
	for {
		if name := Find(preferred); name != "" {
			return name
		}
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(time.Second):
		}
	}
}
