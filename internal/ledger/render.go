package ledger

import (
	"fmt"
	"strings"
)

// historyRenderLimit bounds how many recent notes a snapshot rendering
// shows.
const historyRenderLimit = 10

// RenderText formats a snapshot for the operator console: totals, per-note
// average, active channel breakdown, and the most recent notes newest
// first.
func RenderText(snap Snapshot, values *ValueMap) string {
	var b strings.Builder

	fmt.Fprintf(&b, "session totals: %d notes, %d units\n", snap.TotalCount, snap.TotalValue)
	if snap.TotalCount > 0 {
		fmt.Fprintf(&b, "  average per note: %.2f units\n",
			float64(snap.TotalValue)/float64(snap.TotalCount))
	}
	for _, ch := range values.Channels() {
		count := snap.PerChannel[ch]
		if count == 0 {
			continue
		}
		v, _ := values.Value(ch)
		fmt.Fprintf(&b, "  channel %d (%d units): %d notes = %d units\n", ch, v, count, count*v)
	}
	if len(snap.History) > 0 {
		fmt.Fprintf(&b, "  recent notes:\n")
		oldest := len(snap.History) - historyRenderLimit
		if oldest < 0 {
			oldest = 0
		}
		for i := len(snap.History) - 1; i >= oldest; i-- {
			ev := snap.History[i]
			fmt.Fprintf(&b, "    [%s] channel %d: %d units\n",
				ev.Time.Format("15:04:05"), ev.Channel, ev.Value)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderAccepted formats one accepted note for the operator console.
func RenderAccepted(ev AcceptedEvent) string {
	return fmt.Sprintf("note accepted: channel %d, value %d, pulse %.0f ms",
		ev.Channel, ev.Value, float64(ev.Width.Milliseconds()))
}
