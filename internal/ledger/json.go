package ledger

import (
	"encoding/json"
	"time"
)

// SnapshotJSON is the wire representation of a ledger snapshot. The field
// names match the serial line protocol's statistics payload so both
// variants render the same shape.
type SnapshotJSON struct {
	TotalBills  int           `json:"total_bills"`
	TotalAmount int           `json:"total_amount"`
	Channels    []ChannelJSON `json:"channels"`
	Since       string        `json:"since,omitempty"`
	Timestamp   string        `json:"timestamp,omitempty"`
}

// ChannelJSON is one channel's breakdown within a snapshot.
type ChannelJSON struct {
	Channel int `json:"channel"`
	Value   int `json:"value"`
	Count   int `json:"count"`
}

// BuildSnapshotJSON converts a snapshot into its wire shape. Channel values
// come from the map's current assignment; a channel with no recorded events
// is included with count 0 so consumers always see the full set.
func BuildSnapshotJSON(snap Snapshot, values *ValueMap) SnapshotJSON {
	out := SnapshotJSON{
		TotalBills:  snap.TotalCount,
		TotalAmount: snap.TotalValue,
		Since:       snap.Since.UTC().Format(time.RFC3339),
		Timestamp:   snap.Now.UTC().Format(time.RFC3339),
	}
	for _, ch := range values.Channels() {
		v, _ := values.Value(ch)
		out.Channels = append(out.Channels, ChannelJSON{
			Channel: ch,
			Value:   v,
			Count:   snap.PerChannel[ch],
		})
	}
	return out
}

// FormatSnapshot returns the JSON snapshot payload.
func FormatSnapshot(snap Snapshot, values *ValueMap) []byte {
	data, _ := json.Marshal(BuildSnapshotJSON(snap, values))
	return data
}
