package bridge

import (
	"encoding/json"
	"time"
)

// Record is one structured line from the secondary controller. Every field
// is optional on the wire; TotalBills is a pointer so a plain
// acknowledgement can be told apart from one carrying statistics.
type Record struct {
	Status      string        `json:"status,omitempty"`
	Event       string        `json:"event,omitempty"`
	Device      string        `json:"device,omitempty"`
	Channel     int           `json:"channel,omitempty"`
	Value       int           `json:"value,omitempty"`
	PulseMs     float64       `json:"pulse_ms,omitempty"`
	TotalBills  *int          `json:"total_bills,omitempty"`
	TotalAmount int           `json:"total_amount,omitempty"`
	Channels    []ChannelStat `json:"channels,omitempty"`
	Msg         string        `json:"msg,omitempty"`
}

// ChannelStat is one channel's entry in a statistics payload.
type ChannelStat struct {
	Channel int `json:"channel"`
	Value   int `json:"value"`
	Count   int `json:"count"`
}

// RemoteEvent is a bill-accepted report decoded from the stream. The
// remote's running totals ride along and are authoritative for this
// report; the bridge does not re-derive them.
type RemoteEvent struct {
	Channel     int
	Value       int
	Width       time.Duration
	TotalBills  int
	TotalAmount int
	Time        time.Time
}

// Stats is an embedded statistics payload from an acknowledgement.
type Stats struct {
	TotalBills  int
	TotalAmount int
	Channels    []ChannelStat
}

// decodeRecord attempts a structured decode of one line. Failure is not
// fatal; the caller surfaces the raw line instead.
func decodeRecord(line []byte) (Record, bool) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}
