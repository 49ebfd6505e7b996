package session

import (
	"fmt"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// EventType identifies what an Event reports.
type EventType int

const (
	// EventConnectionEstablished is emitted once when the session enters Connected.
	EventConnectionEstablished EventType = iota + 1

	// EventConnectionLost is emitted when a link fails to open or fails while
	// open. Err holds the *link.OpenError or *link.ReadError.
	EventConnectionLost

	// EventSampleDecoded carries one stamped sample, in arrival order.
	EventSampleDecoded

	// EventLogWriteFailed reports that a sample could not be written to the
	// session log. Ingestion continues.
	EventLogWriteFailed
)

var eventNames = map[EventType]string{
	EventConnectionEstablished: "connection_established",
	EventConnectionLost:        "connection_lost",
	EventSampleDecoded:         "sample",
	EventLogWriteFailed:        "log_write_failed",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is delivered to the host on the channel returned by Session.Events.
type Event struct {
	Type   EventType
	Sample telemetry.Sample // set for EventSampleDecoded
	Err    error            // set for EventConnectionLost and EventLogWriteFailed
}
