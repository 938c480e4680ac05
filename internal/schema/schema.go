package schema

// SchemaVersion is the current journal record schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event stored in a journal.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventRequest
	EventResult
)

// String returns a readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventRequest:
		return "Request"
	case EventResult:
		return "Result"
	default:
		return "Unknown"
	}
}

// EventHeader is the common metadata attached to every journal record.
type EventHeader struct {
	Type        EventType
	Version     uint16
	Source      uint16
	Flags       uint16
	Seq         uint64
	CreatedTime int64
	JournalTime int64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, seq uint64, createdTime, journalTime int64) EventHeader {
	return EventHeader{
		Type:        eventType,
		Version:     SchemaVersion,
		Seq:         seq,
		CreatedTime: createdTime,
		JournalTime: journalTime,
	}
}
