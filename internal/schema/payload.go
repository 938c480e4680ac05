package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"poscheck/pkg/exception"
)

var (
	clockBase = time.Now()
	wallBase  = clockBase.UnixNano()
)

// Nanotime returns a monotonic nanosecond timestamp anchored to the process start wall clock.
func Nanotime() int64 {
	return wallBase + int64(time.Since(clockBase))
}

// Payload is the unit of work carried through a pipeline.
type Payload struct {
	PayloadType string `json:"payloadType"`
	Payload     string `json:"payload"`
	UID         string `json:"uid"`
	CreatedTime int64  `json:"createdTime"`
}

// NewPayload builds a payload with a fresh unique id and creation timestamp.
func NewPayload(payloadType, payload string) Payload {
	return Payload{
		PayloadType: payloadType,
		Payload:     payload,
		UID:         uuid.NewString(),
		CreatedTime: Nanotime(),
	}
}

// ParseText converts the external "type=value" text form into a payload.
// Trailing empty fields are dropped before counting, so "CHECK=" is rejected and "CHECK=k:1="
// is accepted. Text that does not leave exactly two fields is rejected.
func ParseText(text string) (Payload, error) {
	fields := strings.Split(strings.TrimSpace(text), "=")
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) != 2 {
		return Payload{}, exception.ErrMalformedMessage
	}
	return NewPayload(fields[0], fields[1]), nil
}

// Text renders the payload back into the external "type=value" form.
func (p Payload) Text() string {
	return p.PayloadType + "=" + p.Payload
}

// Event is the reusable ring buffer slot.
// Seq is the journal-continuous sequence assigned when the slot is published.
type Event struct {
	Seq uint64
	Payload
}

// Set overwrites the slot content in place.
func (e *Event) Set(seq uint64, p Payload) {
	e.Seq = seq
	e.PayloadType = p.PayloadType
	e.Payload.Payload = p.Payload
	e.UID = p.UID
	e.CreatedTime = p.CreatedTime
}
