package domain

import (
	"net/http"
	"time"
)

// SignatureStatus records how a stored payload was authenticated. Requests
// that fail verification are rejected before storage, so no stored event
// carries a failed status.
type SignatureStatus string

const (
	SignatureNone     SignatureStatus = "none"
	SignatureVerified SignatureStatus = "verified"
)

// EventStatus is the event-level projection of its delivery pairs.
type EventStatus string

const (
	EventNew        EventStatus = "new"
	EventDispatched EventStatus = "dispatched"
	EventFailed     EventStatus = "failed"
	EventDeadLetter EventStatus = "dead_letter"
)

// Event is an admitted inbound webhook call.
type Event struct {
	ID              string          `json:"id"`
	Seq             int64           `json:"-"`
	Source          string          `json:"source"`
	ReceivedAt      time.Time       `json:"received_at"`
	Headers         http.Header     `json:"headers"`
	Payload         []byte          `json:"-"`
	SignatureStatus SignatureStatus `json:"signature_status"`
	Status          EventStatus     `json:"status"`
	NextAttemptAt   *time.Time      `json:"next_attempt_at,omitempty"`
}

// ContentType returns the content type the event was received with.
func (e *Event) ContentType() string {
	if ct := e.Headers.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}
