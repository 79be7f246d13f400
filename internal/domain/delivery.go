package domain

import (
	"time"
)

// MaxResponseBodyBytes bounds the stored response body of an attempt.
const MaxResponseBodyBytes = 10000

// DeliveryAttempt is one row of the append-only audit trail for an
// (event, endpoint) pair. Try is 1-based and unique per pair.
type DeliveryAttempt struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	EndpointID    string     `json:"endpoint_id"`
	Try           int        `json:"try"`
	SentAt        time.Time  `json:"sent_at"`
	ResponseCode  *int       `json:"response_code,omitempty"`
	ResponseBody  *string    `json:"response_body,omitempty"`
	Success       bool       `json:"success"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
}

// PairKey identifies an (event, endpoint) delivery pair.
type PairKey struct {
	EventID    string
	EndpointID string
}

func (a *DeliveryAttempt) Pair() PairKey {
	return PairKey{EventID: a.EventID, EndpointID: a.EndpointID}
}
