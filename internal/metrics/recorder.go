// Package metrics records gateway counters through an injected Recorder.
package metrics

import "time"

// Event outcomes for EventReceived.
const (
	OutcomeIngested  = "ingested"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeLimited   = "rate_limited"
	OutcomeError     = "error"
)

// OtherSource is the source label for sources absent from configuration.
// Source tags come from the request path, so they are not used as labels
// unless an operator configured them.
const OtherSource = "other"

// Delivery outcomes for DeliveryRecorded.
const (
	DeliverySucceeded  = "succeeded"
	DeliveryFailed     = "failed"
	DeliveryDeadLetter = "dead_letter"
)

// Recorder receives every observable gateway outcome.
type Recorder interface {
	EventReceived(outcome string)
	SignatureFailure(source string)
	IdempotentHit(source string)
	RateLimited(source string)
	// DeliveryRecorded is called once per stored attempt. statusCode is 0
	// when no response was received.
	DeliveryRecorded(outcome string, statusCode int, duration time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) EventReceived(string)                        {}
func (Nop) SignatureFailure(string)                     {}
func (Nop) IdempotentHit(string)                        {}
func (Nop) RateLimited(string)                          {}
func (Nop) DeliveryRecorded(string, int, time.Duration) {}
