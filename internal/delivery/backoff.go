package delivery

import (
	"time"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

// DefaultSchedule is used when no backoff is configured.
var DefaultSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

const DefaultMaxAttempts = 6

// RetryPolicy decides when a failed pair is tried again.
type RetryPolicy struct {
	Schedule    []time.Duration
	MaxAttempts int
}

// Exhausted reports whether no further attempt is allowed after failed try n.
func (p RetryPolicy) Exhausted(try int) bool {
	return try > len(p.Schedule) || try >= p.MaxAttempts
}

// NextAttempt returns the retry time after failed try n, or nil when the
// pair is exhausted.
func (p RetryPolicy) NextAttempt(try int, now time.Time) *time.Time {
	if p.Exhausted(try) {
		return nil
	}
	next := now.Add(p.Schedule[try-1]).UTC()
	return &next
}

// IsSuccess reports whether an HTTP status counts as delivered.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299
}

// PairState is the derived state of one (event, endpoint) pair.
type PairState int

const (
	PairDue PairState = iota
	PairWaiting
	PairDelivered
	PairDeadLettered
)

func (s PairState) String() string {
	switch s {
	case PairDue:
		return "due"
	case PairWaiting:
		return "waiting"
	case PairDelivered:
		return "delivered"
	case PairDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Classify derives the pair state from its latest attempt. It also returns
// the try number the next attempt would carry.
func (p RetryPolicy) Classify(last *domain.DeliveryAttempt, now time.Time) (PairState, int) {
	if last == nil {
		return PairDue, 1
	}
	next := last.Try + 1
	switch {
	case last.Success:
		return PairDelivered, next
	case last.NextAttemptAt != nil:
		if !last.NextAttemptAt.After(now) {
			return PairDue, next
		}
		return PairWaiting, next
	case p.Exhausted(last.Try):
		return PairDeadLettered, next
	default:
		return PairDue, next
	}
}

// pairOutcome is the post-batch view of one pair used to aggregate the
// event status.
type pairOutcome struct {
	state     PairState
	next      *time.Time
	attempted bool
}

// aggregateStatus projects pair states onto the event. An event none of
// whose pairs has an attempt stays new. The returned time is the earliest
// pending retry, or nil when a pending pair is due now.
func aggregateStatus(pairs []pairOutcome) (domain.EventStatus, *time.Time) {
	attempted := false
	delivered, dead := 0, 0
	dueNow := false
	var earliest *time.Time
	for _, p := range pairs {
		attempted = attempted || p.attempted
		switch p.state {
		case PairDelivered:
			delivered++
		case PairDeadLettered:
			dead++
		default:
			if p.next == nil {
				dueNow = true
			} else if earliest == nil || p.next.Before(*earliest) {
				t := *p.next
				earliest = &t
			}
		}
	}
	if dueNow {
		earliest = nil
	}

	switch {
	case !attempted:
		return domain.EventNew, earliest
	case delivered == len(pairs):
		return domain.EventDispatched, nil
	case delivered+dead == len(pairs):
		return domain.EventDeadLetter, nil
	default:
		return domain.EventFailed, earliest
	}
}
