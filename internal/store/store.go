// Package store persists events, endpoints and delivery attempts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAttempt is returned by AppendAttempt when the
	// (event, endpoint, try) triple already exists.
	ErrDuplicateAttempt = errors.New("duplicate delivery attempt")
)

// EventFilter narrows ListEvents. Page is 1-based.
type EventFilter struct {
	Source   string
	Status   domain.EventStatus
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Normalize clamps paging to sane values.
func (f EventFilter) Normalize() EventFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f EventFilter) offset() int {
	return (f.Page - 1) * f.PageSize
}

// Stats holds aggregate counters for the dashboard.
type Stats struct {
	TotalEvents        int     `json:"total_events"`
	NewEvents          int     `json:"new_events"`
	DispatchedEvents   int     `json:"dispatched_events"`
	FailedEvents       int     `json:"failed_events"`
	DeadLetterEvents   int     `json:"dead_letter_events"`
	TotalAttempts      int     `json:"total_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	FailedAttempts     int     `json:"failed_attempts"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
	ActiveEndpoints    int     `json:"active_endpoints"`
}

func (s *Stats) computeRate() {
	if s.TotalAttempts > 0 {
		s.SuccessRate = float64(s.SuccessfulAttempts) / float64(s.TotalAttempts) * 100
	}
}

// Store is implemented by PostgresStore and SQLiteStore.
type Store interface {
	// AppendEvent inserts e and sets e.Seq.
	AppendEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, f EventFilter) (events []domain.Event, total int, err error)
	// DueEvents returns up to limit events in status new or failed whose
	// next_attempt_at is unset or not after now, oldest first.
	DueEvents(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, nextAttemptAt *time.Time) error

	CreateEndpoint(ctx context.Context, req domain.CreateEndpointRequest) (*domain.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
	ListEndpoints(ctx context.Context, activeOnly bool) ([]domain.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id string, req domain.UpdateEndpointRequest) (*domain.Endpoint, error)

	AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error
	// LatestAttempts returns the highest-try attempt of every pair that
	// belongs to one of eventIDs.
	LatestAttempts(ctx context.Context, eventIDs []string) (map[domain.PairKey]domain.DeliveryAttempt, error)
	// LatestAttempt returns the highest-try attempt of one pair, or nil
	// when the pair was never attempted.
	LatestAttempt(ctx context.Context, eventID, endpointID string) (*domain.DeliveryAttempt, error)
	ListAttempts(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error)

	Stats(ctx context.Context) (*Stats, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
