package store

import (
	"context"
	"fmt"
)

// Stats returns aggregate event and delivery counters.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'new'),
			COUNT(*) FILTER (WHERE status = 'dispatched'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'dead_letter')
		FROM events
	`).Scan(&st.TotalEvents, &st.NewEvents, &st.DispatchedEvents, &st.FailedEvents, &st.DeadLetterEvents)
	if err != nil {
		return nil, fmt.Errorf("querying event counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(AVG(duration_ms), 0)::float8
		FROM delivery_attempts
	`).Scan(&st.TotalAttempts, &st.SuccessfulAttempts, &st.FailedAttempts, &st.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM endpoints WHERE is_active = true
	`).Scan(&st.ActiveEndpoints)
	if err != nil {
		return nil, fmt.Errorf("querying active endpoints: %w", err)
	}

	st.computeRate()
	return &st, nil
}
