package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

const pgAttemptColumns = `id, event_id, endpoint_id, try, sent_at, response_code, response_body, success, next_attempt_at, duration_ms`

// AppendAttempt inserts a delivery attempt. A second attempt with the same
// (event, endpoint, try) fails with ErrDuplicateAttempt.
func (s *PostgresStore) AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (`+pgAttemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.EventID, a.EndpointID, a.Try, a.SentAt.UTC(), a.ResponseCode, a.ResponseBody,
		a.Success, utcPtr(a.NextAttemptAt), a.DurationMs)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestAttempts(ctx context.Context, eventIDs []string) (map[domain.PairKey]domain.DeliveryAttempt, error) {
	latest := make(map[domain.PairKey]domain.DeliveryAttempt)
	if len(eventIDs) == 0 {
		return latest, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (event_id, endpoint_id) `+pgAttemptColumns+`
		FROM delivery_attempts
		WHERE event_id = ANY($1::uuid[])
		ORDER BY event_id, endpoint_id, try DESC
	`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("querying latest attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanPgAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		latest[a.Pair()] = *a
	}
	return latest, rows.Err()
}

func (s *PostgresStore) LatestAttempt(ctx context.Context, eventID, endpointID string) (*domain.DeliveryAttempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgAttemptColumns+`
		FROM delivery_attempts
		WHERE event_id = $1 AND endpoint_id = $2
		ORDER BY try DESC
		LIMIT 1
	`, eventID, endpointID)
	a, err := scanPgAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying latest attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgAttemptColumns+`
		FROM delivery_attempts
		WHERE event_id = $1
		ORDER BY sent_at, endpoint_id, try
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		a, err := scanPgAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

func scanPgAttempt(row pgx.Row) (*domain.DeliveryAttempt, error) {
	var a domain.DeliveryAttempt
	err := row.Scan(
		&a.ID, &a.EventID, &a.EndpointID, &a.Try, &a.SentAt,
		&a.ResponseCode, &a.ResponseBody, &a.Success, &a.NextAttemptAt, &a.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
