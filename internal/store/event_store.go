package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

const pgEventColumns = `id, seq, source, received_at, headers, payload, signature_status, status, next_attempt_at`

func (s *PostgresStore) AppendEvent(ctx context.Context, e *domain.Event) error {
	headers, err := marshalHeaders(e.Headers)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO events (id, source, received_at, headers, payload, signature_status, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`, e.ID, e.Source, e.ReceivedAt.UTC(), string(headers), e.Payload,
		string(e.SignatureStatus), string(e.Status), utcPtr(e.NextAttemptAt),
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgEventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanPgEvent(row)
	if err != nil {
		if pgNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, int, error) {
	f = f.Normalize()

	conditions := []string{}
	args := []interface{}{}
	argIdx := 1

	if f.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, f.Source)
		argIdx++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(f.Status))
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY received_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		pgEventColumns, where, argIdx, argIdx+1)
	args = append(args, f.PageSize, f.offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events, err := collectPgEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *PostgresStore) DueEvents(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgEventColumns+` FROM events
		WHERE status IN ('new', 'failed')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY seq
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due events: %w", err)
	}
	defer rows.Close()

	return collectPgEvents(rows)
}

func (s *PostgresStore) UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, nextAttemptAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET status = $2, next_attempt_at = $3 WHERE id = $1
	`, id, string(status), utcPtr(nextAttemptAt))
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var headers []byte
	var sigStatus, status string
	err := row.Scan(
		&e.ID, &e.Seq, &e.Source, &e.ReceivedAt, &headers, &e.Payload,
		&sigStatus, &status, &e.NextAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	e.SignatureStatus = domain.SignatureStatus(sigStatus)
	e.Status = domain.EventStatus(status)
	if e.Headers, err = unmarshalHeaders(headers); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectPgEvents(rows pgx.Rows) ([]domain.Event, error) {
	events := []domain.Event{}
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func marshalHeaders(h http.Header) ([]byte, error) {
	if h == nil {
		h = http.Header{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encoding headers: %w", err)
	}
	return b, nil
}

func unmarshalHeaders(b []byte) (http.Header, error) {
	h := http.Header{}
	if len(b) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}
	return h, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
