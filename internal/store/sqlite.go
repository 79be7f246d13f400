package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

// SQLiteStore is a single-file Store for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection serialises writers; every query drains its rows
	// before the next one starts
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, "sqlite", s)
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (s *SQLiteStore) migrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
	).Scan(&exists)
	return exists, err
}

func (s *SQLiteStore) applyMigration(ctx context.Context, version, sqlText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func isSQLiteUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

type scanner interface {
	Scan(dest ...any) error
}

// --- Events ---

const sqliteEventColumns = `id, seq, source, received_at, headers, payload, signature_status, status, next_attempt_at`

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *domain.Event) error {
	headers, err := marshalHeaders(e.Headers)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, source, received_at, headers, payload, signature_status, status, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Source, e.ReceivedAt.UTC(), string(headers), e.Payload,
		string(e.SignatureStatus), string(e.Status), utcPtr(e.NextAttemptAt))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event seq: %w", err)
	}
	e.Seq = seq
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteEventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, int, error) {
	f = f.Normalize()

	conditions := []string{}
	args := []any{}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(f.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	args = append(args, f.PageSize, f.offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM events`+where+` ORDER BY received_at DESC, seq DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying events: %w", err)
	}

	events, err := collectSQLiteEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *SQLiteStore) DueEvents(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteEventColumns+` FROM events
		WHERE status IN ('new', 'failed')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY seq
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due events: %w", err)
	}
	return collectSQLiteEvents(rows)
}

func (s *SQLiteStore) UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, nextAttemptAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, next_attempt_at = ? WHERE id = ?`,
		string(status), utcPtr(nextAttemptAt), id,
	)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteEvent(row scanner) (*domain.Event, error) {
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

func collectSQLiteEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
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

// --- Endpoints ---

const sqliteEndpointColumns = `id, url, COALESCE(secret, ''), is_active, rate_limit_per_minute, created_at, updated_at`

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, req domain.CreateEndpointRequest) (*domain.Endpoint, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	var secret *string
	if req.Secret != "" {
		secret = &req.Secret
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoints (id, url, secret, is_active, rate_limit_per_minute, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
	`, id, req.URL, secret, req.RateLimitPerMinute, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting endpoint: %w", err)
	}
	return s.GetEndpoint(ctx, id)
}

func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteEndpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := scanSQLiteEndpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	return ep, nil
}

func (s *SQLiteStore) ListEndpoints(ctx context.Context, activeOnly bool) ([]domain.Endpoint, error) {
	query := `SELECT ` + sqliteEndpointColumns + ` FROM endpoints`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []domain.Endpoint{}
	for rows.Next() {
		ep, err := scanSQLiteEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStore) UpdateEndpoint(ctx context.Context, id string, req domain.UpdateEndpointRequest) (*domain.Endpoint, error) {
	setClauses := []string{}
	args := []any{}

	if req.URL != nil {
		setClauses = append(setClauses, "url = ?")
		args = append(args, *req.URL)
	}
	if req.Secret != nil {
		setClauses = append(setClauses, "secret = NULLIF(?, '')")
		args = append(args, *req.Secret)
	}
	if req.IsActive != nil {
		setClauses = append(setClauses, "is_active = ?")
		args = append(args, *req.IsActive)
	}
	if req.RateLimitPerMinute != nil {
		setClauses = append(setClauses, "rate_limit_per_minute = NULLIF(?, 0)")
		args = append(args, *req.RateLimitPerMinute)
	}

	if len(setClauses) == 0 {
		return s.GetEndpoint(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetEndpoint(ctx, id)
}

func scanSQLiteEndpoint(row scanner) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	err := row.Scan(
		&ep.ID, &ep.URL, &ep.Secret, &ep.IsActive,
		&ep.RateLimitPerMinute, &ep.CreatedAt, &ep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// --- Delivery attempts ---

const sqliteAttemptColumns = `id, event_id, endpoint_id, try, sent_at, response_code, response_body, success, next_attempt_at, duration_ms`

func (s *SQLiteStore) AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (`+sqliteAttemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EventID, a.EndpointID, a.Try, a.SentAt.UTC(), a.ResponseCode, a.ResponseBody,
		a.Success, utcPtr(a.NextAttemptAt), a.DurationMs)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestAttempts(ctx context.Context, eventIDs []string) (map[domain.PairKey]domain.DeliveryAttempt, error) {
	latest := make(map[domain.PairKey]domain.DeliveryAttempt)
	if len(eventIDs) == 0 {
		return latest, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAttemptColumns+`
		FROM delivery_attempts a
		WHERE a.event_id IN (`+placeholders+`)
		  AND a.try = (
			SELECT MAX(b.try) FROM delivery_attempts b
			WHERE b.event_id = a.event_id AND b.endpoint_id = a.endpoint_id
		  )
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying latest attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanSQLiteAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		latest[a.Pair()] = *a
	}
	return latest, rows.Err()
}

func (s *SQLiteStore) LatestAttempt(ctx context.Context, eventID, endpointID string) (*domain.DeliveryAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteAttemptColumns+`
		FROM delivery_attempts
		WHERE event_id = ? AND endpoint_id = ?
		ORDER BY try DESC
		LIMIT 1
	`, eventID, endpointID)
	a, err := scanSQLiteAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying latest attempt: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAttemptColumns+`
		FROM delivery_attempts
		WHERE event_id = ?
		ORDER BY sent_at, endpoint_id, try
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		a, err := scanSQLiteAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

func scanSQLiteAttempt(row scanner) (*domain.DeliveryAttempt, error) {
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

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'new' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'dispatched' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'dead_letter' THEN 1 ELSE 0 END), 0)
		FROM events
	`).Scan(&st.TotalEvents, &st.NewEvents, &st.DispatchedEvents, &st.FailedEvents, &st.DeadLetterEvents)
	if err != nil {
		return nil, fmt.Errorf("querying event counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0.0)
		FROM delivery_attempts
	`).Scan(&st.TotalAttempts, &st.SuccessfulAttempts, &st.FailedAttempts, &st.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM endpoints WHERE is_active = 1`,
	).Scan(&st.ActiveEndpoints)
	if err != nil {
		return nil, fmt.Errorf("querying active endpoints: %w", err)
	}

	st.computeRate()
	return &st, nil
}
