package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/webhook-inbox/internal/domain"
)

const pgEndpointColumns = `id, url, COALESCE(secret, ''), is_active, rate_limit_per_minute, created_at, updated_at`

func (s *PostgresStore) CreateEndpoint(ctx context.Context, req domain.CreateEndpointRequest) (*domain.Endpoint, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO endpoints (id, url, secret, rate_limit_per_minute, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $5)
		RETURNING `+pgEndpointColumns,
		uuid.NewString(), req.URL, req.Secret, req.RateLimitPerMinute, now,
	)
	ep, err := scanPgEndpoint(row)
	if err != nil {
		return nil, fmt.Errorf("inserting endpoint: %w", err)
	}
	return ep, nil
}

func (s *PostgresStore) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgEndpointColumns+` FROM endpoints WHERE id = $1`, id)
	ep, err := scanPgEndpoint(row)
	if err != nil {
		if pgNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	return ep, nil
}

func (s *PostgresStore) ListEndpoints(ctx context.Context, activeOnly bool) ([]domain.Endpoint, error) {
	query := `SELECT ` + pgEndpointColumns + ` FROM endpoints`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []domain.Endpoint{}
	for rows.Next() {
		ep, err := scanPgEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *PostgresStore) UpdateEndpoint(ctx context.Context, id string, req domain.UpdateEndpointRequest) (*domain.Endpoint, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.URL != nil {
		setClauses = append(setClauses, fmt.Sprintf("url = $%d", argIdx))
		args = append(args, *req.URL)
		argIdx++
	}
	if req.Secret != nil {
		setClauses = append(setClauses, fmt.Sprintf("secret = NULLIF($%d, '')", argIdx))
		args = append(args, *req.Secret)
		argIdx++
	}
	if req.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *req.IsActive)
		argIdx++
	}
	if req.RateLimitPerMinute != nil {
		// zero clears the override
		setClauses = append(setClauses, fmt.Sprintf("rate_limit_per_minute = NULLIF($%d, 0)", argIdx))
		args = append(args, *req.RateLimitPerMinute)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetEndpoint(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE endpoints SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, pgEndpointColumns)
	args = append(args, id)

	ep, err := scanPgEndpoint(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if pgNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating endpoint: %w", err)
	}
	return ep, nil
}

func scanPgEndpoint(row pgx.Row) (*domain.Endpoint, error) {
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
