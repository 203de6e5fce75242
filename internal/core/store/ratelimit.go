package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ratewatch/ratewatch/internal/core"
)

// GetRateLimit returns stored backoff state for an API.
func (s *Store) GetRateLimit(ctx context.Context, apiName string) (*core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := core.NormalizeName(apiName)
	if key == "" {
		return nil, errors.New("api name is required")
	}

	var (
		consecutive  int
		backoffUntil sql.NullInt64
		last429At    sql.NullInt64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT consecutive, backoff_until, last_429_at
		FROM api_backoff
		WHERE api_key = ?
	`, key)

	if err := row.Scan(&consecutive, &backoffUntil, &last429At); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch poll backoff: %w", err)
	}

	state := &core.RateLimitState{
		Consecutive:  consecutive,
		BackoffUntil: unixPtr(backoffUntil),
		Last429At:    unixPtr(last429At),
	}
	return state, nil
}

// UpdateRateLimit persists backoff state for an API.
func (s *Store) UpdateRateLimit(ctx context.Context, apiName string, state *core.RateLimitState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := core.NormalizeName(apiName)
	if key == "" {
		return errors.New("api name is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO api_backoff (api_key, consecutive, backoff_until, last_429_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(api_key) DO UPDATE SET
			consecutive = excluded.consecutive,
			backoff_until = excluded.backoff_until,
			last_429_at = excluded.last_429_at
	`, key, state.Consecutive, nullUnix(state.BackoffUntil), nullUnix(state.Last429At))
	if err != nil {
		return fmt.Errorf("store poll backoff: %w", err)
	}

	return nil
}

// BackoffEntry is one row of api_backoff.
type BackoffEntry struct {
	API          string     `json:"api"`
	Consecutive  int        `json:"consecutive"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	Last429At    *time.Time `json:"last_429_at,omitempty"`
}

// ListBackoffs returns APIs still inside a backoff window at now.
func (s *Store) ListBackoffs(ctx context.Context, now time.Time) ([]BackoffEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT api_key, consecutive, backoff_until, last_429_at
		FROM api_backoff
		WHERE backoff_until IS NOT NULL AND backoff_until > ?
		ORDER BY api_key
	`, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list poll backoff: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []BackoffEntry
	for rows.Next() {
		var (
			entry        BackoffEntry
			backoffUntil sql.NullInt64
			last429At    sql.NullInt64
		)
		if err := rows.Scan(&entry.API, &entry.Consecutive, &backoffUntil, &last429At); err != nil {
			return nil, fmt.Errorf("scan poll backoff: %w", err)
		}
		entry.BackoffUntil = unixPtr(backoffUntil)
		entry.Last429At = unixPtr(last429At)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list poll backoff: %w", err)
	}
	return out, nil
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	value := time.Unix(v.Int64, 0).UTC()
	return &value
}
