package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ratewatch/ratewatch/internal/core"
)

// GetAlertState returns the stored state for an API, or nil when none exists.
func (s *Store) GetAlertState(ctx context.Context, apiName string) (*core.AlertState, error) {
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
		isAlerting  int
		lastAlertAt sql.NullInt64
		lastUsage   float64
		updatedAt   int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT is_alerting, last_alert_at, last_usage_percent, updated_at
		FROM alert_states
		WHERE api_key = ?
	`, key)
	if err := row.Scan(&isAlerting, &lastAlertAt, &lastUsage, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch alert state: %w", err)
	}

	return &core.AlertState{
		IsAlerting:       isAlerting != 0,
		LastAlertAt:      unixPtr(lastAlertAt),
		LastUsagePercent: lastUsage,
		UpdatedAt:        time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// SaveAlertState upserts the state for an API.
func (s *Store) SaveAlertState(ctx context.Context, apiName string, state core.AlertState) error {
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

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO alert_states (api_key, api_name, is_alerting, last_alert_at, last_usage_percent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(api_key) DO UPDATE SET
			api_name = excluded.api_name,
			is_alerting = excluded.is_alerting,
			last_alert_at = excluded.last_alert_at,
			last_usage_percent = excluded.last_usage_percent,
			updated_at = excluded.updated_at
	`, key, strings.TrimSpace(apiName), boolToInt(state.IsAlerting), nullUnix(state.LastAlertAt), state.LastUsagePercent, updatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store alert state: %w", err)
	}
	return nil
}

// ListAlertStates returns every stored state keyed by normalized API name.
func (s *Store) ListAlertStates(ctx context.Context) (map[string]core.AlertState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT api_key, is_alerting, last_alert_at, last_usage_percent, updated_at
		FROM alert_states
	`)
	if err != nil {
		return nil, fmt.Errorf("list alert states: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	out := make(map[string]core.AlertState)
	for rows.Next() {
		var (
			key         string
			isAlerting  int
			lastAlertAt sql.NullInt64
			lastUsage   float64
			updatedAt   int64
		)
		if err := rows.Scan(&key, &isAlerting, &lastAlertAt, &lastUsage, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan alert state: %w", err)
		}
		out[key] = core.AlertState{
			IsAlerting:       isAlerting != 0,
			LastAlertAt:      unixPtr(lastAlertAt),
			LastUsagePercent: lastUsage,
			UpdatedAt:        time.Unix(updatedAt, 0).UTC(),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alert states: %w", err)
	}
	return out, nil
}

// ResetAlertState deletes the state for one API.
func (s *Store) ResetAlertState(ctx context.Context, apiName string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM alert_states WHERE api_key = ?`, core.NormalizeName(apiName)); err != nil {
		return fmt.Errorf("reset alert state: %w", err)
	}
	return nil
}

// ResetAllAlertStates deletes every stored state and returns the count removed.
func (s *Store) ResetAllAlertStates(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM alert_states`)
	if err != nil {
		return 0, fmt.Errorf("reset alert states: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset alert states: %w", err)
	}
	return int(affected), nil
}

// ForgetAPI removes the alert state, sample history and backoff of one API.
func (s *Store) ForgetAPI(ctx context.Context, apiName string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := core.NormalizeName(apiName)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("forget api: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, table := range []string{"alert_states", "usage_samples", "api_backoff"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE api_key = ?", table), key); err != nil {
			return fmt.Errorf("forget api %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("forget api: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
