package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ratewatch/ratewatch/internal/core"
)

// AppendSample stores sample and prunes the API's history to maxSamples rows.
func (s *Store) AppendSample(ctx context.Context, sample core.UsageSample, maxSamples int) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := core.NormalizeName(sample.APIName)
	if key == "" {
		return errors.New("api name is required")
	}
	if strings.TrimSpace(sample.ID) == "" {
		sample.ID = uuid.NewString()
	}
	source := sample.Source
	if source == "" {
		source = core.SourceHeader
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sample insert: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_samples (id, api_key, api_name, remaining, rate_limit, sampled_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sample.ID, key, strings.TrimSpace(sample.APIName), sample.Remaining, sample.Limit, sample.SampledAt.UTC().Unix(), string(source)); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	if maxSamples > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM usage_samples
			WHERE api_key = ? AND seq NOT IN (
				SELECT seq FROM usage_samples WHERE api_key = ? ORDER BY seq DESC LIMIT ?
			)
		`, key, key, maxSamples); err != nil {
			return fmt.Errorf("prune samples: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sample insert: %w", err)
	}
	return nil
}

// ListSamples returns up to limit of the most recent samples, oldest first.
func (s *Store) ListSamples(ctx context.Context, apiName string, limit int) ([]core.UsageSample, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, api_name, remaining, rate_limit, sampled_at, source FROM (
			SELECT seq, id, api_name, remaining, rate_limit, sampled_at, source
			FROM usage_samples
			WHERE api_key = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, core.NormalizeName(apiName), limit)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []core.UsageSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return out, nil
}

// LatestSample returns the newest sample for an API, or nil.
func (s *Store) LatestSample(ctx context.Context, apiName string) (*core.UsageSample, error) {
	samples, err := s.ListSamples(ctx, apiName, 1)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return &samples[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (core.UsageSample, error) {
	var (
		sample    core.UsageSample
		sampledAt int64
		source    sql.NullString
	)
	if err := row.Scan(&sample.ID, &sample.APIName, &sample.Remaining, &sample.Limit, &sampledAt, &source); err != nil {
		return core.UsageSample{}, fmt.Errorf("scan sample: %w", err)
	}
	sample.SampledAt = time.Unix(sampledAt, 0).UTC()
	sample.Source = core.SampleSource(source.String)
	return sample, nil
}
