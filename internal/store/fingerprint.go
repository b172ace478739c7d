package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/model"
)

type fingerprintStore struct {
	q db.Querier
}

func (s *fingerprintStore) GetLive(ctx context.Context, hash string, now time.Time) (*model.CandidateFingerprint, error) {
	var fp model.CandidateFingerprint
	err := s.q.QueryRow(ctx, `
		SELECT hash, candidate_id, hits, first_seen_at, last_seen_at, expires_at
		FROM candidate_fingerprints
		WHERE hash = $1 AND expires_at > $2
	`, hash, now).Scan(
		&fp.Hash,
		&fp.CandidateID,
		&fp.Hits,
		&fp.FirstSeenAt,
		&fp.LastSeenAt,
		&fp.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query fingerprint: %w", err)
	}
	return &fp, nil
}

func (s *fingerprintStore) RecordHit(ctx context.Context, hash string, seenAt time.Time) error {
	command, err := s.q.Exec(ctx, `
		UPDATE candidate_fingerprints
		SET hits = hits + 1, last_seen_at = $2
		WHERE hash = $1
	`, hash, seenAt)
	if err != nil {
		return fmt.Errorf("record fingerprint hit: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Register upserts the fingerprint row. An existing row for the same hash can
// only be an expired one (live matches take the RecordHit path instead), so
// the conflict branch starts the record over for the new candidate.
func (s *fingerprintStore) Register(ctx context.Context, fp *model.CandidateFingerprint) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO candidate_fingerprints (hash, candidate_id, hits, first_seen_at, last_seen_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (hash) DO UPDATE SET
			candidate_id  = EXCLUDED.candidate_id,
			hits          = EXCLUDED.hits,
			first_seen_at = EXCLUDED.first_seen_at,
			last_seen_at  = EXCLUDED.last_seen_at,
			expires_at    = EXCLUDED.expires_at
	`,
		fp.Hash,
		fp.CandidateID,
		fp.Hits,
		fp.FirstSeenAt,
		fp.LastSeenAt,
		fp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("register fingerprint: %w", err)
	}
	return nil
}

func (s *fingerprintStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	command, err := s.q.Exec(ctx, `DELETE FROM candidate_fingerprints WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge fingerprints: %w", err)
	}
	return command.RowsAffected(), nil
}
