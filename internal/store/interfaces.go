package store

import (
	"context"
	"errors"
	"time"

	"alphaforge.app/scout/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// JobStore defines the contract for research job data access
type JobStore interface {
	Create(ctx context.Context, job *model.ResearchJob) error
	GetByID(ctx context.Context, id int64) (*model.ResearchJob, error)
	List(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error)

	// ListRunnable returns QUEUED jobs eligible to start (scheduledFor at or
	// before now), ordered by priority descending then age ascending.
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]model.ResearchJob, error)

	// OldestDeferred returns the oldest DEFERRED job for a mode, or ErrNotFound.
	OldestDeferred(ctx context.Context, mode model.Mode) (*model.ResearchJob, error)

	// ClaimQueued transitions a job QUEUED -> RUNNING. Returns false when the
	// job was not in QUEUED state, so concurrent claimers cannot double-start it.
	ClaimQueued(ctx context.Context, id int64, startedAt time.Time) (bool, error)

	// Promote transitions a job DEFERRED -> QUEUED.
	Promote(ctx context.Context, id int64, scheduledFor time.Time) error

	// Requeue transitions a job RUNNING -> QUEUED after a retryable failure.
	Requeue(ctx context.Context, id int64, retryCount int, scheduledFor time.Time) error

	MarkCompleted(ctx context.Context, id int64, retryCount int, result *model.ResultSummary, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, finishedAt time.Time) error

	CountActive(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

// JobFilter narrows List results. Nil fields match everything.
type JobFilter struct {
	Status *model.JobStatus
	Mode   *model.Mode
	Limit  int
}

// CandidateStore defines the contract for candidate data access
type CandidateStore interface {
	Create(ctx context.Context, c *model.Candidate) error
	GetByID(ctx context.Context, id int64) (*model.Candidate, error)
	List(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error)
}

// CandidateFilter narrows List results. Nil fields match everything.
type CandidateFilter struct {
	Disposition *model.Disposition
	Mode        *model.Mode
	Limit       int
}

// FingerprintStore defines the contract for deduplication records
type FingerprintStore interface {
	// GetLive returns the fingerprint for hash if one exists and has not
	// expired as of now, ErrNotFound otherwise.
	GetLive(ctx context.Context, hash string, now time.Time) (*model.CandidateFingerprint, error)

	// RecordHit bumps the hit counter and last-seen timestamp.
	RecordHit(ctx context.Context, hash string, seenAt time.Time) error

	// Register inserts a fingerprint, replacing any expired row for the same hash.
	Register(ctx context.Context, fp *model.CandidateFingerprint) error

	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// BudgetStore defines the contract for per-provider budget ledgers
type BudgetStore interface {
	Get(ctx context.Context, provider string) (*model.BudgetLedger, error)
	Upsert(ctx context.Context, ledger *model.BudgetLedger) error
	List(ctx context.Context) ([]model.BudgetLedger, error)
}

// StateStore defines the contract for the orchestrator state singleton
type StateStore interface {
	Get(ctx context.Context) (*model.OrchestratorState, error)
	Save(ctx context.Context, state *model.OrchestratorState) error
}
