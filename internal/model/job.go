package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusDeferred  JobStatus = "deferred"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type CostClass string

const (
	CostClassLow    CostClass = "low"
	CostClassMedium CostClass = "medium"
	CostClassHigh   CostClass = "high"
)

// ResearchJob is one unit of scheduled provider work. Once completed or
// failed a job is immutable; retryable failures re-enter the queue as the
// same row with retry_count incremented.
type ResearchJob struct {
	ID              int64           `json:"id"`
	Mode            Mode            `json:"mode"`
	Status          JobStatus       `json:"status"`
	Priority        int             `json:"priority"`
	CostClass       CostClass       `json:"cost_class"`
	Provider        string          `json:"provider"`
	ScheduledFor    *time.Time      `json:"scheduled_for,omitempty"`
	ContextSnapshot json.RawMessage `json:"context_snapshot,omitempty"`
	TraceID         *string         `json:"trace_id,omitempty"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	DeferredReason  *string         `json:"deferred_reason,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	Result          *ResultSummary  `json:"result,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// ResultSummary captures what a terminal job produced. Attempts counts
// provider calls inside a single execution, including the first; it is
// not the queue-level retry_count, which only moves when the whole
// execution fails and the job re-enters the queue.
type ResultSummary struct {
	Artifacts    int     `json:"artifacts"`
	Stored       int     `json:"stored"`
	Duplicates   int     `json:"duplicates"`
	Attempts     int     `json:"attempts"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
