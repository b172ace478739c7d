package model

import "time"

// OrchestratorState is the singleton runtime state persisted across
// restarts. The active job set is deliberately absent: running jobs are
// represented by their own rows and recovered at startup.
type OrchestratorState struct {
	Enabled              bool               `json:"enabled"`
	DailyCostUSD         float64            `json:"daily_cost_usd"`
	DailyJobs            int                `json:"daily_jobs"`
	LastResetAt          time.Time          `json:"last_reset_at"`
	ModeLastRuns         map[Mode]time.Time `json:"mode_last_runs"`
	ActionRequired       bool               `json:"action_required"`
	ActionRequiredReason *string            `json:"action_required_reason,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}
