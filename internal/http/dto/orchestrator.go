package dto

import (
	"time"

	"alphaforge.app/scout/internal/engine"
	"alphaforge.app/scout/internal/model"
)

type TriggerRequest struct {
	Mode string `json:"mode" binding:"required,min=1,max=64"`
	Note string `json:"note,omitempty" binding:"omitempty,max=500"`
}

type TriggerResponse struct {
	Job *JobResponse `json:"job"`
}

// BlockedResponse reports an admission refusal. Refusals are outcomes,
// not errors; the reason tells the operator which gate said no.
type BlockedResponse struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

type SetEnabledRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	Reason  string `json:"reason,omitempty" binding:"omitempty,max=500"`
}

type SetEnabledResponse struct {
	Enabled bool `json:"enabled"`
	Changed bool `json:"changed"`
}

type AckActionResponse struct {
	Cleared bool `json:"cleared"`
}

type ModeStatusResponse struct {
	Mode            string     `json:"mode"`
	Priority        int        `json:"priority"`
	CostClass       string     `json:"cost_class"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       time.Time  `json:"next_run_at"`
}

type StatusResponse struct {
	Enabled              bool                 `json:"enabled"`
	ActionRequired       bool                 `json:"action_required"`
	ActionRequiredReason string               `json:"action_required_reason,omitempty"`
	ActiveJobs           int                  `json:"active_jobs"`
	MaxConcurrentJobs    int                  `json:"max_concurrent_jobs"`
	DailyCostUSD         float64              `json:"daily_cost_usd"`
	DailyCostCeilingUSD  float64              `json:"daily_cost_ceiling_usd"`
	DailyJobs            int                  `json:"daily_jobs"`
	JobCounts            map[string]int       `json:"job_counts"`
	Modes                []ModeStatusResponse `json:"modes"`
}

func ToStatusResponse(s *engine.Status) *StatusResponse {
	counts := make(map[string]int, len(s.JobCounts))
	for status, n := range s.JobCounts {
		counts[string(status)] = n
	}

	modes := make([]ModeStatusResponse, 0, len(s.Modes))
	for _, m := range s.Modes {
		modes = append(modes, ModeStatusResponse{
			Mode:            string(m.Mode),
			Priority:        m.Priority,
			CostClass:       string(m.CostClass),
			IntervalMinutes: int(m.Interval / time.Minute),
			LastRunAt:       m.LastRunAt,
			NextRunAt:       m.NextRunAt,
		})
	}

	return &StatusResponse{
		Enabled:              s.Enabled,
		ActionRequired:       s.ActionRequired,
		ActionRequiredReason: s.ActionRequiredReason,
		ActiveJobs:           s.ActiveJobs,
		MaxConcurrentJobs:    s.MaxConcurrentJobs,
		DailyCostUSD:         s.DailyCostUSD,
		DailyCostCeilingUSD:  s.DailyCostCeilingUSD,
		DailyJobs:            s.DailyJobs,
		JobCounts:            counts,
		Modes:                modes,
	}
}

func ToBlockedResponse(reason string) *BlockedResponse {
	return &BlockedResponse{Blocked: true, Reason: reason}
}

// ValidMode parses and validates a mode string from a request.
func ValidMode(raw string) (model.Mode, bool) {
	mode := model.Mode(raw)
	return mode, mode.Valid()
}
