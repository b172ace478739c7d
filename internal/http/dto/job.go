package dto

import (
	"encoding/json"
	"time"

	"alphaforge.app/scout/internal/model"
)

type JobResponse struct {
	ID              int64                `json:"id,string"`
	Mode            string               `json:"mode"`
	Status          string               `json:"status"`
	Priority        int                  `json:"priority"`
	CostClass       string               `json:"cost_class"`
	Provider        string               `json:"provider"`
	ScheduledFor    *time.Time           `json:"scheduled_for,omitempty"`
	ContextSnapshot json.RawMessage      `json:"context_snapshot,omitempty"`
	TraceID         *string              `json:"trace_id,omitempty"`
	RetryCount      int                  `json:"retry_count"`
	MaxRetries      int                  `json:"max_retries"`
	DeferredReason  *string              `json:"deferred_reason,omitempty"`
	ErrorMessage    *string              `json:"error_message,omitempty"`
	Result          *model.ResultSummary `json:"result,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
}

func ToJobResponse(j *model.ResearchJob) *JobResponse {
	return &JobResponse{
		ID:              j.ID,
		Mode:            string(j.Mode),
		Status:          string(j.Status),
		Priority:        j.Priority,
		CostClass:       string(j.CostClass),
		Provider:        j.Provider,
		ScheduledFor:    j.ScheduledFor,
		ContextSnapshot: j.ContextSnapshot,
		TraceID:         j.TraceID,
		RetryCount:      j.RetryCount,
		MaxRetries:      j.MaxRetries,
		DeferredReason:  j.DeferredReason,
		ErrorMessage:    j.ErrorMessage,
		Result:          j.Result,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

func ToListJobsResponse(jobs []model.ResearchJob) *ListJobsResponse {
	out := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, *ToJobResponse(&jobs[i]))
	}
	return &ListJobsResponse{Jobs: out}
}
