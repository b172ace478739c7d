package model

import (
	"encoding/json"
	"time"
)

// EventKind enumerates the audit events the engine emits. Every admission
// decision, terminal job state, and budget-throttle transition produces one.
type EventKind string

const (
	EventAdmissionBlocked      EventKind = "admission_blocked"
	EventJobQueued             EventKind = "job_queued"
	EventJobDeferred           EventKind = "job_deferred"
	EventJobPromoted           EventKind = "job_promoted"
	EventJobStarted            EventKind = "job_started"
	EventJobRequeued           EventKind = "job_requeued"
	EventJobCompleted          EventKind = "job_completed"
	EventJobFailed             EventKind = "job_failed"
	EventBudgetThrottled       EventKind = "budget_throttled"
	EventBudgetCleared         EventKind = "budget_cleared"
	EventDailyReset            EventKind = "daily_reset"
	EventDailyCeilingReached   EventKind = "daily_ceiling_reached"
	EventStaleJobRecovered     EventKind = "stale_job_recovered"
	EventOrchestratorEnabled   EventKind = "orchestrator_enabled"
	EventOrchestratorDisabled  EventKind = "orchestrator_disabled"
	EventActionRequiredSet     EventKind = "action_required_set"
	EventActionRequiredCleared EventKind = "action_required_cleared"
)

// AuditEvent is the structured record pushed to the audit stream. The sink
// is fire-and-forget: emitting one must never fail the operation it logs.
type AuditEvent struct {
	ID        int64           `json:"id"`
	Kind      EventKind       `json:"kind"`
	Mode      *Mode           `json:"mode,omitempty"`
	JobID     *int64          `json:"job_id,omitempty"`
	Provider  *string         `json:"provider,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	TraceID   *string         `json:"trace_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
