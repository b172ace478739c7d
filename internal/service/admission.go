package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"alphaforge.app/scout/common/id"
	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/internal/audit"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/store"
)

// Admission is the single entry point for new research work. The scheduler
// and the manual trigger API both go through Enqueue, so every path gets
// the same budget and concurrency treatment.
type Admission interface {
	// Enqueue admits one research run for a mode. Exactly one of the three
	// returns is meaningful: a persisted job (QUEUED, DEFERRED, or a
	// promoted formerly-DEFERRED job), a Blocked refusal, or an error.
	// Blocked is never an error; a refusal is a normal, logged outcome.
	Enqueue(ctx context.Context, mode model.Mode, snapshot json.RawMessage, source string) (*model.ResearchJob, *Blocked, error)
}

type admission struct {
	jobs          store.JobStore
	gatekeeper    Gatekeeper
	state         *StateTracker
	providers     *provider.Registry
	maxConcurrent int
	maxRetries    int
	sink          audit.Sink
}

func NewAdmission(
	jobs store.JobStore,
	gatekeeper Gatekeeper,
	state *StateTracker,
	providers *provider.Registry,
	maxConcurrent int,
	maxRetries int,
	sink audit.Sink,
) Admission {
	return &admission{
		jobs:          jobs,
		gatekeeper:    gatekeeper,
		state:         state,
		providers:     providers,
		maxConcurrent: maxConcurrent,
		maxRetries:    maxRetries,
		sink:          sink,
	}
}

func (a *admission) Enqueue(ctx context.Context, mode model.Mode, snapshot json.RawMessage, source string) (*model.ResearchJob, *Blocked, error) {
	spec, ok := mode.Spec()
	if !ok {
		return nil, nil, fmt.Errorf("unknown research mode %q", mode)
	}

	if !a.state.Enabled() {
		return nil, a.refused(ctx, mode, "", source, &Blocked{Reason: "orchestrator is disabled"}), nil
	}

	client, err := a.providers.ForRole(string(spec.Role))
	if err != nil {
		return nil, nil, fmt.Errorf("resolving provider for mode %s: %w", mode, err)
	}
	providerName := client.Name()

	blocked, err := a.gatekeeper.CheckQuota(ctx, providerName)
	if err != nil {
		return nil, nil, err
	}
	if blocked != nil {
		return nil, a.refused(ctx, mode, providerName, source, blocked), nil
	}

	now := time.Now().UTC()
	active, err := a.jobs.CountActive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("counting active jobs: %w", err)
	}

	if active >= a.maxConcurrent {
		reason := fmt.Sprintf("concurrency saturated: %d active of %d allowed", active, a.maxConcurrent)
		job := a.buildJob(ctx, mode, spec, providerName, snapshot, now)
		job.Status = model.JobStatusDeferred
		job.DeferredReason = &reason

		if err := a.jobs.Create(ctx, job); err != nil {
			return nil, nil, fmt.Errorf("persisting deferred job: %w", err)
		}
		a.state.IncrDailyJobs(ctx)
		slog.InfoContext(ctx, "job deferred",
			"job_id", job.ID, "mode", mode, "provider", providerName, "reason", reason)
		a.emit(ctx, model.EventJobDeferred, job, reason, source)
		return job, nil, nil
	}

	// Capacity is available: revive the oldest parked job for this mode
	// before minting a duplicate of the same intent.
	if promoted, err := a.promoteDeferred(ctx, mode, now, source); err != nil {
		return nil, nil, err
	} else if promoted != nil {
		return promoted, nil, nil
	}

	job := a.buildJob(ctx, mode, spec, providerName, snapshot, now)
	job.Status = model.JobStatusQueued

	if err := a.jobs.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("persisting job: %w", err)
	}
	a.state.IncrDailyJobs(ctx)
	slog.InfoContext(ctx, "job queued",
		"job_id", job.ID, "mode", mode, "provider", providerName, "priority", job.Priority)
	a.emit(ctx, model.EventJobQueued, job, "", source)
	return job, nil, nil
}

func (a *admission) promoteDeferred(ctx context.Context, mode model.Mode, now time.Time, source string) (*model.ResearchJob, error) {
	deferred, err := a.jobs.OldestDeferred(ctx, mode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking deferred jobs: %w", err)
	}

	if err := a.jobs.Promote(ctx, deferred.ID, now); err != nil {
		return nil, fmt.Errorf("promoting deferred job %d: %w", deferred.ID, err)
	}
	deferred.Status = model.JobStatusQueued
	deferred.ScheduledFor = &now
	deferred.DeferredReason = nil

	slog.InfoContext(ctx, "deferred job promoted",
		"job_id", deferred.ID, "mode", mode, "deferred_since", deferred.CreatedAt)
	a.emit(ctx, model.EventJobPromoted, deferred, "", source)
	return deferred, nil
}

func (a *admission) refused(ctx context.Context, mode model.Mode, providerName, source string, blocked *Blocked) *Blocked {
	slog.WarnContext(ctx, "admission blocked",
		"mode", mode, "provider", providerName, "reason", blocked.Reason)
	event := model.AuditEvent{
		Kind:   model.EventAdmissionBlocked,
		Mode:   &mode,
		Reason: blocked.Reason,
	}
	if providerName != "" {
		event.Provider = &providerName
	}
	event.Detail, _ = json.Marshal(map[string]string{"source": source})
	a.sink.Emit(ctx, event)
	return blocked
}

func (a *admission) buildJob(ctx context.Context, mode model.Mode, spec model.ModeSpec, providerName string, snapshot json.RawMessage, now time.Time) *model.ResearchJob {
	return &model.ResearchJob{
		ID:              id.New(),
		Mode:            mode,
		Priority:        spec.Priority,
		CostClass:       spec.CostClass,
		Provider:        providerName,
		ScheduledFor:    &now,
		ContextSnapshot: snapshot,
		TraceID:         traceIDFromContext(ctx),
		MaxRetries:      a.maxRetries,
		CreatedAt:       now,
	}
}

func (a *admission) emit(ctx context.Context, kind model.EventKind, job *model.ResearchJob, reason, source string) {
	event := model.AuditEvent{
		Kind:     kind,
		Mode:     &job.Mode,
		JobID:    &job.ID,
		Provider: &job.Provider,
		Reason:   reason,
		TraceID:  job.TraceID,
	}
	event.Detail, _ = json.Marshal(map[string]string{"source": source})
	a.sink.Emit(ctx, event)
}

// traceIDFromContext captures the active trace so a job picked up by a
// later drain can resume the span chain that admitted it.
func traceIDFromContext(ctx context.Context) *string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	tid := sc.TraceID().String()
	return &tid
}
