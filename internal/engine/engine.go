// Package engine is the orchestration core: a tick scheduler that decides
// which research modes are due, a bounded concurrency controller that runs
// admitted jobs against reasoning providers, startup recovery for jobs a
// dead process left behind, and a fingerprint janitor.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

// Config carries the engine's runtime knobs.
type Config struct {
	TickInterval        time.Duration
	MaxConcurrentJobs   int
	DailyCostCeilingUSD float64
	JanitorInterval     time.Duration
}

// Engine composes the scheduler, controller, and janitor and owns their
// lifecycle. Start spins the loops up; Stop unwinds them and waits,
// bounded by the caller's context, for in-flight jobs to land.
type Engine struct {
	cfg        Config
	controller *Controller
	scheduler  *Scheduler
	janitor    *Janitor
	admission  service.Admission
	state      *service.StateTracker
	jobs       store.JobStore
	now        func() time.Time
	cancel     context.CancelFunc
}

func New(
	cfg Config,
	controller *Controller,
	admission service.Admission,
	state *service.StateTracker,
	jobs store.JobStore,
	fingerprints store.FingerprintStore,
) *Engine {
	return &Engine{
		cfg:        cfg,
		controller: controller,
		scheduler:  NewScheduler(cfg.TickInterval, admission, state, controller),
		janitor:    NewJanitor(fingerprints, cfg.JanitorInterval),
		admission:  admission,
		state:      state,
		jobs:       jobs,
		now:        time.Now,
	}
}

// Start recovers stale jobs, drains whatever survived the restart, and
// launches the scheduler and janitor loops. The loops run on a context
// derived from ctx and owned by the engine, so Stop can unwind them even
// after the caller's ctx is gone.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	if err := e.controller.RecoverStale(runCtx); err != nil {
		cancel()
		return fmt.Errorf("recovering stale jobs: %w", err)
	}
	e.controller.Drain(runCtx)

	go e.scheduler.Run(runCtx)
	go e.janitor.Run(runCtx)

	slog.InfoContext(ctx, "engine started",
		"tick_interval", e.cfg.TickInterval.String(),
		"max_concurrent_jobs", e.cfg.MaxConcurrentJobs,
		"daily_cost_ceiling_usd", e.cfg.DailyCostCeilingUSD)
	return nil
}

// Stop halts the loops, cancels in-flight provider calls, and waits for
// job goroutines to unwind until ctx expires. Aborted jobs re-queue
// themselves, so anything still running when the wait times out is caught
// by startup recovery on the next boot.
func (e *Engine) Stop(ctx context.Context) {
	e.scheduler.Stop()
	e.janitor.Stop()
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.controller.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.InfoContext(ctx, "engine stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "engine stop timed out with jobs in flight",
			"active_jobs", e.controller.ActiveCount())
	}
}

// Trigger runs the manual path: the same admission as the scheduler, then
// an immediate drain when the job landed in QUEUED. The mode's last-run
// clock moves too, so a manual run postpones the next scheduled one
// instead of doubling spend.
func (e *Engine) Trigger(ctx context.Context, mode model.Mode, note string) (*model.ResearchJob, *service.Blocked, error) {
	fields := map[string]string{"trigger": "manual"}
	if note != "" {
		fields["note"] = note
	}
	snapshot, _ := json.Marshal(fields)

	job, blocked, err := e.admission.Enqueue(ctx, mode, snapshot, "manual")
	if err != nil || blocked != nil {
		return nil, blocked, err
	}

	e.state.MarkModeRun(ctx, mode, e.now().UTC())
	if job.Status == model.JobStatusQueued {
		e.controller.Drain(ctx)
	}
	return job, nil, nil
}

// SetEnabled flips the orchestrator on or off. Returns false when the flag
// already had the requested value.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool, reason string) bool {
	return e.state.SetEnabled(ctx, enabled, reason)
}

// ClearActionRequired acknowledges the action-required flag.
func (e *Engine) ClearActionRequired(ctx context.Context) bool {
	return e.state.ClearActionRequired(ctx)
}

// ModeStatus is one row of the per-mode schedule view.
type ModeStatus struct {
	Mode      model.Mode
	Priority  int
	CostClass model.CostClass
	Interval  time.Duration
	LastRunAt *time.Time
	NextRunAt time.Time
}

// Status is the operator-facing snapshot of the whole engine.
type Status struct {
	Enabled              bool
	ActionRequired       bool
	ActionRequiredReason string
	ActiveJobs           int
	MaxConcurrentJobs    int
	DailyCostUSD         float64
	DailyCostCeilingUSD  float64
	DailyJobs            int
	JobCounts            map[model.JobStatus]int
	Modes                []ModeStatus
}

// Status assembles the operator view: enablement, daily accumulators, the
// live active count, queue depth by status, and each mode's last and next
// run. Next-run times account for both the interval and the stagger slot.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	counts, err := e.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	snap := e.state.Snapshot()
	now := e.now().UTC()

	modes := make([]ModeStatus, 0, len(model.Modes()))
	for _, m := range model.Modes() {
		spec, ok := m.Spec()
		if !ok {
			continue
		}
		ms := ModeStatus{
			Mode:      m,
			Priority:  spec.Priority,
			CostClass: spec.CostClass,
			Interval:  spec.Interval,
		}
		if last, ok := snap.ModeLastRuns[m]; ok {
			lastCopy := last
			ms.LastRunAt = &lastCopy
			earliest := last.Add(spec.Interval)
			if earliest.Before(now) {
				earliest = now
			}
			ms.NextRunAt = spec.NextSlot(earliest)
		} else {
			ms.NextRunAt = spec.NextSlot(now)
		}
		modes = append(modes, ms)
	}

	reason := ""
	if snap.ActionRequiredReason != nil {
		reason = *snap.ActionRequiredReason
	}
	return &Status{
		Enabled:              snap.Enabled,
		ActionRequired:       snap.ActionRequired,
		ActionRequiredReason: reason,
		ActiveJobs:           e.controller.ActiveCount(),
		MaxConcurrentJobs:    e.cfg.MaxConcurrentJobs,
		DailyCostUSD:         snap.DailyCostUSD,
		DailyCostCeilingUSD:  e.cfg.DailyCostCeilingUSD,
		DailyJobs:            snap.DailyJobs,
		JobCounts:            counts,
		Modes:                modes,
	}, nil
}
