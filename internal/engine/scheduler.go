package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"alphaforge.app/scout/common/logger"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/service"
)

// Drainer starts eligible queued work. Satisfied by *Controller.
type Drainer interface {
	Drain(ctx context.Context) int
}

// Scheduler drives the autonomous cycle. Every tick it rolls the daily
// counters if the UTC day changed, walks the mode table in priority order
// enqueueing whatever is due on its stagger slot, and then always drains,
// so queued work gets a shot at freed slots even on ticks that enqueue
// nothing.
type Scheduler struct {
	interval  time.Duration
	admission service.Admission
	state     *service.StateTracker
	drainer   Drainer
	now       func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(interval time.Duration, admission service.Admission, state *service.StateTracker, drainer Drainer) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		interval:  interval,
		admission: admission,
		state:     state,
		drainer:   drainer,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run ticks until the context is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scout.engine.scheduler"})
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started",
		"tick_interval", s.interval.String(),
		"modes", len(model.Modes()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop ends the run loop and waits for it to exit. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

// Tick runs one scheduling pass. Exported so a manual pass can be forced;
// the run loop calls it on every ticker fire.
func (s *Scheduler) Tick(ctx context.Context) {
	s.state.ResetDailyIfNeeded(ctx)

	if !s.state.Enabled() {
		slog.DebugContext(ctx, "orchestrator disabled, tick skipped")
		return
	}

	now := s.now().UTC()
	for _, mode := range model.Modes() {
		spec, ok := mode.Spec()
		if !ok {
			continue
		}
		if !s.due(mode, spec, now) || !spec.SlotMatches(now) {
			continue
		}

		snapshot, _ := json.Marshal(map[string]string{
			"trigger": "scheduler",
			"tick_at": now.Format(time.RFC3339),
		})
		job, blocked, err := s.admission.Enqueue(ctx, mode, snapshot, "scheduler")
		if err != nil {
			slog.ErrorContext(ctx, "scheduled enqueue failed", "mode", mode, "error", err)
			continue
		}
		if blocked != nil {
			// Admission logged and audited the refusal; the mode stays due
			// and tries again on its next slot.
			continue
		}
		if job != nil {
			s.state.MarkModeRun(ctx, mode, now)
		}
	}

	s.drainer.Drain(ctx)
}

// due reports whether a mode's interval has elapsed since its last enqueue.
// A mode that never ran is immediately due and waits only for its slot.
func (s *Scheduler) due(mode model.Mode, spec model.ModeSpec, now time.Time) bool {
	last, ok := s.state.LastRun(mode)
	if !ok {
		return true
	}
	return now.Sub(last) >= spec.Interval
}
