package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"alphaforge.app/scout/internal/audit"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
	"alphaforge.app/scout/internal/store"
)

// StateTracker owns the orchestrator's shared runtime state: the enabled
// flag, daily cost and job accumulators, per-mode last-run timestamps, and
// the action-required flag. All mutation goes through its mutex, so a
// completing job and a concurrent tick never race.
//
// In-memory state is authoritative while the process runs. Every mutation
// schedules a save through the persistence breaker; a failed save is logged
// and retried implicitly by the next mutation, and Flush persists once more
// at shutdown.
type StateTracker struct {
	states  store.StateStore
	sink    audit.Sink
	breaker *resilience.Breaker

	mu sync.Mutex
	st model.OrchestratorState
}

func NewStateTracker(states store.StateStore, sink audit.Sink, breaker *resilience.Breaker) *StateTracker {
	return &StateTracker{
		states:  states,
		sink:    sink,
		breaker: breaker,
	}
}

// Load reads the persisted singleton, or initializes it on first boot.
// enabledDefault only applies to first boot; afterwards the persisted flag
// wins so operator toggles survive restarts.
func (t *StateTracker) Load(ctx context.Context, enabledDefault bool) error {
	st, err := t.states.Get(ctx)
	if err == nil {
		if st.ModeLastRuns == nil {
			st.ModeLastRuns = make(map[model.Mode]time.Time)
		}
		t.mu.Lock()
		t.st = *st
		t.mu.Unlock()
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading orchestrator state: %w", err)
	}

	now := time.Now().UTC()
	initial := model.OrchestratorState{
		Enabled:      enabledDefault,
		LastResetAt:  now,
		ModeLastRuns: make(map[model.Mode]time.Time),
		UpdatedAt:    now,
	}
	if err := t.states.Save(ctx, &initial); err != nil {
		return fmt.Errorf("saving initial orchestrator state: %w", err)
	}
	t.mu.Lock()
	t.st = initial
	t.mu.Unlock()

	slog.InfoContext(ctx, "orchestrator state initialized", "enabled", enabledDefault)
	return nil
}

// Snapshot returns a copy of the current state.
func (t *StateTracker) Snapshot() model.OrchestratorState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *StateTracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.Enabled
}

// SetEnabled flips the orchestrator on or off. Returns false when the flag
// already had the requested value.
func (t *StateTracker) SetEnabled(ctx context.Context, enabled bool, reason string) bool {
	t.mu.Lock()
	if t.st.Enabled == enabled {
		t.mu.Unlock()
		return false
	}
	t.st.Enabled = enabled
	snap := t.touchLocked()
	t.mu.Unlock()

	kind := model.EventOrchestratorEnabled
	if !enabled {
		kind = model.EventOrchestratorDisabled
	}
	slog.InfoContext(ctx, "orchestrator toggled", "enabled", enabled, "reason", reason)
	t.sink.Emit(ctx, model.AuditEvent{Kind: kind, Reason: reason})
	t.persist(ctx, snap)
	return true
}

// ResetDailyIfNeeded zeroes the daily accumulators when the UTC day has
// rolled over since the last reset. Returns true when a reset happened.
func (t *StateTracker) ResetDailyIfNeeded(ctx context.Context) bool {
	now := time.Now().UTC()
	t.mu.Lock()
	if sameUTCDay(t.st.LastResetAt, now) {
		t.mu.Unlock()
		return false
	}
	priorCost := t.st.DailyCostUSD
	priorJobs := t.st.DailyJobs
	t.st.DailyCostUSD = 0
	t.st.DailyJobs = 0
	t.st.LastResetAt = now
	snap := t.touchLocked()
	t.mu.Unlock()

	detail, _ := json.Marshal(map[string]any{
		"prior_cost_usd": priorCost,
		"prior_jobs":     priorJobs,
	})
	slog.InfoContext(ctx, "daily counters reset", "prior_cost_usd", priorCost, "prior_jobs", priorJobs)
	t.sink.Emit(ctx, model.AuditEvent{Kind: model.EventDailyReset, Detail: detail})
	t.persist(ctx, snap)
	return true
}

// AddDailyCost adds to today's cost accumulator and returns the new total.
func (t *StateTracker) AddDailyCost(ctx context.Context, costUSD float64) float64 {
	t.mu.Lock()
	t.st.DailyCostUSD += costUSD
	total := t.st.DailyCostUSD
	snap := t.touchLocked()
	t.mu.Unlock()

	t.persist(ctx, snap)
	return total
}

func (t *StateTracker) IncrDailyJobs(ctx context.Context) {
	t.mu.Lock()
	t.st.DailyJobs++
	snap := t.touchLocked()
	t.mu.Unlock()

	t.persist(ctx, snap)
}

func (t *StateTracker) DailyCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.DailyCostUSD
}

func (t *StateTracker) DailyJobs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.DailyJobs
}

// MarkModeRun records that a mode was enqueued at the given time.
func (t *StateTracker) MarkModeRun(ctx context.Context, mode model.Mode, at time.Time) {
	t.mu.Lock()
	t.st.ModeLastRuns[mode] = at.UTC()
	snap := t.touchLocked()
	t.mu.Unlock()

	t.persist(ctx, snap)
}

// LastRun returns the last enqueue time for a mode, if it ever ran.
func (t *StateTracker) LastRun(mode model.Mode) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.st.ModeLastRuns[mode]
	return at, ok
}

func (t *StateTracker) ActionRequired() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st.ActionRequiredReason == nil {
		return t.st.ActionRequired, ""
	}
	return t.st.ActionRequired, *t.st.ActionRequiredReason
}

// SetActionRequired flags the orchestrator for operator attention. The flag
// is sticky until ClearActionRequired; each call refreshes the reason and
// emits an event, since every fatal failure is worth an audit record.
func (t *StateTracker) SetActionRequired(ctx context.Context, reason string) {
	t.mu.Lock()
	t.st.ActionRequired = true
	t.st.ActionRequiredReason = &reason
	snap := t.touchLocked()
	t.mu.Unlock()

	slog.WarnContext(ctx, "action required flag set", "reason", reason)
	t.sink.Emit(ctx, model.AuditEvent{Kind: model.EventActionRequiredSet, Reason: reason})
	t.persist(ctx, snap)
}

// ClearActionRequired acknowledges the flag. Returns false when it was not set.
func (t *StateTracker) ClearActionRequired(ctx context.Context) bool {
	t.mu.Lock()
	if !t.st.ActionRequired {
		t.mu.Unlock()
		return false
	}
	t.st.ActionRequired = false
	t.st.ActionRequiredReason = nil
	snap := t.touchLocked()
	t.mu.Unlock()

	slog.InfoContext(ctx, "action required flag cleared")
	t.sink.Emit(ctx, model.AuditEvent{Kind: model.EventActionRequiredCleared})
	t.persist(ctx, snap)
	return true
}

// Flush persists the current state unconditionally. Called at shutdown.
func (t *StateTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	snap := t.touchLocked()
	t.mu.Unlock()
	return t.states.Save(ctx, &snap)
}

func (t *StateTracker) touchLocked() model.OrchestratorState {
	t.st.UpdatedAt = time.Now().UTC()
	return t.copyLocked()
}

func (t *StateTracker) copyLocked() model.OrchestratorState {
	snap := t.st
	snap.ModeLastRuns = make(map[model.Mode]time.Time, len(t.st.ModeLastRuns))
	for m, at := range t.st.ModeLastRuns {
		snap.ModeLastRuns[m] = at
	}
	return snap
}

// persist saves a snapshot taken under the lock. It runs outside the lock
// so a slow database never stalls readers; the breaker short-circuits
// saves while the database is down.
func (t *StateTracker) persist(ctx context.Context, snap model.OrchestratorState) {
	err := t.breaker.Do(func() error {
		return t.states.Save(ctx, &snap)
	})
	if err != nil {
		slog.WarnContext(ctx, "orchestrator state persist failed", "error", err)
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
