package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alphaforge.app/scout/internal/audit"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/store"
)

// Gatekeeper decides whether a provider may take on paid work, and records
// what completed work actually cost.
type Gatekeeper interface {
	// CheckQuota returns a non-nil Blocked when the provider must not be
	// called: its ledger is disabled, paused, or auto-throttled, or the
	// global daily cost ceiling has been reached. A nil Blocked means go.
	//
	// The throttle is re-evaluated lazily on every check: once the recorded
	// budget month has fully elapsed, spend resets to zero and the throttle
	// clears without any external cron.
	CheckQuota(ctx context.Context, providerName string) (*Blocked, error)

	// RecordSpend adds a completed job's cost to the provider ledger and the
	// daily accumulator. Crossing the monthly limit flips the auto-throttle;
	// crossing the daily ceiling blocks further admissions until the next
	// UTC day.
	RecordSpend(ctx context.Context, providerName string, costUSD float64) error

	// EnsureLedger creates a ledger with the given monthly limit if none
	// exists. An existing ledger is left untouched, so operator edits
	// survive restarts.
	EnsureLedger(ctx context.Context, providerName string, monthlyLimitUSD float64) error

	Ledgers(ctx context.Context) ([]model.BudgetLedger, error)
	UpdateLedger(ctx context.Context, providerName string, upd LedgerUpdate) (*model.BudgetLedger, error)
}

// LedgerUpdate is an operator patch to a budget ledger. Nil fields are
// left unchanged.
type LedgerUpdate struct {
	MonthlyLimitUSD *float64
	Enabled         *bool
	Paused          *bool
}

type gatekeeper struct {
	budgets         store.BudgetStore
	state           *StateTracker
	dailyCeilingUSD float64
	sink            audit.Sink
}

func NewGatekeeper(budgets store.BudgetStore, state *StateTracker, dailyCeilingUSD float64, sink audit.Sink) Gatekeeper {
	return &gatekeeper{
		budgets:         budgets,
		state:           state,
		dailyCeilingUSD: dailyCeilingUSD,
		sink:            sink,
	}
}

func (g *gatekeeper) CheckQuota(ctx context.Context, providerName string) (*Blocked, error) {
	ledger, err := g.budgets.Get(ctx, providerName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Blocked{Reason: fmt.Sprintf("no budget ledger for provider %q", providerName)}, nil
		}
		return nil, fmt.Errorf("loading budget ledger: %w", err)
	}

	now := time.Now().UTC()
	if ledger.MonthElapsed(now) {
		if err := g.rollover(ctx, ledger, now); err != nil {
			return nil, err
		}
	}

	if !ledger.Enabled {
		return &Blocked{Reason: fmt.Sprintf("provider %s is disabled", providerName)}, nil
	}
	if ledger.Paused {
		return &Blocked{Reason: fmt.Sprintf("provider %s is paused", providerName)}, nil
	}
	if ledger.AutoThrottled {
		return &Blocked{Reason: fmt.Sprintf(
			"provider %s monthly budget exhausted: $%.2f of $%.2f",
			providerName, ledger.CurrentSpendUSD, ledger.MonthlyLimitUSD,
		)}, nil
	}

	if daily := g.state.DailyCost(); daily >= g.dailyCeilingUSD {
		return &Blocked{Reason: fmt.Sprintf(
			"daily cost ceiling reached: $%.2f of $%.2f", daily, g.dailyCeilingUSD,
		)}, nil
	}

	return nil, nil
}

func (g *gatekeeper) RecordSpend(ctx context.Context, providerName string, costUSD float64) error {
	now := time.Now().UTC()

	ledger, err := g.budgets.Get(ctx, providerName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "spend recorded for provider without ledger",
				"provider", providerName, "cost_usd", costUSD)
			g.addDaily(ctx, providerName, costUSD)
			return nil
		}
		return fmt.Errorf("loading budget ledger: %w", err)
	}

	if ledger.MonthElapsed(now) {
		if err := g.rollover(ctx, ledger, now); err != nil {
			return err
		}
	}

	ledger.CurrentSpendUSD += costUSD
	throttledNow := !ledger.AutoThrottled && ledger.CurrentSpendUSD >= ledger.MonthlyLimitUSD
	if ledger.CurrentSpendUSD >= ledger.MonthlyLimitUSD {
		ledger.AutoThrottled = true
	}
	ledger.UpdatedAt = now

	if err := g.budgets.Upsert(ctx, ledger); err != nil {
		return fmt.Errorf("updating budget ledger: %w", err)
	}

	slog.InfoContext(ctx, "spend recorded",
		"provider", providerName,
		"cost_usd", costUSD,
		"month_spend_usd", ledger.CurrentSpendUSD,
		"month_limit_usd", ledger.MonthlyLimitUSD,
	)

	if throttledNow {
		reason := fmt.Sprintf("monthly spend $%.2f reached limit $%.2f", ledger.CurrentSpendUSD, ledger.MonthlyLimitUSD)
		slog.WarnContext(ctx, "provider auto-throttled", "provider", providerName, "reason", reason)
		g.sink.Emit(ctx, model.AuditEvent{
			Kind:     model.EventBudgetThrottled,
			Provider: &providerName,
			Reason:   reason,
		})
	}

	g.addDaily(ctx, providerName, costUSD)
	return nil
}

// addDaily feeds the global daily accumulator and emits one event when the
// increment crosses the ceiling.
func (g *gatekeeper) addDaily(ctx context.Context, providerName string, costUSD float64) {
	after := g.state.AddDailyCost(ctx, costUSD)
	before := after - costUSD
	if before < g.dailyCeilingUSD && after >= g.dailyCeilingUSD {
		reason := fmt.Sprintf("daily spend $%.2f reached ceiling $%.2f", after, g.dailyCeilingUSD)
		slog.WarnContext(ctx, "daily cost ceiling reached", "reason", reason)
		g.sink.Emit(ctx, model.AuditEvent{
			Kind:     model.EventDailyCeilingReached,
			Provider: &providerName,
			Reason:   reason,
		})
	}
}

// rollover starts a new budget month: spend resets to zero and the throttle
// clears. The start advances by whole months so a ledger idle for several
// months lands in the current one.
func (g *gatekeeper) rollover(ctx context.Context, ledger *model.BudgetLedger, now time.Time) error {
	priorSpend := ledger.CurrentSpendUSD
	wasThrottled := ledger.AutoThrottled

	start := ledger.MonthStartedAt
	for !now.Before(start.AddDate(0, 1, 0)) {
		start = start.AddDate(0, 1, 0)
	}
	ledger.MonthStartedAt = start
	ledger.CurrentSpendUSD = 0
	ledger.AutoThrottled = false
	ledger.UpdatedAt = now

	if err := g.budgets.Upsert(ctx, ledger); err != nil {
		return fmt.Errorf("rolling over budget month: %w", err)
	}

	slog.InfoContext(ctx, "budget month rolled over",
		"provider", ledger.Provider,
		"month_started_at", start,
		"prior_spend_usd", priorSpend,
	)
	if wasThrottled {
		g.sink.Emit(ctx, model.AuditEvent{
			Kind:     model.EventBudgetCleared,
			Provider: &ledger.Provider,
			Reason:   fmt.Sprintf("new budget month started, $%.2f spend cleared", priorSpend),
		})
	}
	return nil
}

func (g *gatekeeper) EnsureLedger(ctx context.Context, providerName string, monthlyLimitUSD float64) error {
	_, err := g.budgets.Get(ctx, providerName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading budget ledger: %w", err)
	}

	now := time.Now().UTC()
	ledger := &model.BudgetLedger{
		Provider:        providerName,
		MonthlyLimitUSD: monthlyLimitUSD,
		Enabled:         true,
		MonthStartedAt:  firstOfMonth(now),
		UpdatedAt:       now,
	}
	if err := g.budgets.Upsert(ctx, ledger); err != nil {
		return fmt.Errorf("seeding budget ledger: %w", err)
	}
	slog.InfoContext(ctx, "budget ledger seeded", "provider", providerName, "month_limit_usd", monthlyLimitUSD)
	return nil
}

func (g *gatekeeper) Ledgers(ctx context.Context) ([]model.BudgetLedger, error) {
	return g.budgets.List(ctx)
}

func (g *gatekeeper) UpdateLedger(ctx context.Context, providerName string, upd LedgerUpdate) (*model.BudgetLedger, error) {
	ledger, err := g.budgets.Get(ctx, providerName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("loading budget ledger: %w", err)
	}

	if upd.MonthlyLimitUSD != nil {
		ledger.MonthlyLimitUSD = *upd.MonthlyLimitUSD
	}
	if upd.Enabled != nil {
		ledger.Enabled = *upd.Enabled
	}
	if upd.Paused != nil {
		ledger.Paused = *upd.Paused
	}

	// Limit edits re-evaluate the throttle in both directions so the
	// invariant spend >= limit <=> throttled holds after the edit.
	wasThrottled := ledger.AutoThrottled
	ledger.AutoThrottled = ledger.CurrentSpendUSD >= ledger.MonthlyLimitUSD
	ledger.UpdatedAt = time.Now().UTC()

	if err := g.budgets.Upsert(ctx, ledger); err != nil {
		return nil, fmt.Errorf("updating budget ledger: %w", err)
	}

	slog.InfoContext(ctx, "budget ledger updated",
		"provider", providerName,
		"month_limit_usd", ledger.MonthlyLimitUSD,
		"enabled", ledger.Enabled,
		"paused", ledger.Paused,
	)

	switch {
	case !wasThrottled && ledger.AutoThrottled:
		g.sink.Emit(ctx, model.AuditEvent{
			Kind:     model.EventBudgetThrottled,
			Provider: &providerName,
			Reason:   fmt.Sprintf("limit lowered to $%.2f below current spend $%.2f", ledger.MonthlyLimitUSD, ledger.CurrentSpendUSD),
		})
	case wasThrottled && !ledger.AutoThrottled:
		g.sink.Emit(ctx, model.AuditEvent{
			Kind:     model.EventBudgetCleared,
			Provider: &providerName,
			Reason:   fmt.Sprintf("limit raised to $%.2f above current spend $%.2f", ledger.MonthlyLimitUSD, ledger.CurrentSpendUSD),
		})
	}

	return ledger, nil
}

func firstOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
