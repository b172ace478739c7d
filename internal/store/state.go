package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/model"
)

type stateStore struct {
	q db.Querier
}

func (s *stateStore) Get(ctx context.Context) (*model.OrchestratorState, error) {
	var (
		state    model.OrchestratorState
		lastRuns []byte
	)

	err := s.q.QueryRow(ctx, `
		SELECT enabled, daily_cost_usd, daily_jobs, last_reset_at, mode_last_runs,
		       action_required, action_required_reason, updated_at
		FROM orchestrator_state
		WHERE id = 1
	`).Scan(
		&state.Enabled,
		&state.DailyCostUSD,
		&state.DailyJobs,
		&state.LastResetAt,
		&lastRuns,
		&state.ActionRequired,
		&state.ActionRequiredReason,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query orchestrator state: %w", err)
	}

	state.ModeLastRuns = make(map[model.Mode]time.Time)
	if len(lastRuns) > 0 {
		if err := json.Unmarshal(lastRuns, &state.ModeLastRuns); err != nil {
			return nil, fmt.Errorf("decode mode last runs: %w", err)
		}
	}

	return &state, nil
}

func (s *stateStore) Save(ctx context.Context, state *model.OrchestratorState) error {
	lastRuns, err := json.Marshal(state.ModeLastRuns)
	if err != nil {
		return fmt.Errorf("encode mode last runs: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO orchestrator_state (id, enabled, daily_cost_usd, daily_jobs, last_reset_at,
			mode_last_runs, action_required, action_required_reason, updated_at)
		VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			enabled                = EXCLUDED.enabled,
			daily_cost_usd         = EXCLUDED.daily_cost_usd,
			daily_jobs             = EXCLUDED.daily_jobs,
			last_reset_at          = EXCLUDED.last_reset_at,
			mode_last_runs         = EXCLUDED.mode_last_runs,
			action_required        = EXCLUDED.action_required,
			action_required_reason = EXCLUDED.action_required_reason,
			updated_at             = EXCLUDED.updated_at
	`,
		state.Enabled,
		state.DailyCostUSD,
		state.DailyJobs,
		state.LastResetAt,
		lastRuns,
		state.ActionRequired,
		state.ActionRequiredReason,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save orchestrator state: %w", err)
	}
	return nil
}
