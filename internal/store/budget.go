package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/model"
)

type budgetStore struct {
	q db.Querier
}

func (s *budgetStore) Get(ctx context.Context, provider string) (*model.BudgetLedger, error) {
	row := s.q.QueryRow(ctx, `
		SELECT provider, monthly_limit_usd, current_spend_usd, enabled, paused,
		       auto_throttled, month_started_at, updated_at
		FROM budget_ledgers
		WHERE provider = $1
	`, provider)

	ledger, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query budget ledger: %w", err)
	}
	return ledger, nil
}

func (s *budgetStore) Upsert(ctx context.Context, ledger *model.BudgetLedger) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO budget_ledgers (provider, monthly_limit_usd, current_spend_usd, enabled,
			paused, auto_throttled, month_started_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (provider) DO UPDATE SET
			monthly_limit_usd = EXCLUDED.monthly_limit_usd,
			current_spend_usd = EXCLUDED.current_spend_usd,
			enabled           = EXCLUDED.enabled,
			paused            = EXCLUDED.paused,
			auto_throttled    = EXCLUDED.auto_throttled,
			month_started_at  = EXCLUDED.month_started_at,
			updated_at        = EXCLUDED.updated_at
	`,
		ledger.Provider,
		ledger.MonthlyLimitUSD,
		ledger.CurrentSpendUSD,
		ledger.Enabled,
		ledger.Paused,
		ledger.AutoThrottled,
		ledger.MonthStartedAt,
		ledger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert budget ledger: %w", err)
	}
	return nil
}

func (s *budgetStore) List(ctx context.Context) ([]model.BudgetLedger, error) {
	rows, err := s.q.Query(ctx, `
		SELECT provider, monthly_limit_usd, current_spend_usd, enabled, paused,
		       auto_throttled, month_started_at, updated_at
		FROM budget_ledgers
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("list budget ledgers: %w", err)
	}
	defer rows.Close()

	ledgers := make([]model.BudgetLedger, 0)
	for rows.Next() {
		ledger, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget ledger: %w", err)
		}
		ledgers = append(ledgers, *ledger)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate budget ledgers: %w", rows.Err())
	}
	return ledgers, nil
}

func scanLedger(row pgx.Row) (*model.BudgetLedger, error) {
	var ledger model.BudgetLedger
	err := row.Scan(
		&ledger.Provider,
		&ledger.MonthlyLimitUSD,
		&ledger.CurrentSpendUSD,
		&ledger.Enabled,
		&ledger.Paused,
		&ledger.AutoThrottled,
		&ledger.MonthStartedAt,
		&ledger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}
