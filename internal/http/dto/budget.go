package dto

import (
	"time"

	"alphaforge.app/scout/internal/model"
)

type BudgetResponse struct {
	Provider        string    `json:"provider"`
	MonthlyLimitUSD float64   `json:"monthly_limit_usd"`
	CurrentSpendUSD float64   `json:"current_spend_usd"`
	RemainingUSD    float64   `json:"remaining_usd"`
	Enabled         bool      `json:"enabled"`
	Paused          bool      `json:"paused"`
	AutoThrottled   bool      `json:"auto_throttled"`
	MonthStartedAt  time.Time `json:"month_started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func ToBudgetResponse(l *model.BudgetLedger) *BudgetResponse {
	remaining := l.MonthlyLimitUSD - l.CurrentSpendUSD
	if remaining < 0 {
		remaining = 0
	}
	return &BudgetResponse{
		Provider:        l.Provider,
		MonthlyLimitUSD: l.MonthlyLimitUSD,
		CurrentSpendUSD: l.CurrentSpendUSD,
		RemainingUSD:    remaining,
		Enabled:         l.Enabled,
		Paused:          l.Paused,
		AutoThrottled:   l.AutoThrottled,
		MonthStartedAt:  l.MonthStartedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

type ListBudgetsResponse struct {
	Budgets []BudgetResponse `json:"budgets"`
}

func ToListBudgetsResponse(ledgers []model.BudgetLedger) *ListBudgetsResponse {
	out := make([]BudgetResponse, 0, len(ledgers))
	for i := range ledgers {
		out = append(out, *ToBudgetResponse(&ledgers[i]))
	}
	return &ListBudgetsResponse{Budgets: out}
}

// UpdateBudgetRequest patches a ledger. Nil fields stay as they are.
type UpdateBudgetRequest struct {
	MonthlyLimitUSD *float64 `json:"monthly_limit_usd,omitempty" binding:"omitempty,gt=0"`
	Enabled         *bool    `json:"enabled,omitempty"`
	Paused          *bool    `json:"paused,omitempty"`
}
