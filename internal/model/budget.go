package model

import "time"

// BudgetLedger is the per-provider monthly spend guard. AutoThrottled is
// true whenever CurrentSpendUSD >= MonthlyLimitUSD and clears only when a
// new budget month begins, which also zeroes the spend.
type BudgetLedger struct {
	Provider        string    `json:"provider"`
	MonthlyLimitUSD float64   `json:"monthly_limit_usd"`
	CurrentSpendUSD float64   `json:"current_spend_usd"`
	Enabled         bool      `json:"enabled"`
	Paused          bool      `json:"paused"`
	AutoThrottled   bool      `json:"auto_throttled"`
	MonthStartedAt  time.Time `json:"month_started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MonthElapsed reports whether the recorded budget month has fully passed.
func (l BudgetLedger) MonthElapsed(now time.Time) bool {
	return !now.Before(l.MonthStartedAt.AddDate(0, 1, 0))
}
