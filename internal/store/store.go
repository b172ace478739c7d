// Package store implements postgres-backed persistence for jobs, candidates,
// fingerprints, budget ledgers, and orchestrator state. All stores run over a
// db.Querier so the same code serves both pool and transaction scopes.
package store

import (
	"alphaforge.app/scout/core/db"
)

// Stores bundles the per-entity stores over one Querier.
type Stores struct {
	Jobs         JobStore
	Candidates   CandidateStore
	Fingerprints FingerprintStore
	Budgets      BudgetStore
	State        StateStore
}

func New(q db.Querier) *Stores {
	return &Stores{
		Jobs:         &jobStore{q: q},
		Candidates:   &candidateStore{q: q},
		Fingerprints: &fingerprintStore{q: q},
		Budgets:      &budgetStore{q: q},
		State:        &stateStore{q: q},
	}
}
