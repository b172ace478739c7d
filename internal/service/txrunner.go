package service

import (
	"context"

	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/store"
)

// TxRunner runs functions within a transaction and provides stores bound to
// that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores *store.Stores) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores *store.Stores) error) error {
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(store.New(q))
	})
}
