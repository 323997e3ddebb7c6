package database

import (
	"context"

	"github.com/uptrace/bun"
)

type txKey struct{}

type txState struct {
	tx          bun.Tx
	afterCommit []func()
}

// Runner starts database transactions that stores join through the context.
type Runner struct {
	DB *bun.DB
}

func NewRunner(db *bun.DB) *Runner {
	return &Runner{DB: db}
}

// RunInTx runs fn inside one transaction. Store calls made with the ctx passed
// to fn use that transaction. Nested calls join the outer transaction.
// Hooks registered with AfterCommit run only once the outermost commit succeeded.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	state := &txState{}
	err := r.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		state.tx = tx
		return fn(context.WithValue(ctx, txKey{}, state))
	})
	if err != nil {
		return err
	}

	for _, hook := range state.afterCommit {
		hook()
	}
	return nil
}

// Conn returns the transaction carried by ctx, or db when there is none.
func Conn(ctx context.Context, db *bun.DB) bun.IDB {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return db
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// AfterCommit defers fn until the transaction in ctx commits. Outside a
// transaction fn runs immediately. A rolled back transaction drops its hooks.
func AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn()
}
