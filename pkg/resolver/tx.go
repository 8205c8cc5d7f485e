package resolver

import "context"

// Transactor runs fn so the store writes made through its ctx commit or roll
// back together
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. Memory stores have nothing to roll back, so callers
// order their writes so the ledger goes first where it can.
type NoTx struct{}

func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
