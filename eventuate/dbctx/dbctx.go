/*
Package dbctx carries the ambient database transaction through a
context.Context, the way a caller's business-transaction-scoped gorm.DB
is threaded into Send (§4.1 step 4: "the same context used by the
caller's business write, so both commit or both roll back") and into
the duplicate-detection decorator's per-message transaction (§4.5 step
2).
*/
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithTx returns a context carrying tx as the ambient transaction.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the ambient transaction on ctx, or fallback if
// none was set (e.g. a caller invoking the producer outside of any
// explicit unit of work, against the default connection).
func FromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return fallback
}
