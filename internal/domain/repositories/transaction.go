package repositories

import "context"

// TxFn runs inside a transaction. The ctx it receives carries the
// transaction, so repository calls made with it join the same unit of work.
type TxFn func(ctx context.Context) error

// TransactionManager groups repository writes into a single transaction.
// Content saves and deletes use it so the snapshot and the update commit
// or roll back together.
type TransactionManager interface {
	// ExecTx begins a transaction, runs fn, and commits. Any error from
	// fn rolls the transaction back and is returned unchanged.
	ExecTx(ctx context.Context, fn TxFn) error
}
