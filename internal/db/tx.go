package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/randalmurphal/invoicegate/internal/db/driver"
)

// TxOps runs statements inside the transaction opened by RunInTx, all
// bound to the context RunInTx was called with.
type TxOps struct {
	tx  driver.Tx
	ctx context.Context
}

func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, query, args...)
}

func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, query, args...)
}

func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, query, args...)
}

// RunInTx commits when fn returns nil and rolls back otherwise. fn's
// error is returned as is so callers can match it with errors.Is.
func (d *DB) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&TxOps{tx: tx, ctx: ctx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
