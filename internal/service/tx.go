package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/plantctl/mes-api/pkg/database"
)

// txRunner executes fn inside a transaction, retrying transient failures.
// Tests replace it with a passthrough.
type txRunner func(ctx context.Context, fn func(tx *sqlx.Tx) error) error

func newTxRunner(db *sqlx.DB) txRunner {
	return func(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
		return database.WithRetry(ctx, db, fn)
	}
}
