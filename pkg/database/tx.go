package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// TxProvider abstracts the ability to open a transaction. *sqlx.DB satisfies it.
type TxProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

const (
	maxTxRetries = 3
	retryBackoff = 50 * time.Millisecond
)

// WithRetry runs fn inside a transaction and retries it when Postgres reports
// a transient concurrency failure (serialization conflict or deadlock). The
// retried transaction is invisible to callers; only exhausted retries surface.
func WithRetry(ctx context.Context, db TxProvider, fn func(tx *sqlx.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := runTx(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func runTx(ctx context.Context, db TxProvider, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// IsTransient reports whether err is a retryable Postgres concurrency failure.
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
