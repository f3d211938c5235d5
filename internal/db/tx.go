package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// TxOptions controls RunInTx.
type TxOptions struct {
	// MaxRetries bounds how many times the whole closure is re-run after a
	// serialization failure or deadlock. Zero means a single attempt.
	MaxRetries int
	// BaseDelay is the first backoff step; it doubles per retry with jitter.
	BaseDelay time.Duration
}

// DefaultTxOptions is what services use unless configured otherwise.
var DefaultTxOptions = TxOptions{MaxRetries: 5, BaseDelay: 10 * time.Millisecond}

// IsRetryable reports whether err is a Postgres serialization failure or
// deadlock, i.e. the transaction can be safely re-run from the start.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

// RunInTx runs fn inside a SERIALIZABLE transaction and commits it. When the
// database aborts the transaction with a retryable error the whole closure is
// run again on a fresh transaction, so fn must not keep state across calls.
// Any other error rolls back and is returned unchanged.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = runOnce(ctx, pool, fn)
		if err == nil || !IsRetryable(err) || attempt >= opts.MaxRetries {
			return err
		}

		delay := opts.BaseDelay << attempt
		if delay > 0 {
			delay += time.Duration(rand.Int64N(int64(delay)))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction retry aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func runOnce(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
