package crdb

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/reservation"
)

const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 6
	retryBackoff  = 10 * time.Millisecond
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ reservation.Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return domain.Unavailable(r.pool.Ping(ctx), "ping store")
}

// WithTx runs fn in a serializable transaction. Aborts the store reports as
// retryable happen before anything is committed, so the whole of fn is run
// again from scratch; fn re-reads every row it decides on.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Unavailable(ctx.Err(), "transaction")
			case <-time.After(backoff(attempt)):
			}
		}
		err = r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			break
		}
	}
	if isRetryable(err) {
		return domain.Unavailable(err, fmt.Sprintf("transaction aborted %d times", maxTxAttempts))
	}
	return domain.Unavailable(err, "transaction")
}

// backoff doubles per attempt with up to the same again in jitter, so racing
// writers that aborted together do not retry in lockstep.
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<(attempt-1)) * retryBackoff
	return d + rand.N(d)
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InTx adapts WithTx to the reservation store contract.
func (r *Repository) InTx(ctx context.Context, fn func(tx reservation.Tx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == SerializationFailureCode || pgErr.Code == DeadlockDetectedCode
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	return false
}

// Tx carries the row-level ledger and order operations of one transaction.
type Tx struct {
	tx pgx.Tx
}

var _ reservation.Tx = (*Tx)(nil)
