package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// LockSeat creates the seat's row if it has never been claimed and then reads
// it FOR UPDATE, so first claims on a fresh seat queue on the row lock just
// like claims on an existing one.
func (t *Tx) LockSeat(ctx context.Context, seat domain.SeatRef) (domain.SeatRow, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO seat_locks (table_id, seat_no)
		VALUES ($1, $2)
		ON CONFLICT (table_id, seat_no) DO NOTHING
	`, seat.TableID, seat.SeatNo)
	if err != nil {
		return domain.SeatRow{}, errors.Wrapf(err, "ensure seat %s", seat)
	}

	row := domain.SeatRow{Seat: seat}
	err = t.tx.QueryRow(ctx, `
		SELECT order_id, hold_id, hold_expires_at
		FROM seat_locks
		WHERE table_id = $1 AND seat_no = $2
		FOR UPDATE
	`, seat.TableID, seat.SeatNo).Scan(&row.OrderID, &row.HoldID, &row.HoldExpiresAt)
	if err != nil {
		return domain.SeatRow{}, errors.Wrapf(err, "lock seat %s", seat)
	}
	return row, nil
}

// UpsertHold writes the hold unless the seat is booked or held live by a
// different token; in that case nothing changes and ErrSeatTaken is returned.
func (t *Tx) UpsertHold(ctx context.Context, seat domain.SeatRef, holdID string, expiresAt, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO seat_locks (table_id, seat_no, hold_id, hold_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_id, seat_no) DO UPDATE
		SET hold_id = excluded.hold_id,
		    hold_expires_at = excluded.hold_expires_at,
		    updated_at = excluded.updated_at
		WHERE seat_locks.order_id IS NULL
		  AND (seat_locks.hold_id IS NULL
		       OR seat_locks.hold_id = excluded.hold_id
		       OR seat_locks.hold_expires_at IS NULL
		       OR seat_locks.hold_expires_at <= $5)
	`, seat.TableID, seat.SeatNo, holdID, expiresAt, now)
	if err != nil {
		return errors.Wrapf(err, "upsert hold on %s", seat)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrSeatTaken, "%s", seat)
	}
	return nil
}

// AttachOrder books the seat and drops any hold metadata on it. Callers must
// have re-checked availability under the row lock.
func (t *Tx) AttachOrder(ctx context.Context, seat domain.SeatRef, orderID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO seat_locks (table_id, seat_no, order_id, hold_id, hold_expires_at, updated_at)
		VALUES ($1, $2, $3, NULL, NULL, now())
		ON CONFLICT (table_id, seat_no) DO UPDATE
		SET order_id = excluded.order_id,
		    hold_id = NULL,
		    hold_expires_at = NULL,
		    updated_at = now()
	`, seat.TableID, seat.SeatNo, orderID)
	return errors.Wrapf(err, "attach order %d to %s", orderID, seat)
}

// ClearHold drops the hold only while holdID still owns the seat and nobody
// has booked it.
func (t *Tx) ClearHold(ctx context.Context, seat domain.SeatRef, holdID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE seat_locks
		SET hold_id = NULL, hold_expires_at = NULL, updated_at = now()
		WHERE table_id = $1 AND seat_no = $2 AND hold_id = $3 AND order_id IS NULL
	`, seat.TableID, seat.SeatNo, holdID)
	return errors.Wrapf(err, "clear hold on %s", seat)
}

func (r *Repository) SeatState(ctx context.Context, seat domain.SeatRef, now time.Time) (domain.SeatState, error) {
	row := domain.SeatRow{Seat: seat}
	err := r.pool.QueryRow(ctx, `
		SELECT order_id, hold_id, hold_expires_at
		FROM seat_locks
		WHERE table_id = $1 AND seat_no = $2
	`, seat.TableID, seat.SeatNo).Scan(&row.OrderID, &row.HoldID, &row.HoldExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SeatState{Status: domain.SeatFree}, nil
	}
	if err != nil {
		return domain.SeatState{}, domain.Unavailable(err, "read seat state")
	}
	return row.State(now), nil
}

// SnapshotEffectiveLocks lists seats that are booked or under a live hold.
// It is a plain read-committed style read for advisory use.
func (r *Repository) SnapshotEffectiveLocks(ctx context.Context, now time.Time) ([]domain.SeatRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT table_id, seat_no
		FROM seat_locks
		WHERE order_id IS NOT NULL
		   OR (hold_id IS NOT NULL AND hold_expires_at > $1)
		ORDER BY table_id, seat_no
	`, now)
	if err != nil {
		return nil, domain.Unavailable(err, "snapshot locks")
	}
	defer rows.Close()

	locks := []domain.SeatRef{}
	for rows.Next() {
		var s domain.SeatRef
		if err := rows.Scan(&s.TableID, &s.SeatNo); err != nil {
			return nil, domain.Unavailable(err, "scan lock")
		}
		locks = append(locks, s)
	}
	return locks, domain.Unavailable(rows.Err(), "snapshot locks")
}

// ReleaseHold clears every unbooked seat still carrying the token. Each row
// is released independently, so no explicit transaction is needed.
func (r *Repository) ReleaseHold(ctx context.Context, holdID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE seat_locks
		SET hold_id = NULL, hold_expires_at = NULL, updated_at = now()
		WHERE hold_id = $1 AND order_id IS NULL
	`, holdID)
	if err != nil {
		return 0, domain.Unavailable(err, "release hold")
	}
	return tag.RowsAffected(), nil
}

// CompactExpiredHolds clears hold fields of expired, unbooked rows. Rows a
// live transaction has locked are skipped, and rows are never deleted, so
// availability as seen by any reader is unchanged.
func (r *Repository) CompactExpiredHolds(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE seat_locks
		SET hold_id = NULL, hold_expires_at = NULL, updated_at = now()
		WHERE (table_id, seat_no) IN (
			SELECT table_id, seat_no
			FROM seat_locks
			WHERE order_id IS NULL
			  AND hold_id IS NOT NULL
			  AND hold_expires_at <= $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND order_id IS NULL
		AND hold_expires_at <= $1
	`, now, limit)
	if err != nil {
		return 0, domain.Unavailable(err, "compact holds")
	}
	return tag.RowsAffected(), nil
}
