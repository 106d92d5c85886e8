package domain

import (
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	DefaultHoldTTL  = 600 * time.Second
	MaxHoldIDLength = 64
)

// Hold is the set of seats currently claimed by one browsing session. It has
// no row of its own; it exists only as ledger rows carrying its token.
type Hold struct {
	ID        string
	Seats     []SeatRef
	ExpiresAt time.Time
}

// HoldRequest is a create-or-refresh request for a batch of seats.
type HoldRequest struct {
	Seats  []SeatRef
	TTL    time.Duration
	HoldID string
}

// HoldTTL converts a client TTL given in seconds. Values whose nanosecond
// count does not fit a Duration are rejected instead of wrapping around.
func HoldTTL(seconds int64) (time.Duration, error) {
	if seconds > math.MaxInt64/int64(time.Second) || seconds < math.MinInt64/int64(time.Second) {
		return 0, errors.Wrapf(ErrBadRequest, "ttl %ds out of range", seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// NewHoldID returns an unguessable hold token.
func NewHoldID() string {
	return "H_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Normalize validates the request and fills defaults. The returned seats are
// de-duplicated and sorted in lock order.
func (r HoldRequest) Normalize(defaultTTL, maxTTL time.Duration) (HoldRequest, error) {
	if len(r.Seats) == 0 {
		return r, errors.Wrap(ErrBadRequest, "no seats requested")
	}
	seats, err := normalizeSeatSet(r.Seats, false)
	if err != nil {
		return r, err
	}
	r.Seats = seats

	switch {
	case r.TTL == 0:
		r.TTL = defaultTTL
	case r.TTL < 0:
		return r, errors.Wrap(ErrBadRequest, "ttl must be positive")
	case maxTTL > 0 && r.TTL > maxTTL:
		return r, errors.Wrapf(ErrBadRequest, "ttl %s exceeds %s", r.TTL, maxTTL)
	}

	r.HoldID = strings.TrimSpace(r.HoldID)
	if len(r.HoldID) > MaxHoldIDLength {
		return r, errors.Wrap(ErrBadRequest, "hold id too long")
	}
	if r.HoldID == "" {
		r.HoldID = NewHoldID()
	}
	return r, nil
}

// normalizeSeatSet validates each seat and sorts the set. Duplicates are
// collapsed, or rejected when strict is set.
func normalizeSeatSet(in []SeatRef, strict bool) ([]SeatRef, error) {
	seen := make(map[SeatRef]struct{}, len(in))
	out := make([]SeatRef, 0, len(in))
	for _, s := range in {
		n, err := s.Normalize()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[n]; dup {
			if strict {
				return nil, errors.Wrapf(ErrBadItem, "seat %s listed twice", n)
			}
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	SortSeats(out)
	return out, nil
}
