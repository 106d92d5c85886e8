package reservation

import (
	"context"

	"github.com/robertarktes/seat-reservations/internal/domain"
)

// Inventory answers which seats cannot be selected right now. Its answers are
// advisory; holds and orders re-check every seat under lock.
type Inventory struct {
	deps Deps
}

func NewInventory(deps Deps) *Inventory {
	return &Inventory{deps: deps}
}

// EffectiveLocks returns booked seats plus seats under a live hold.
func (v *Inventory) EffectiveLocks(ctx context.Context) ([]domain.SeatRef, error) {
	log := v.deps.logger(ctx)
	if v.deps.Cache != nil {
		locks, ok, err := v.deps.Cache.GetSnapshot(ctx)
		if err != nil {
			log.WithError(err).Warn("read lock snapshot cache")
		} else if ok {
			return locks, nil
		}
	}

	locks, err := v.deps.Store.SnapshotEffectiveLocks(ctx, v.deps.now())
	if err != nil {
		return nil, err
	}
	if v.deps.Cache != nil {
		if err := v.deps.Cache.SetSnapshot(ctx, locks); err != nil {
			log.WithError(err).Warn("write lock snapshot cache")
		}
	}
	return locks, nil
}

// SeatState reports the effective state of a single seat.
func (v *Inventory) SeatState(ctx context.Context, seat domain.SeatRef) (domain.SeatState, error) {
	seat, err := seat.Normalize()
	if err != nil {
		return domain.SeatState{}, err
	}
	return v.deps.Store.SeatState(ctx, seat, v.deps.now())
}
