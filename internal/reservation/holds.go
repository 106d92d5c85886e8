package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("reservation")

// Deps are the collaborators shared by the reservation services. Cache,
// Guard, Audit and Catalog are optional.
type Deps struct {
	Store   Store
	Cache   SnapshotCache
	Guard   KeyGuard
	Audit   AuditSink
	Catalog PriceCatalog
	Logger  observability.Logger
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger(ctx context.Context) observability.Logger {
	fallback := d.Logger
	if fallback == nil {
		fallback = observability.NewNopLogger()
	}
	return observability.FromContext(ctx, fallback)
}

// invalidate drops the cached snapshot after a committed seat change.
func (d Deps) invalidate(ctx context.Context) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.InvalidateSnapshot(ctx); err != nil {
		d.logger(ctx).WithError(err).Warn("invalidate lock snapshot")
	}
}

type HoldManager struct {
	deps       Deps
	defaultTTL time.Duration
	maxTTL     time.Duration
}

func NewHoldManager(deps Deps, defaultTTL, maxTTL time.Duration) *HoldManager {
	if defaultTTL <= 0 {
		defaultTTL = domain.DefaultHoldTTL
	}
	return &HoldManager{deps: deps, defaultTTL: defaultTTL, maxTTL: maxTTL}
}

// CreateOrRefresh claims every requested seat for the hold token, or none of
// them. A seat held by the same token gets its expiry extended; a seat that
// is booked or held live by another token fails the whole batch with
// ErrSeatTaken.
func (m *HoldManager) CreateOrRefresh(ctx context.Context, req domain.HoldRequest) (domain.Hold, error) {
	ctx, span := tracer.Start(ctx, "hold.create_or_refresh")
	defer span.End()

	req, err := req.Normalize(m.defaultTTL, m.maxTTL)
	if err != nil {
		observability.HoldResults.WithLabelValues("invalid").Inc()
		return domain.Hold{}, err
	}
	span.SetAttributes(attribute.Int("seats", len(req.Seats)))

	var hold domain.Hold
	err = m.deps.Store.InTx(ctx, func(tx Tx) error {
		now := m.deps.now()
		hold = domain.Hold{ID: req.HoldID, Seats: req.Seats, ExpiresAt: now.Add(req.TTL)}

		for _, seat := range req.Seats {
			row, err := tx.LockSeat(ctx, seat)
			if err != nil {
				return err
			}
			state := row.State(now)
			switch {
			case state.Status == domain.SeatBooked:
				return errors.Wrapf(domain.ErrSeatTaken, "%s is booked", seat)
			case state.Status == domain.SeatHeld && state.HoldID != req.HoldID:
				return errors.Wrapf(domain.ErrSeatTaken, "%s is held", seat)
			}
			if err := tx.UpsertHold(ctx, seat, req.HoldID, hold.ExpiresAt, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.record(ctx, err)
		return domain.Hold{}, err
	}
	observability.HoldResults.WithLabelValues("ok").Inc()

	m.deps.invalidate(ctx)
	if m.deps.Audit != nil {
		if err := m.deps.Audit.LogHold(ctx, hold); err != nil {
			m.deps.logger(ctx).WithError(err).Warn("audit hold")
		}
	}
	return hold, nil
}

// Release frees every unbooked seat still carrying the token and reports how
// many were freed. It never fails: releasing an unknown or expired hold frees
// nothing, and a storage error leaves the hold to expire on its own.
func (m *HoldManager) Release(ctx context.Context, holdID string) int64 {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return 0
	}
	released, err := m.deps.Store.ReleaseHold(ctx, holdID)
	if err != nil {
		m.deps.logger(ctx).WithError(err).WithField("hold_id", holdID).Warn("release hold")
		return 0
	}
	if released > 0 {
		m.deps.invalidate(ctx)
	}
	if m.deps.Audit != nil {
		if err := m.deps.Audit.LogRelease(ctx, holdID, released); err != nil {
			m.deps.logger(ctx).WithError(err).Warn("audit release")
		}
	}
	return released
}

func (m *HoldManager) record(ctx context.Context, err error) {
	log := m.deps.logger(ctx).WithError(err)
	switch {
	case errors.Is(err, domain.ErrConflict):
		observability.HoldResults.WithLabelValues("conflict").Inc()
		log.Debug("hold rejected")
	default:
		observability.HoldResults.WithLabelValues("error").Inc()
		log.Error("hold failed")
	}
}
