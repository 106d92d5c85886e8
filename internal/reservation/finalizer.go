package reservation

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// Finalizer turns a cart of seats into a durable order exactly once per
// idempotency key.
type Finalizer struct {
	deps               Deps
	defaultCurrency    string
	enforceAmountMatch bool
}

func NewFinalizer(deps Deps, defaultCurrency string, enforceAmountMatch bool) *Finalizer {
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &Finalizer{deps: deps, defaultCurrency: defaultCurrency, enforceAmountMatch: enforceAmountMatch}
}

// CreateOrder re-validates every seat under its row lock, writes the order,
// its line items and the seat bookings, and commits all of it or nothing.
//
// Seats booked by anyone fail with ErrSeatTaken. Seats under a live hold
// whose token differs from req.HoldID fail with ErrHoldMismatch. A key that
// already produced an order fails with ErrDuplicateOrder.
func (f *Finalizer) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "order.finalize")
	defer span.End()

	req, err := req.Normalize(f.defaultCurrency)
	if err != nil {
		f.record(ctx, err)
		return nil, err
	}
	if f.enforceAmountMatch && req.Amount != req.ItemsTotal() {
		err = errors.Wrapf(domain.ErrAmountInvalid, "amount %d does not match items total %d", req.Amount, req.ItemsTotal())
		f.record(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("seats", len(req.Items)))

	if f.deps.Guard != nil {
		if id, seen, gerr := f.deps.Guard.Seen(ctx, req.IdempotencyKey); gerr != nil {
			f.deps.logger(ctx).WithError(gerr).Warn("idempotency guard lookup")
		} else if seen {
			err = errors.Wrapf(domain.ErrDuplicateOrder, "key already produced order %d", id)
			f.record(ctx, err)
			return nil, err
		}
	}

	var order domain.Order
	err = f.deps.Store.InTx(ctx, func(tx Tx) error {
		now := f.deps.now()

		if id, found, err := tx.FindOrderByKey(ctx, req.IdempotencyKey); err != nil {
			return err
		} else if found {
			return errors.Wrapf(domain.ErrDuplicateOrder, "key already produced order %d", id)
		}

		var ownHeld []domain.SeatRef
		for _, it := range req.Items {
			row, err := tx.LockSeat(ctx, it.Seat)
			if err != nil {
				return err
			}
			state := row.State(now)
			switch {
			case state.Status == domain.SeatBooked:
				return errors.Wrapf(domain.ErrSeatTaken, "%s is booked", it.Seat)
			case state.Status == domain.SeatHeld && state.HoldID != req.HoldID:
				return errors.Wrapf(domain.ErrHoldMismatch, "%s", it.Seat)
			case state.Status == domain.SeatHeld:
				ownHeld = append(ownHeld, it.Seat)
			}
		}

		order = domain.Order{
			Ref:            req.Ref,
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Status:         req.Status,
			PayMethod:      req.PayMethod,
			Description:    req.Description,
			Customer:       req.Customer,
			Items:          req.Items,
		}
		if order.Status == domain.OrderPaid {
			paidAt := now
			order.PaidAt = &paidAt
		}
		orderID, err := tx.InsertOrder(ctx, &order)
		if err != nil {
			return err
		}

		// The caller's own hold on the ordered seats is released before the
		// booking lands. Its seats outside this order keep their hold.
		for _, seat := range ownHeld {
			if err := tx.ClearHold(ctx, seat, req.HoldID); err != nil {
				return err
			}
		}
		for _, it := range req.Items {
			if err := tx.AttachOrder(ctx, it.Seat, orderID); err != nil {
				return err
			}
			if err := tx.InsertOrderItem(ctx, orderID, it); err != nil {
				return err
			}
		}

		return tx.Enqueue(ctx, orderEvent(domain.EventOrderCreated, order))
	})
	if err != nil {
		f.record(ctx, err)
		return nil, err
	}
	observability.OrderResults.WithLabelValues("ok").Inc()
	f.afterCommit(ctx, order)
	return &order, nil
}

func (f *Finalizer) afterCommit(ctx context.Context, order domain.Order) {
	log := f.deps.logger(ctx).WithFields(map[string]interface{}{"order_id": order.ID, "order_ref": order.Ref})
	f.deps.invalidate(ctx)
	if f.deps.Guard != nil {
		if err := f.deps.Guard.Remember(ctx, order.IdempotencyKey, order.ID); err != nil {
			log.WithError(err).Warn("remember idempotency key")
		}
	}
	if f.deps.Audit != nil {
		if err := f.deps.Audit.LogOrder(ctx, order); err != nil {
			log.WithError(err).Warn("audit order")
		}
	}
	log.Info("order finalized")
}

func (f *Finalizer) record(ctx context.Context, err error) {
	log := f.deps.logger(ctx).WithError(err)
	switch {
	case errors.Is(err, domain.ErrDuplicateOrder):
		observability.OrderResults.WithLabelValues("duplicate").Inc()
		log.Info("duplicate order rejected")
	case errors.Is(err, domain.ErrConflict):
		observability.OrderResults.WithLabelValues("conflict").Inc()
		log.Info("order lost seat race")
	case errors.Is(err, domain.ErrValidation):
		observability.OrderResults.WithLabelValues("invalid").Inc()
		log.Debug("order rejected")
	default:
		observability.OrderResults.WithLabelValues("error").Inc()
		log.Error("order failed")
	}
}

type orderEventItem struct {
	TableID  string  `json:"tableId"`
	SeatNo   int     `json:"seatNo"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

type orderEventPayload struct {
	OrderID  int64            `json:"orderId"`
	OrderRef string           `json:"orderRef"`
	Status   string           `json:"status"`
	Amount   float64          `json:"amount"`
	Currency string           `json:"currency"`
	Items    []orderEventItem `json:"items,omitempty"`
}

func orderEvent(eventType string, o domain.Order) domain.Event {
	p := orderEventPayload{
		OrderID:  o.ID,
		OrderRef: o.Ref,
		Status:   string(o.Status),
		Amount:   o.Amount.Major(),
		Currency: o.Currency,
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, orderEventItem{
			TableID:  it.Seat.TableID,
			SeatNo:   it.Seat.SeatNo,
			Category: string(it.Category),
			Price:    it.Price.Major(),
		})
	}
	payload, _ := json.Marshal(p)
	return domain.Event{Type: eventType, AggregateID: strconv.FormatInt(o.ID, 10), Payload: payload}
}
