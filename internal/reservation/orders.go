package reservation

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

const maxListOrders = 500

// Box-office sale channels.
const (
	SourceTicketBook = "ticket_book"
	SourcePickMe     = "pickme"
)

// BoxOfficeRequest is a counter sale that skips the hold step.
type BoxOfficeRequest struct {
	TableID string
	Seats   []int
	Source  string
	Ref     string
}

// OrderDesk covers everything that happens to an order after checkout:
// payment outcomes, check-in, admin lookups and box-office sales.
type OrderDesk struct {
	deps      Deps
	finalizer *Finalizer
}

func NewOrderDesk(deps Deps, finalizer *Finalizer) *OrderDesk {
	return &OrderDesk{deps: deps, finalizer: finalizer}
}

func (d *OrderDesk) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, errors.Wrapf(domain.ErrBadRequest, "order id %d", id)
	}
	return d.deps.Store.GetOrder(ctx, id)
}

func (d *OrderDesk) GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.Wrap(domain.ErrBadRequest, "empty order ref")
	}
	return d.deps.Store.GetOrderByRef(ctx, ref)
}

// ListOrders returns the newest orders first. limit is clamped to 1..500.
func (d *OrderDesk) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxListOrders {
		limit = maxListOrders
	}
	return d.deps.Store.ListOrders(ctx, limit)
}

// RecordPayment applies a payment outcome. A repeated success on a paid
// order is a no-op; a failure reported after the order was paid is rejected
// with ErrAlreadyPaid.
func (d *OrderDesk) RecordPayment(ctx context.Context, orderID int64, succeeded bool, txnID string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "order.record_payment")
	defer span.End()

	target, event := domain.OrderPaymentFailed, domain.EventOrderPaymentFailed
	if succeeded {
		target, event = domain.OrderPaid, domain.EventOrderPaid
	}
	order, changed, err := d.transition(ctx, func(tx Tx) (*domain.Order, error) {
		return tx.LockOrder(ctx, orderID)
	}, func(o *domain.Order) (bool, error) {
		if o.Status == target {
			return false, nil
		}
		if o.Status == domain.OrderPaid || o.Status == domain.OrderCheckedIn {
			if succeeded {
				return false, nil
			}
			return false, errors.Wrapf(domain.ErrAlreadyPaid, "order %d", o.ID)
		}
		return true, nil
	}, target, event)
	if err != nil {
		return nil, err
	}
	d.deps.logger(ctx).WithFields(map[string]interface{}{
		"order_id": orderID, "txn_id": txnID, "status": order.Status, "changed": changed,
	}).Info("payment recorded")
	return order, nil
}

// MarkPendingPayment flags an order as handed to the payment gateway.
func (d *OrderDesk) MarkPendingPayment(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, _, err := d.transition(ctx, func(tx Tx) (*domain.Order, error) {
		return tx.LockOrder(ctx, orderID)
	}, func(o *domain.Order) (bool, error) {
		switch o.Status {
		case domain.OrderPaid, domain.OrderCheckedIn:
			return false, errors.Wrapf(domain.ErrAlreadyPaid, "order %d", o.ID)
		case domain.OrderPendingPayment:
			return false, nil
		}
		return true, nil
	}, domain.OrderPendingPayment, domain.EventOrderPendingPay)
	return order, err
}

// CheckIn marks the order's attendees as arrived. Only paid orders may check
// in; anything else fails with ErrNotPaid. Checking in twice returns the
// order unchanged.
func (d *OrderDesk) CheckIn(ctx context.Context, ref string) (*domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.Wrap(domain.ErrBadRequest, "empty order ref")
	}
	order, _, err := d.transition(ctx, func(tx Tx) (*domain.Order, error) {
		return tx.LockOrderByRef(ctx, ref)
	}, func(o *domain.Order) (bool, error) {
		switch o.Status {
		case domain.OrderCheckedIn:
			return false, nil
		case domain.OrderPaid:
			return true, nil
		}
		return false, errors.Wrapf(domain.ErrNotPaid, "order %s is %s", o.Ref, o.Status)
	}, domain.OrderCheckedIn, domain.EventOrderCheckedIn)
	return order, err
}

// transition locks one order, asks allow whether it may move to target and
// writes the new status plus its outbox event in the same transaction.
func (d *OrderDesk) transition(
	ctx context.Context,
	lock func(tx Tx) (*domain.Order, error),
	allow func(o *domain.Order) (bool, error),
	target domain.OrderStatus,
	eventType string,
) (*domain.Order, bool, error) {
	var (
		order   *domain.Order
		changed bool
	)
	err := d.deps.Store.InTx(ctx, func(tx Tx) error {
		changed = false
		o, err := lock(tx)
		if err != nil {
			return err
		}
		order = o
		ok, err := allow(o)
		if err != nil || !ok {
			return err
		}
		now := d.deps.now()
		if err := tx.SetOrderStatus(ctx, o.ID, target, now); err != nil {
			return err
		}
		o.Status = target
		switch target {
		case domain.OrderPaid:
			o.PaidAt = &now
		case domain.OrderCheckedIn:
			o.CheckedInAt = &now
		}
		changed = true
		return tx.Enqueue(ctx, orderEvent(eventType, *o))
	})
	if err != nil {
		return nil, false, err
	}
	if changed && d.deps.Audit != nil {
		if err := d.deps.Audit.LogStatus(ctx, order.ID, order.Status); err != nil {
			d.deps.logger(ctx).WithError(err).Warn("audit status")
		}
	}
	return order, changed, nil
}

// BoxOffice sells seats at the counter. Seats are priced from the venue
// catalog, falling back to the built-in VIP and general prices, and the
// order is created already paid.
func (d *OrderDesk) BoxOffice(ctx context.Context, req BoxOfficeRequest) (*domain.Order, error) {
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" || len(req.Seats) == 0 {
		return nil, errors.Wrap(domain.ErrBadRequest, "table and seats are required")
	}

	var prefix, payMethod, label string
	switch strings.ToLower(strings.TrimSpace(req.Source)) {
	case SourceTicketBook:
		prefix, payMethod, label = "TBK", "TICKET_BOOK", "Ticket Book"
	case SourcePickMe:
		prefix, payMethod, label = "PME", "PICKME", "PickMe"
	default:
		return nil, errors.Wrapf(domain.ErrBadRequest, "unknown source %q", req.Source)
	}

	category, price := d.priceFor(ctx, tableID)
	items := make([]domain.OrderItem, 0, len(req.Seats))
	var total domain.Cents
	for _, n := range req.Seats {
		items = append(items, domain.OrderItem{
			Seat:     domain.SeatRef{TableID: tableID, SeatNo: n},
			Category: category,
			Price:    price,
		})
		total += price
	}

	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		ref = domain.NewOrderRef(prefix)
	}
	return d.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "box:" + uuid.NewString(),
		Items:          items,
		Amount:         total,
		Ref:            ref,
		PayMethod:      payMethod,
		Description:    label + " sale " + ref,
		Customer:       domain.Customer{Name: label},
		Status:         domain.OrderPaid,
	})
}

func (d *OrderDesk) priceFor(ctx context.Context, tableID string) (domain.Category, domain.Cents) {
	if d.deps.Catalog != nil {
		category, price, err := d.deps.Catalog.PriceFor(ctx, tableID)
		switch {
		case err == nil && price > 0:
			return category, price
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			d.deps.logger(ctx).WithError(err).WithField("table_id", tableID).Warn("price catalog lookup")
		}
	}
	return domain.DefaultPricing(tableID)
}

// SetTablePrice updates the venue catalog entry for a table.
func (d *OrderDesk) SetTablePrice(ctx context.Context, tableID string, category domain.Category, price domain.Cents) error {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return errors.Wrap(domain.ErrBadRequest, "empty table id")
	}
	if price <= 0 {
		return errors.Wrapf(domain.ErrAmountInvalid, "price %d", price)
	}
	if d.deps.Catalog == nil {
		return domain.Unavailable(errors.New("price catalog not configured"), "set table price")
	}
	return d.deps.Catalog.SetTablePrice(ctx, tableID, category, price)
}
