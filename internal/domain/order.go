package domain

import (
	"crypto/rand"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Cents is an amount in minor currency units.
type Cents int64

// CentsFromMajor converts a major-unit amount (7500.00) into cents.
func CentsFromMajor(v float64) Cents {
	return Cents(math.Round(v * 100))
}

func (c Cents) Major() float64 { return float64(c) / 100 }

type Category string

const (
	CategoryVIP     Category = "vip"
	CategoryGeneral Category = "general"
)

// ParseCategory maps any label other than "vip" to general.
func ParseCategory(s string) Category {
	if strings.EqualFold(strings.TrimSpace(s), string(CategoryVIP)) {
		return CategoryVIP
	}
	return CategoryGeneral
}

type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderPaid           OrderStatus = "PAID"
	OrderPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	OrderCheckedIn      OrderStatus = "CHECKED_IN"
)

const (
	DefaultCurrency   = "LKR"
	DefaultPayMethod  = "ONEPAY_CARD"
	MaxIdempotencyKey = 128
)

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// OrderItem is one seat in an order with the price charged at finalization.
// Line items are never rewritten once stored.
type OrderItem struct {
	Seat     SeatRef
	Category Category
	Price    Cents
}

type Order struct {
	ID             int64
	Ref            string
	IdempotencyKey string
	Amount         Cents
	Currency       string
	Status         OrderStatus
	PayMethod      string
	Description    string
	Customer       Customer
	Items          []OrderItem
	CreatedAt      time.Time
	PaidAt         *time.Time
	CheckedInAt    *time.Time
}

// OrderRequest is one checkout intent handed to the finalizer.
type OrderRequest struct {
	IdempotencyKey string
	Items          []OrderItem
	Amount         Cents
	Currency       string
	HoldID         string
	Ref            string
	PayMethod      string
	Description    string
	Customer       Customer
	// Status is the initial status: CREATED for web checkout, PAID for
	// counter sales settled on the spot.
	Status OrderStatus
}

// Normalize validates the request before any lock is taken. Items are
// returned in lock order.
func (r OrderRequest) Normalize(defaultCurrency string) (OrderRequest, error) {
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.IdempotencyKey == "" {
		return r, ErrNoIdempotencyKey
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKey {
		return r, errors.Wrap(ErrBadRequest, "idempotency key too long")
	}
	if len(r.Items) == 0 {
		return r, errors.Wrap(ErrBadItem, "order has no items")
	}
	if r.Amount <= 0 {
		return r, errors.Wrapf(ErrAmountInvalid, "amount %d", r.Amount)
	}

	seats := make([]SeatRef, len(r.Items))
	bySeat := make(map[SeatRef]OrderItem, len(r.Items))
	for i, it := range r.Items {
		if it.Price <= 0 {
			return r, errors.Wrapf(ErrBadItem, "price for %s must be positive", it.Seat)
		}
		seats[i] = it.Seat
	}
	seats, err := normalizeSeatSet(seats, true)
	if err != nil {
		return r, err
	}
	for _, it := range r.Items {
		n, _ := it.Seat.Normalize()
		it.Seat = n
		bySeat[n] = it
	}
	items := make([]OrderItem, len(seats))
	for i, s := range seats {
		items[i] = bySeat[s]
	}
	r.Items = items

	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}
	if len(r.Currency) > 8 {
		return r, errors.Wrap(ErrBadRequest, "currency code too long")
	}
	r.PayMethod = strings.ToUpper(strings.TrimSpace(r.PayMethod))
	if r.PayMethod == "" {
		r.PayMethod = DefaultPayMethod
	}
	r.HoldID = strings.TrimSpace(r.HoldID)
	r.Ref = strings.TrimSpace(r.Ref)
	if r.Ref == "" {
		r.Ref = NewOrderRef("ORD")
	}
	switch r.Status {
	case "":
		r.Status = OrderCreated
	case OrderCreated, OrderPaid:
	default:
		return r, errors.Wrapf(ErrBadRequest, "initial status %q", r.Status)
	}
	r.Description = strings.TrimSpace(r.Description)
	if r.Description == "" {
		r.Description = "Tickets for " + r.Ref
	}
	return r, nil
}

// ItemsTotal sums the line-item prices.
func (r OrderRequest) ItemsTotal() Cents {
	var sum Cents
	for _, it := range r.Items {
		sum += it.Price
	}
	return sum
}

const refAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewOrderRef returns an externally visible order reference like ORD-7K2M9QXA.
func NewOrderRef(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = refAlphabet[int(b[i])%len(refAlphabet)]
	}
	return prefix + "-" + string(b)
}

// Built-in price list used when the venue catalog has no entry for a table.
const (
	VIPSeatPrice     Cents = 750000
	GeneralSeatPrice Cents = 500000
)

// DefaultPricing classifies tables A through E as VIP.
func DefaultPricing(tableID string) (Category, Cents) {
	t := strings.ToUpper(strings.TrimSpace(tableID))
	if t != "" && strings.ContainsRune("ABCDE", rune(t[0])) {
		return CategoryVIP, VIPSeatPrice
	}
	return CategoryGeneral, GeneralSeatPrice
}

// Event is an order lifecycle notification written to the outbox in the same
// transaction as the state change it describes.
type Event struct {
	Type        string
	AggregateID string
	Payload     []byte
}

const (
	EventOrderCreated       = "order.created"
	EventOrderPendingPay    = "order.pending_payment"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderCheckedIn     = "order.checked_in"
)
