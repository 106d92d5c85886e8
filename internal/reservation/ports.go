package reservation

import (
	"context"
	"time"

	"github.com/robertarktes/seat-reservations/internal/domain"
)

// Store is the transactional seat ledger plus order storage.
type Store interface {
	// InTx runs fn inside one transaction. fn may be invoked more than once
	// when the store aborts the transaction for a retryable reason before it
	// commits; every invocation starts from a clean slate.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	SeatState(ctx context.Context, seat domain.SeatRef, now time.Time) (domain.SeatState, error)
	SnapshotEffectiveLocks(ctx context.Context, now time.Time) ([]domain.SeatRef, error)
	ReleaseHold(ctx context.Context, holdID string) (int64, error)
	CompactExpiredHolds(ctx context.Context, now time.Time, limit int) (int64, error)

	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
}

// Tx is the set of row-level operations available inside a transaction.
type Tx interface {
	// LockSeat returns the seat's row, holding its lock until the
	// transaction ends. A row is created for seats never seen before.
	LockSeat(ctx context.Context, seat domain.SeatRef) (domain.SeatRow, error)
	UpsertHold(ctx context.Context, seat domain.SeatRef, holdID string, expiresAt, now time.Time) error
	AttachOrder(ctx context.Context, seat domain.SeatRef, orderID int64) error
	ClearHold(ctx context.Context, seat domain.SeatRef, holdID string) error

	FindOrderByKey(ctx context.Context, key string) (int64, bool, error)
	InsertOrder(ctx context.Context, order *domain.Order) (int64, error)
	InsertOrderItem(ctx context.Context, orderID int64, item domain.OrderItem) error
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	LockOrderByRef(ctx context.Context, ref string) (*domain.Order, error)
	SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, at time.Time) error

	Enqueue(ctx context.Context, event domain.Event) error
}

// SnapshotCache keeps the last effective-locks snapshot for a short time.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context) ([]domain.SeatRef, bool, error)
	SetSnapshot(ctx context.Context, locks []domain.SeatRef) error
	InvalidateSnapshot(ctx context.Context) error
}

// KeyGuard records idempotency keys of committed orders.
type KeyGuard interface {
	Seen(ctx context.Context, key string) (int64, bool, error)
	Remember(ctx context.Context, key string, orderID int64) error
}

// AuditSink receives a record of every committed state change.
type AuditSink interface {
	LogHold(ctx context.Context, hold domain.Hold) error
	LogRelease(ctx context.Context, holdID string, released int64) error
	LogOrder(ctx context.Context, order domain.Order) error
	LogStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
}

// PriceCatalog prices seats for box-office sales.
type PriceCatalog interface {
	PriceFor(ctx context.Context, tableID string) (domain.Category, domain.Cents, error)
	SetTablePrice(ctx context.Context, tableID string, category domain.Category, price domain.Cents) error
}
