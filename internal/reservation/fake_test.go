package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSeat struct {
	orderID   *int64
	holdID    *string
	expiresAt *time.Time
}

type fakeState struct {
	seats  map[domain.SeatRef]fakeSeat
	orders map[int64]domain.Order
	nextID int64
	events []domain.Event

	// cleared lists seats whose hold ClearHold actually dropped.
	cleared []domain.SeatRef
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		seats:   make(map[domain.SeatRef]fakeSeat, len(s.seats)),
		orders:  make(map[int64]domain.Order, len(s.orders)),
		nextID:  s.nextID,
		events:  append([]domain.Event(nil), s.events...),
		cleared: append([]domain.SeatRef(nil), s.cleared...),
	}
	for k, v := range s.seats {
		c.seats[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]domain.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	return c
}

// fakeStore serializes transactions behind one mutex and applies a
// transaction's writes only when fn returns nil.
type fakeStore struct {
	mu      sync.Mutex
	state   fakeState
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: fakeState{
		seats:  map[domain.SeatRef]fakeSeat{},
		orders: map[int64]domain.Order{},
	}}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return domain.Unavailable(s.failErr, "transaction")
	}
	work := s.state.clone()
	if err := fn(&fakeTx{st: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *fakeStore) SeatState(_ context.Context, seat domain.SeatRef, now time.Time) (domain.SeatState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rowOf(seat, s.state.seats[seat]).State(now), nil
}

func (s *fakeStore) SnapshotEffectiveLocks(_ context.Context, now time.Time) ([]domain.SeatRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.SeatRef{}
	for ref, row := range s.state.seats {
		if !rowOf(ref, row).State(now).Available() {
			out = append(out, ref)
		}
	}
	domain.SortSeats(out)
	return out, nil
}

func (s *fakeStore) ReleaseHold(_ context.Context, holdID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for ref, row := range s.state.seats {
		if row.orderID == nil && row.holdID != nil && *row.holdID == holdID {
			s.state.seats[ref] = fakeSeat{}
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CompactExpiredHolds(_ context.Context, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for ref, row := range s.state.seats {
		if int(n) >= limit {
			break
		}
		if row.orderID == nil && row.holdID != nil && row.expiresAt != nil && !row.expiresAt.After(now) {
			s.state.seats[ref] = fakeSeat{}
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (s *fakeStore) GetOrderByRef(_ context.Context, ref string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.state.orders {
		if o.Ref == ref {
			return &o, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Order{}
	for _, o := range s.state.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.state.events...)
}

func (s *fakeStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *fakeStore) clearedHolds() []domain.SeatRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SeatRef(nil), s.state.cleared...)
}

func (s *fakeStore) seat(ref domain.SeatRef) fakeSeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.seats[ref]
}

func rowOf(ref domain.SeatRef, r fakeSeat) domain.SeatRow {
	return domain.SeatRow{Seat: ref, OrderID: r.orderID, HoldID: r.holdID, HoldExpiresAt: r.expiresAt}
}

type fakeTx struct {
	st *fakeState
}

func (t *fakeTx) LockSeat(_ context.Context, seat domain.SeatRef) (domain.SeatRow, error) {
	row, ok := t.st.seats[seat]
	if !ok {
		t.st.seats[seat] = fakeSeat{}
	}
	return rowOf(seat, row), nil
}

func (t *fakeTx) UpsertHold(_ context.Context, seat domain.SeatRef, holdID string, expiresAt, now time.Time) error {
	row := t.st.seats[seat]
	if row.orderID != nil {
		return errors.Wrapf(domain.ErrSeatTaken, "%s", seat)
	}
	if row.holdID != nil && *row.holdID != holdID && row.expiresAt != nil && row.expiresAt.After(now) {
		return errors.Wrapf(domain.ErrSeatTaken, "%s", seat)
	}
	id, exp := holdID, expiresAt
	t.st.seats[seat] = fakeSeat{holdID: &id, expiresAt: &exp}
	return nil
}

func (t *fakeTx) AttachOrder(_ context.Context, seat domain.SeatRef, orderID int64) error {
	id := orderID
	t.st.seats[seat] = fakeSeat{orderID: &id}
	return nil
}

func (t *fakeTx) ClearHold(_ context.Context, seat domain.SeatRef, holdID string) error {
	row := t.st.seats[seat]
	if row.orderID == nil && row.holdID != nil && *row.holdID == holdID {
		t.st.seats[seat] = fakeSeat{}
		t.st.cleared = append(t.st.cleared, seat)
	}
	return nil
}

func (t *fakeTx) FindOrderByKey(_ context.Context, key string) (int64, bool, error) {
	for id, o := range t.st.orders {
		if o.IdempotencyKey == key {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *fakeTx) InsertOrder(_ context.Context, o *domain.Order) (int64, error) {
	t.st.nextID++
	o.ID = t.st.nextID
	stored := *o
	stored.Items = nil
	t.st.orders[o.ID] = stored
	return o.ID, nil
}

func (t *fakeTx) InsertOrderItem(_ context.Context, orderID int64, item domain.OrderItem) error {
	o := t.st.orders[orderID]
	o.Items = append(o.Items, item)
	t.st.orders[orderID] = o
	return nil
}

func (t *fakeTx) LockOrder(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (t *fakeTx) LockOrderByRef(_ context.Context, ref string) (*domain.Order, error) {
	for _, o := range t.st.orders {
		if o.Ref == ref {
			return &o, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *fakeTx) SetOrderStatus(_ context.Context, id int64, status domain.OrderStatus, at time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	switch status {
	case domain.OrderPaid:
		o.PaidAt = &at
	case domain.OrderCheckedIn:
		o.CheckedInAt = &at
	}
	t.st.orders[id] = o
	return nil
}

func (t *fakeTx) Enqueue(_ context.Context, event domain.Event) error {
	t.st.events = append(t.st.events, event)
	return nil
}

type fakeGuard struct {
	mu   sync.Mutex
	keys map[string]int64
	err  error
}

func (g *fakeGuard) Seen(_ context.Context, key string) (int64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, false, g.err
	}
	id, ok := g.keys[key]
	return id, ok, nil
}

func (g *fakeGuard) Remember(_ context.Context, key string, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = map[string]int64{}
	}
	g.keys[key] = orderID
	return nil
}

type fakeCatalog struct {
	prices map[string]domain.Cents
}

func (c *fakeCatalog) PriceFor(_ context.Context, tableID string) (domain.Category, domain.Cents, error) {
	p, ok := c.prices[tableID]
	if !ok {
		return "", 0, domain.ErrNotFound
	}
	return domain.CategoryGeneral, p, nil
}

func (c *fakeCatalog) SetTablePrice(_ context.Context, tableID string, _ domain.Category, price domain.Cents) error {
	if c.prices == nil {
		c.prices = map[string]domain.Cents{}
	}
	c.prices[tableID] = price
	return nil
}

type harness struct {
	store     *fakeStore
	clock     *fakeClock
	holds     *HoldManager
	finalizer *Finalizer
	inventory *Inventory
	desk      *OrderDesk
}

func newHarness(mod func(*Deps)) *harness {
	store, clock := newFakeStore(), newFakeClock()
	deps := Deps{Store: store, Now: clock.Now}
	if mod != nil {
		mod(&deps)
	}
	fin := NewFinalizer(deps, "", false)
	return &harness{
		store:     store,
		clock:     clock,
		holds:     NewHoldManager(deps, domain.DefaultHoldTTL, time.Hour),
		finalizer: fin,
		inventory: NewInventory(deps),
		desk:      NewOrderDesk(deps, fin),
	}
}

func seat(table string, n int) domain.SeatRef {
	return domain.SeatRef{TableID: table, SeatNo: n}
}

func item(table string, n int, price domain.Cents) domain.OrderItem {
	return domain.OrderItem{Seat: seat(table, n), Category: domain.CategoryVIP, Price: price}
}
