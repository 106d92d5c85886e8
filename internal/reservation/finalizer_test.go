package reservation

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestFinalizer_HoldThenOrder(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	seats := []domain.SeatRef{seat("A-1", 1), seat("A-1", 2)}

	hold, err := h.holds.CreateOrRefresh(ctx, domain.HoldRequest{Seats: seats, TTL: 600 * time.Second, HoldID: "H1"})
	require.NoError(t, err)

	order, err := h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "checkout-1",
		Items:          []domain.OrderItem{item("A-1", 1, 750000), item("A-1", 2, 750000)},
		Amount:         1500000,
		HoldID:         hold.ID,
	})
	require.NoError(t, err)
	assert.Positive(t, order.ID)
	assert.Equal(t, domain.OrderCreated, order.Status)
	assert.Equal(t, "LKR", order.Currency)
	assert.Equal(t, domain.DefaultPayMethod, order.PayMethod)
	assert.Regexp(t, `^ORD-[0-9A-Z]{8}$`, order.Ref)

	for _, s := range seats {
		st, err := h.inventory.SeatState(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, domain.SeatBooked, st.Status)
		assert.Equal(t, order.ID, st.OrderID)
		assert.Nil(t, h.store.seat(s).holdID)
	}

	_, err = h.holds.CreateOrRefresh(ctx, domain.HoldRequest{Seats: seats[:1], HoldID: "H2"})
	require.ErrorIs(t, err, domain.ErrSeatTaken)

	stored, err := h.desk.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)

	events := h.store.events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, 15000.0, payload["amount"])
	assert.Equal(t, order.Ref, payload["orderRef"])
}

func TestFinalizer_ClearsOwnHoldOnOrderedSeatsOnly(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ordered, kept := seat("A-2", 1), seat("A-2", 2)

	_, err := h.holds.CreateOrRefresh(ctx, domain.HoldRequest{Seats: []domain.SeatRef{ordered, kept}, HoldID: "H1"})
	require.NoError(t, err)

	order, err := h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "partial-1",
		Items:          []domain.OrderItem{item("A-2", 1, 500000)},
		Amount:         500000,
		HoldID:         "H1",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.SeatRef{ordered}, h.store.clearedHolds())

	st, err := h.inventory.SeatState(ctx, ordered)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatBooked, st.Status)
	assert.Equal(t, order.ID, st.OrderID)

	st, err = h.inventory.SeatState(ctx, kept)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatHeld, st.Status)
	assert.Equal(t, "H1", st.HoldID)

	// A seat that was free at checkout has no hold to clear.
	_, err = h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "partial-2",
		Items:          []domain.OrderItem{item("A-2", 3, 500000)},
		Amount:         500000,
		HoldID:         "H1",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.SeatRef{ordered}, h.store.clearedHolds())
}

func TestFinalizer_HoldMismatch(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	_, err := h.holds.CreateOrRefresh(ctx, domain.HoldRequest{Seats: []domain.SeatRef{seat("B-1", 1)}, HoldID: "H1"})
	require.NoError(t, err)

	req := domain.OrderRequest{
		IdempotencyKey: "k",
		Items:          []domain.OrderItem{item("B-1", 1, 500000)},
		Amount:         500000,
	}
	_, err = h.finalizer.CreateOrder(ctx, req)
	require.ErrorIs(t, err, domain.ErrHoldMismatch)

	req.HoldID = "H2"
	_, err = h.finalizer.CreateOrder(ctx, req)
	require.ErrorIs(t, err, domain.ErrHoldMismatch)
	assert.Equal(t, 0, h.store.orderCount())

	h.clock.Advance(domain.DefaultHoldTTL)
	_, err = h.finalizer.CreateOrder(ctx, req)
	require.NoError(t, err)
}

func TestFinalizer_SeatAlreadyBooked(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	first, err := h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "k1",
		Items:          []domain.OrderItem{item("C-1", 7, 500000)},
		Amount:         500000,
	})
	require.NoError(t, err)

	_, err = h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "k2",
		Items:          []domain.OrderItem{item("C-1", 6, 500000), item("C-1", 7, 500000)},
		Amount:         1000000,
	})
	require.ErrorIs(t, err, domain.ErrSeatTaken)
	assert.Equal(t, "SEAT_TAKEN", domain.Code(err))

	assert.Equal(t, 1, h.store.orderCount())
	assert.Nil(t, h.store.seat(seat("C-1", 6)).orderID)
	got, err := h.desk.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Items, got.Items)
}

func TestFinalizer_DuplicateKey(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	req := domain.OrderRequest{
		IdempotencyKey: "same",
		Items:          []domain.OrderItem{item("D-2", 1, 500000)},
		Amount:         500000,
	}
	_, err := h.finalizer.CreateOrder(ctx, req)
	require.NoError(t, err)

	req.Items = []domain.OrderItem{item("D-2", 2, 500000)}
	_, err = h.finalizer.CreateOrder(ctx, req)
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Equal(t, "DUPLICATE_ORDER", domain.Code(err))
	assert.Nil(t, h.store.seat(seat("D-2", 2)).orderID)
}

func TestFinalizer_ConcurrentSameKey(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	var ok, dup atomic.Int32
	var g errgroup.Group
	for i := 1; i <= 2; i++ {
		g.Go(func() error {
			_, err := h.finalizer.CreateOrder(ctx, domain.OrderRequest{
				IdempotencyKey: "race",
				Items:          []domain.OrderItem{item("E-1", i, 500000)},
				Amount:         500000,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, domain.ErrDuplicateOrder):
				dup.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 1, dup.Load())
	assert.Equal(t, 1, h.store.orderCount())
}

func TestFinalizer_GuardShortCircuits(t *testing.T) {
	guard := &fakeGuard{}
	h := newHarness(func(d *Deps) { d.Guard = guard })
	ctx := context.Background()

	order, err := h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "g1",
		Items:          []domain.OrderItem{item("F-1", 1, 500000)},
		Amount:         500000,
	})
	require.NoError(t, err)
	assert.Equal(t, order.ID, guard.keys["g1"])

	_, err = h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "g1",
		Items:          []domain.OrderItem{item("F-1", 2, 500000)},
		Amount:         500000,
	})
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestFinalizer_GuardFailureFallsBackToStore(t *testing.T) {
	guard := &fakeGuard{err: assert.AnError}
	h := newHarness(func(d *Deps) { d.Guard = guard })

	_, err := h.finalizer.CreateOrder(context.Background(), domain.OrderRequest{
		IdempotencyKey: "g2",
		Items:          []domain.OrderItem{item("F-2", 1, 500000)},
		Amount:         500000,
	})
	require.NoError(t, err)
}

func TestFinalizer_Validation(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	one := []domain.OrderItem{item("G-1", 1, 500000)}

	cases := []struct {
		name string
		req  domain.OrderRequest
		code string
	}{
		{"no key", domain.OrderRequest{Items: one, Amount: 500000}, "NO_IDEMPOTENCY_KEY"},
		{"no items", domain.OrderRequest{IdempotencyKey: "k", Amount: 500000}, "BAD_ITEM"},
		{"zero amount", domain.OrderRequest{IdempotencyKey: "k", Items: one}, "BAD_AMOUNT"},
		{"zero price", domain.OrderRequest{IdempotencyKey: "k", Items: []domain.OrderItem{item("G-1", 1, 0)}, Amount: 1}, "BAD_ITEM"},
		{"duplicate seat", domain.OrderRequest{IdempotencyKey: "k", Items: append(one, one...), Amount: 1}, "BAD_ITEM"},
		{"bad seat", domain.OrderRequest{IdempotencyKey: "k", Items: []domain.OrderItem{item("G-1", 0, 1)}, Amount: 1}, "BAD_ITEM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.finalizer.CreateOrder(ctx, tc.req)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, tc.code, domain.Code(err))
		})
	}
	assert.Equal(t, 0, h.store.orderCount())
}

func TestFinalizer_AmountMatch(t *testing.T) {
	h := newHarness(nil)
	strict := NewFinalizer(Deps{Store: h.store, Now: h.clock.Now}, "USD", true)
	ctx := context.Background()

	_, err := strict.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "m1",
		Items:          []domain.OrderItem{item("H-1", 1, 500000)},
		Amount:         400000,
	})
	require.ErrorIs(t, err, domain.ErrAmountInvalid)

	order, err := strict.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "m2",
		Items:          []domain.OrderItem{item("H-1", 1, 500000)},
		Amount:         500000,
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", order.Currency)

	// Without enforcement the caller's amount is stored as given.
	loose, err := h.finalizer.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "m3",
		Items:          []domain.OrderItem{item("H-1", 2, 500000)},
		Amount:         123,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(123), loose.Amount)
}
