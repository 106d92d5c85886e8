package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/payments"
	"github.com/robertarktes/seat-reservations/internal/reservation"
	"golang.org/x/sync/errgroup"
)

type HoldService interface {
	CreateOrRefresh(ctx context.Context, req domain.HoldRequest) (domain.Hold, error)
	Release(ctx context.Context, holdID string) int64
}

type OrderService interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
}

type InventoryService interface {
	EffectiveLocks(ctx context.Context) ([]domain.SeatRef, error)
	SeatState(ctx context.Context, seat domain.SeatRef) (domain.SeatState, error)
}

type DeskService interface {
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	RecordPayment(ctx context.Context, orderID int64, succeeded bool, txnID string) (*domain.Order, error)
	MarkPendingPayment(ctx context.Context, orderID int64) (*domain.Order, error)
	CheckIn(ctx context.Context, ref string) (*domain.Order, error)
	BoxOffice(ctx context.Context, req reservation.BoxOfficeRequest) (*domain.Order, error)
	SetTablePrice(ctx context.Context, tableID string, category domain.Category, price domain.Cents) error
}

// Check is one readiness probe, e.g. a store ping.
type Check func(ctx context.Context) error

type Handlers struct {
	holds     HoldService
	orders    OrderService
	inventory InventoryService
	desk      DeskService
	checks    map[string]Check
	logger    observability.Logger
}

func NewHandlers(holds HoldService, orders OrderService, inventory InventoryService, desk DeskService, checks map[string]Check, logger observability.Logger) *Handlers {
	return &Handlers{
		holds:     holds,
		orders:    orders,
		inventory: inventory,
		desk:      desk,
		checks:    checks,
		logger:    logger,
	}
}

func (h *Handlers) log(r *http.Request) observability.Logger {
	return observability.FromContext(r.Context(), h.logger)
}

func (h *Handlers) EffectiveLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.inventory.EffectiveLocks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "locks": locks})
}

func (h *Handlers) SeatState(w http.ResponseWriter, r *http.Request) {
	seatNo, err := strconv.Atoi(chi.URLParam(r, "seatNo"))
	if err != nil {
		h.writeError(w, r, errors.Wrap(domain.ErrBadItem, "seat number"))
		return
	}
	st, err := h.inventory.SeatState(r.Context(), domain.SeatRef{TableID: chi.URLParam(r, "tableId"), SeatNo: seatNo})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := map[string]interface{}{"ok": true, "state": st.Status}
	if st.Status == domain.SeatHeld {
		resp["holdExpiresAt"] = st.HoldExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Hold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seats  []domain.SeatRef `json:"seats"`
		TTLSec int64            `json:"ttlSec"`
		HoldID string           `json:"holdId"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ttl, err := domain.HoldTTL(req.TTLSec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hold, err := h.holds.CreateOrRefresh(r.Context(), domain.HoldRequest{
		Seats:  req.Seats,
		TTL:    ttl,
		HoldID: req.HoldID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"holdId":    hold.ID,
		"expiresAt": hold.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HoldID string `json:"holdId"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	released := h.holds.Release(r.Context(), req.HoldID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "released": released})
}

type itemRequest struct {
	TableID  string  `json:"tableId"`
	SeatNo   int     `json:"seatNo"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

type createOrderRequest struct {
	OrderRef    string          `json:"orderId"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	PayVia      string          `json:"payVia"`
	HoldID      string          `json:"holdId"`
	Customer    domain.Customer `json:"customer"`
	Items       []itemRequest   `json:"items"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = r.Header.Get("X-Idempotency-Key")
	}

	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{
			Seat:     domain.SeatRef{TableID: it.TableID, SeatNo: it.SeatNo},
			Category: domain.ParseCategory(it.Category),
			Price:    domain.CentsFromMajor(it.Price),
		})
	}

	order, err := h.orders.CreateOrder(r.Context(), domain.OrderRequest{
		IdempotencyKey: key,
		Items:          items,
		Amount:         domain.CentsFromMajor(req.Amount),
		Currency:       req.Currency,
		HoldID:         req.HoldID,
		Ref:            req.OrderRef,
		PayMethod:      req.PayVia,
		Description:    req.Description,
		Customer:       req.Customer,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":       true,
		"id":       order.ID,
		"orderRef": order.Ref,
		"amount":   order.Amount.Major(),
		"currency": order.Currency,
		"status":   order.Status,
	})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.desk.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "order": toOrderView(order)})
}

func (h *Handlers) MarkPendingPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.desk.MarkPendingPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": order.Status})
}

func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req payments.Message
	if !h.decode(w, r, &req) {
		return
	}
	if req.OrderID <= 0 {
		h.writeError(w, r, errors.Wrap(domain.ErrBadRequest, "orderId"))
		return
	}
	order, err := h.desk.RecordPayment(r.Context(), req.OrderID, payments.Succeeded(req.Status), req.TransactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": order.Status})
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, r, errors.Wrap(domain.ErrBadRequest, "limit"))
			return
		}
		limit = n
	}
	orders, err := h.desk.ListOrders(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, toOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "orders": views})
}

func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderRef string `json:"orderRef"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.desk.CheckIn(r.Context(), req.OrderRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "order": toOrderView(order)})
}

func (h *Handlers) BoxOffice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableID  string `json:"tableId"`
		Seats    []int  `json:"seats"`
		Source   string `json:"source"`
		OrderRef string `json:"orderRef"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = reservation.SourceTicketBook
	}
	order, err := h.desk.BoxOffice(r.Context(), reservation.BoxOfficeRequest{
		TableID: req.TableID,
		Seats:   req.Seats,
		Source:  req.Source,
		Ref:     req.OrderRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":       true,
		"id":       order.ID,
		"orderRef": order.Ref,
		"amount":   order.Amount.Major(),
		"status":   order.Status,
	})
}

func (h *Handlers) SetTablePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string  `json:"category"`
		Price    float64 `json:"price"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tableID := chi.URLParam(r, "tableId")
	err := h.desk.SetTablePrice(r.Context(), tableID, domain.ParseCategory(req.Category), domain.CentsFromMajor(req.Price))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// Readyz runs every registered probe in parallel and reports each result.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	errs := make([]error, len(h.checks))
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	var g errgroup.Group
	for i, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			errs[i] = check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for i, name := range names {
		results[name] = "ok"
		if errs[i] != nil {
			results[name] = "down"
			status = http.StatusServiceUnavailable
			h.log(r).WithError(errs[i]).WithField("check", name).Warn("readiness probe failed")
		}
	}
	writeJSON(w, status, map[string]interface{}{"ok": status == http.StatusOK, "checks": results})
}

func (h *Handlers) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, errors.Wrap(domain.ErrBadRequest, "order id"))
		return 0, false
	}
	return id, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.Wrap(domain.ErrBadRequest, err.Error()))
		return false
	}
	return true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log(r).WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorBody(domain.Code(err)))
}

// StatusFor maps an error class onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(code string) map[string]interface{} {
	return map[string]interface{}{"ok": false, "error": code}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type orderItemView struct {
	TableID  string  `json:"tableId"`
	SeatNo   int     `json:"seatNo"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

type orderView struct {
	ID          int64           `json:"id"`
	OrderRef    string          `json:"orderRef"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	PayMethod   string          `json:"payMethod"`
	Description string          `json:"description"`
	Customer    domain.Customer `json:"customer"`
	Items       []orderItemView `json:"items"`
	CreatedAt   time.Time       `json:"createdAt"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
	CheckedInAt *time.Time      `json:"checkedInAt,omitempty"`
}

func toOrderView(o *domain.Order) orderView {
	v := orderView{
		ID:          o.ID,
		OrderRef:    o.Ref,
		Amount:      o.Amount.Major(),
		Currency:    o.Currency,
		Status:      string(o.Status),
		PayMethod:   o.PayMethod,
		Description: o.Description,
		Customer:    o.Customer,
		Items:       make([]orderItemView, 0, len(o.Items)),
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
		CheckedInAt: o.CheckedInAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{
			TableID:  it.Seat.TableID,
			SeatNo:   it.Seat.SeatNo,
			Category: string(it.Category),
			Price:    it.Price.Major(),
		})
	}
	return v
}
