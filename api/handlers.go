/*
handlers.go - HTTP API handlers for the POS ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the ledger package.

ENDPOINTS:
  Orders:
    POST   /api/orders                      Create order with items
    GET    /api/orders/{id}                 Order, items, payments, refunds, log
    POST   /api/orders/{id}/items           Add item (until payment starts)
    POST   /api/orders/{id}/advance         Next lifecycle step (expected_status required)
    POST   /api/orders/{id}/status          Forced transition (allow-list)

  Payments:
    POST   /api/orders/{id}/payments        Finalize one payment
    POST   /api/orders/{id}/payments/split  Split across methods
    POST   /api/payments/{id}/refunds       Refund against a payment

  Sessions:
    POST   /api/sessions                    Sign in (returns open one if any)
    GET    /api/sessions/{id}               Session details
    GET    /api/sessions/{id}/totals        Computed per-method totals
    POST   /api/sessions/{id}/close         Sign out with totals
    POST   /api/sessions/{id}/cash-count    Drawer count after close

ERROR HANDLING:
  Errors are returned in the Result envelope with a stable code:
  - 400: validation_error
  - 401: unauthorized (no actor)
  - 404: not_found
  - 409: invalid_transition, overpayment_rejected, refund_exceeds_available,
         duplicate_count, session_already_open, order_locked,
         concurrency_conflict
  - 500: internal_error (details logged, never returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/pos-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Metrics *Metrics
	Log     *slog.Logger
}

func NewHandler(engine *ledger.Engine, metrics *Metrics, log *slog.Logger) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Engine: engine, Metrics: metrics, Log: log}
}

// =============================================================================
// ORDER ENDPOINTS
// =============================================================================

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]ledger.NewOrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, toNewOrderItem(it))
	}

	detail, err := h.Engine.Orders.CreateOrder(r.Context(), ledger.NewOrder{
		BranchID:       ledger.BranchID(req.BranchID),
		TableID:        req.TableID,
		Items:          items,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		Actor:          actorFrom(r.Context()),
	})
	h.Metrics.recordOperation("create_order", false, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(detail))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Engine.Orders.GetOrder(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(detail))
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req OrderItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, item, err := h.Engine.Orders.AddItem(r.Context(), ledger.OrderID(chi.URLParam(r, "id")),
		toNewOrderItem(req), actorFrom(r.Context()))
	h.Metrics.recordOperation("add_item", false, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddItemResponse{Result: ok(), Order: toOrderDTO(order), Item: toOrderItemDTO(item)})
}

func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	// Terminals must say which status they are advancing from, so a second
	// click on a stale screen fails instead of moving the order again.
	if strings.TrimSpace(req.ExpectedStatus) == "" {
		h.writeError(w, r, &ledger.ValidationError{Field: "expected_status", Message: "is required"})
		return
	}
	res, err := h.Engine.Lifecycle.AdvanceFrom(r.Context(), ledger.OrderID(chi.URLParam(r, "id")),
		ledger.OrderStatus(req.ExpectedStatus), actorFrom(r.Context()))
	h.Metrics.recordOperation("advance", false, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

func (h *Handler) TransitionTo(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Lifecycle.TransitionTo(r.Context(), ledger.OrderID(chi.URLParam(r, "id")),
		ledger.OrderStatus(req.Status), actorFrom(r.Context()))
	h.Metrics.recordOperation("transition_to", false, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

func (h *Handler) FinalizePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := h.Engine.Payments.FinalizePayment(r.Context(), ledger.PaymentRequest{
		OrderID:        ledger.OrderID(chi.URLParam(r, "id")),
		Amount:         req.Amount,
		Method:         ledger.PaymentMethod(req.Method),
		IdempotencyKey: req.IdempotencyKey,
		TransactionRef: req.TransactionRef,
		Actor:          actorFrom(r.Context()),
	})
	h.Metrics.recordOperation("finalize_payment", res.Idempotent, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, PaymentResponse{
		Result:      ok(),
		PaymentID:   string(res.Payment.ID),
		Idempotent:  res.Idempotent,
		OrderStatus: string(res.OrderStatus),
		PaidInFull:  res.PaidInFull,
		TotalPaid:   res.TotalPaid,
		Remaining:   res.Remaining,
	})
}

func (h *Handler) SplitPayment(w http.ResponseWriter, r *http.Request) {
	var req SplitPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries := make([]ledger.SplitEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, ledger.SplitEntry{
			Amount:         e.Amount,
			Method:         ledger.PaymentMethod(e.Method),
			IdempotencyKey: e.IdempotencyKey,
			TransactionRef: e.TransactionRef,
		})
	}

	res, err := h.Engine.Payments.SplitPayment(r.Context(), ledger.SplitRequest{
		OrderID: ledger.OrderID(chi.URLParam(r, "id")),
		Entries: entries,
		Actor:   actorFrom(r.Context()),
	})
	h.Metrics.recordOperation("split_payment", res.Idempotent, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ids := make([]string, 0, len(res.Payments))
	for _, p := range res.Payments {
		ids = append(ids, string(p.Payment.ID))
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, SplitPaymentResponse{
		Result:       ok(),
		TotalPaid:    res.TotalPaid,
		SplitGroupID: res.SplitGroupID,
		PaymentIDs:   ids,
		Idempotent:   res.Idempotent,
		OrderStatus:  string(res.OrderStatus),
		PaidInFull:   res.PaidInFull,
	})
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := h.Engine.Refunds.Refund(r.Context(), ledger.RefundRequest{
		PaymentID:      ledger.PaymentID(chi.URLParam(r, "id")),
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actorFrom(r.Context()),
	})
	h.Metrics.recordOperation("refund", res.Idempotent, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, RefundResponse{
		Result:        ok(),
		RefundID:      string(res.Refund.ID),
		PaymentStatus: string(res.PaymentStatus),
		Refundable:    res.Refundable,
		Idempotent:    res.Idempotent,
	})
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := ledger.UserID(req.UserID)
	if user == "" {
		user = ledger.UserID(actorFrom(r.Context()))
	}

	session, alreadyOpen, err := h.Engine.Sessions.EnsureSession(r.Context(), user, ledger.BranchID(req.BranchID))
	h.Metrics.recordOperation("start_session", alreadyOpen, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if alreadyOpen {
		status = http.StatusOK
	}
	writeJSON(w, status, SessionResponse{Result: ok(), Session: toSessionDTO(session), AlreadyOpen: alreadyOpen})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Engine.Sessions.GetSession(r.Context(), ledger.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Result: ok(), Session: toSessionDTO(session)})
}

func (h *Handler) SessionTotals(w http.ResponseWriter, r *http.Request) {
	id := ledger.SessionID(chi.URLParam(r, "id"))
	totals, err := h.Engine.Sessions.ComputeTotals(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TotalsResponse{Result: ok(), SessionID: string(id), Totals: totals, Grand: totals.Grand()})
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req CloseSessionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	id := ledger.SessionID(chi.URLParam(r, "id"))

	var totals ledger.SessionTotals
	if req.CashTotal == nil && req.CardTotal == nil && req.MobileTotal == nil {
		computed, err := h.Engine.Sessions.ComputeTotals(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		totals = computed
	} else {
		totals = ledger.SessionTotals{Cash: orZero(req.CashTotal), Card: orZero(req.CardTotal), Mobile: orZero(req.MobileTotal)}
	}

	res, err := h.Engine.Sessions.EndSession(r.Context(), id, totals)
	h.Metrics.recordOperation("end_session", res.Idempotent, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Result: ok(), Session: toSessionDTO(res.Session), Idempotent: res.Idempotent})
}

func (h *Handler) RecordCount(w http.ResponseWriter, r *http.Request) {
	var req CashCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, err := h.Engine.Cash.RecordCount(r.Context(), ledger.CountRequest{
		SessionID:   ledger.SessionID(chi.URLParam(r, "id")),
		CountedCash: req.CountedCash,
		Breakdown:   req.Breakdown,
		Notes:       req.Notes,
	})
	h.Metrics.recordOperation("record_count", false, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CashCountResponse{
		Result:           ok(),
		CountID:          string(count.ID),
		ExpectedCash:     count.ExpectedCash,
		CountedCash:      count.CountedCash,
		Variance:         count.Variance,
		RequiresApproval: count.RequiresApproval,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the ledger error taxonomy onto HTTP.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := ledger.Code(err)
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, Result{Error: msg, Code: code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsClientError(err), ledger.IsRetryable(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Result{Error: "invalid JSON body: " + err.Error(), Code: "validation_error"})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, Result{Error: "invalid JSON body: " + err.Error(), Code: "validation_error"})
	return false
}

func toNewOrderItem(it OrderItemRequest) ledger.NewOrderItem {
	return ledger.NewOrderItem{
		MenuItemID: ledger.MenuItemID(strings.TrimSpace(it.MenuItemID)),
		Quantity:   it.Quantity,
		UnitPrice:  it.UnitPrice,
		Notes:      it.Notes,
	}
}

func toTransitionResponse(res ledger.TransitionResult) TransitionResponse {
	return TransitionResponse{
		Result:         ok(),
		OrderID:        string(res.OrderID),
		PreviousStatus: string(res.PreviousStatus),
		NewStatus:      string(res.NewStatus),
	}
}

func orZero(m *ledger.Money) ledger.Money {
	if m == nil {
		return ledger.Zero
	}
	return *m
}
