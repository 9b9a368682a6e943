/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Every response embeds
  Result, the uniform {success, error, code} envelope; operation-specific
  fields sit next to it.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results

MONEY:
  ledger.Money marshals as a fixed 3-decimal string ("12.500") and accepts
  strings or numbers on input.

VALIDATION:
  Validation is done by the ledger engine, not in DTOs. DTOs are pure data
  carriers.
*/
package api

import (
	"time"

	"github.com/warp/pos-ledger/ledger"
)

// Result is the envelope shared by every response.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func ok() Result { return Result{Success: true} }

// =============================================================================
// ORDERS
// =============================================================================

type OrderItemRequest struct {
	MenuItemID string        `json:"menu_item_id"`
	Quantity   int           `json:"quantity"`
	UnitPrice  *ledger.Money `json:"unit_price,omitempty"`
	Notes      string        `json:"notes,omitempty"`
}

type CreateOrderRequest struct {
	BranchID       string             `json:"branch_id"`
	TableID        *string            `json:"table_id,omitempty"`
	Items          []OrderItemRequest `json:"items"`
	TaxAmount      ledger.Money       `json:"tax_amount"`
	DiscountAmount ledger.Money       `json:"discount_amount"`
}

type AdvanceRequest struct {
	ExpectedStatus string `json:"expected_status"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type OrderDTO struct {
	ID             string       `json:"id"`
	BranchID       string       `json:"branch_id"`
	TableID        *string      `json:"table_id,omitempty"`
	Status         string       `json:"status"`
	PaymentStatus  string       `json:"payment_status"`
	Subtotal       ledger.Money `json:"subtotal"`
	TaxAmount      ledger.Money `json:"tax_amount"`
	DiscountAmount ledger.Money `json:"discount_amount"`
	TotalAmount    ledger.Money `json:"total_amount"`
	LockedAt       *string      `json:"locked_at,omitempty"`
	Version        int64        `json:"version"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at"`
}

type OrderItemDTO struct {
	ID         string       `json:"id"`
	MenuItemID string       `json:"menu_item_id"`
	Quantity   int          `json:"quantity"`
	UnitPrice  ledger.Money `json:"unit_price"`
	TotalPrice ledger.Money `json:"total_price"`
	Notes      string       `json:"notes,omitempty"`
}

type StatusLogDTO struct {
	PreviousStatus *string `json:"previous_status"`
	NewStatus      string  `json:"new_status"`
	ChangedBy      string  `json:"changed_by"`
	ChangedAt      string  `json:"changed_at"`
}

type OrderResponse struct {
	Result
	Order     OrderDTO       `json:"order"`
	Items     []OrderItemDTO `json:"items"`
	Payments  []PaymentDTO   `json:"payments,omitempty"`
	Refunds   []RefundDTO    `json:"refunds,omitempty"`
	StatusLog []StatusLogDTO `json:"status_log,omitempty"`
}

type AddItemResponse struct {
	Result
	Order OrderDTO     `json:"order"`
	Item  OrderItemDTO `json:"item"`
}

type TransitionResponse struct {
	Result
	OrderID        string `json:"order_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
}

// =============================================================================
// PAYMENTS / REFUNDS
// =============================================================================

type PaymentRequest struct {
	Amount         ledger.Money `json:"amount"`
	Method         string       `json:"method"`
	IdempotencyKey string       `json:"idempotency_key"`
	TransactionRef string       `json:"transaction_ref,omitempty"`
}

type SplitEntryRequest struct {
	Amount         ledger.Money `json:"amount"`
	Method         string       `json:"method"`
	IdempotencyKey string       `json:"idempotency_key"`
	TransactionRef string       `json:"transaction_ref,omitempty"`
}

type SplitPaymentRequest struct {
	Entries []SplitEntryRequest `json:"entries"`
}

type RefundRequest struct {
	Amount         ledger.Money `json:"amount"`
	Reason         string       `json:"reason"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

type PaymentDTO struct {
	ID             string       `json:"id"`
	OrderID        string       `json:"order_id"`
	Amount         ledger.Money `json:"amount"`
	Method         string       `json:"method"`
	Status         string       `json:"status"`
	IdempotencyKey string       `json:"idempotency_key"`
	TransactionRef string       `json:"transaction_ref,omitempty"`
	SplitGroupID   string       `json:"split_group_id,omitempty"`
	ProcessedBy    string       `json:"processed_by"`
	CreatedAt      string       `json:"created_at"`
}

type RefundDTO struct {
	ID          string       `json:"id"`
	PaymentID   string       `json:"payment_id"`
	Amount      ledger.Money `json:"amount"`
	Reason      string       `json:"reason"`
	ProcessedBy string       `json:"processed_by"`
	CreatedAt   string       `json:"created_at"`
}

type PaymentResponse struct {
	Result
	PaymentID   string       `json:"payment_id"`
	Idempotent  bool         `json:"idempotent"`
	OrderStatus string       `json:"order_status"`
	PaidInFull  bool         `json:"paid_in_full"`
	TotalPaid   ledger.Money `json:"total_paid"`
	Remaining   ledger.Money `json:"remaining"`
}

type SplitPaymentResponse struct {
	Result
	TotalPaid    ledger.Money `json:"total_paid"`
	SplitGroupID string       `json:"split_group_id"`
	PaymentIDs   []string     `json:"payment_ids"`
	Idempotent   bool         `json:"idempotent"`
	OrderStatus  string       `json:"order_status"`
	PaidInFull   bool         `json:"paid_in_full"`
}

type RefundResponse struct {
	Result
	RefundID      string       `json:"refund_id"`
	PaymentStatus string       `json:"payment_status"`
	Refundable    ledger.Money `json:"refundable"`
	Idempotent    bool         `json:"idempotent"`
}

// =============================================================================
// SESSIONS / CASH COUNTS
// =============================================================================

type StartSessionRequest struct {
	UserID   string `json:"user_id,omitempty"` // defaults to the actor
	BranchID string `json:"branch_id"`
}

// CloseSessionRequest carries the totals to write. When all three are
// omitted the server computes them from the session's payments.
type CloseSessionRequest struct {
	CashTotal   *ledger.Money `json:"cash_total,omitempty"`
	CardTotal   *ledger.Money `json:"card_total,omitempty"`
	MobileTotal *ledger.Money `json:"mobile_total,omitempty"`
}

type CashCountRequest struct {
	CountedCash *ledger.Money    `json:"counted_cash,omitempty"`
	Breakdown   ledger.Breakdown `json:"breakdown,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

type SessionDTO struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	BranchID   string               `json:"branch_id"`
	LoginTime  string               `json:"login_time"`
	LogoutTime *string              `json:"logout_time,omitempty"`
	Totals     ledger.SessionTotals `json:"totals"`
}

type SessionResponse struct {
	Result
	Session     SessionDTO `json:"session"`
	AlreadyOpen bool       `json:"already_open,omitempty"`
	Idempotent  bool       `json:"idempotent,omitempty"`
}

type TotalsResponse struct {
	Result
	SessionID string               `json:"session_id"`
	Totals    ledger.SessionTotals `json:"totals"`
	Grand     ledger.Money         `json:"grand_total"`
}

type CashCountResponse struct {
	Result
	CountID          string       `json:"count_id"`
	ExpectedCash     ledger.Money `json:"expected_cash"`
	CountedCash      ledger.Money `json:"counted_cash"`
	Variance         ledger.Money `json:"variance"`
	RequiresApproval bool         `json:"requires_approval"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toOrderDTO(o ledger.Order) OrderDTO {
	return OrderDTO{
		ID:             string(o.ID),
		BranchID:       string(o.BranchID),
		TableID:        o.TableID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		Subtotal:       o.Subtotal,
		TaxAmount:      o.TaxAmount,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
		LockedAt:       formatTimePtr(o.LockedAt),
		Version:        o.Version,
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

func toOrderItemDTO(it ledger.OrderItem) OrderItemDTO {
	return OrderItemDTO{
		ID:         string(it.ID),
		MenuItemID: string(it.MenuItemID),
		Quantity:   it.Quantity,
		UnitPrice:  it.UnitPrice,
		TotalPrice: it.TotalPrice,
		Notes:      it.Notes,
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		OrderID:        string(p.OrderID),
		Amount:         p.Amount,
		Method:         string(p.Method),
		Status:         string(p.Status),
		IdempotencyKey: p.IdempotencyKey,
		TransactionRef: p.TransactionRef,
		SplitGroupID:   p.SplitGroupID,
		ProcessedBy:    string(p.ProcessedBy),
		CreatedAt:      formatTime(p.CreatedAt),
	}
}

func toRefundDTO(r ledger.Refund) RefundDTO {
	return RefundDTO{
		ID:          string(r.ID),
		PaymentID:   string(r.PaymentID),
		Amount:      r.Amount,
		Reason:      r.Reason,
		ProcessedBy: string(r.ProcessedBy),
		CreatedAt:   formatTime(r.CreatedAt),
	}
}

func toOrderResponse(d ledger.OrderDetail) OrderResponse {
	resp := OrderResponse{Result: ok(), Order: toOrderDTO(d.Order), Items: []OrderItemDTO{}}
	for _, it := range d.Items {
		resp.Items = append(resp.Items, toOrderItemDTO(it))
	}
	for _, p := range d.Payments {
		resp.Payments = append(resp.Payments, toPaymentDTO(p))
	}
	for _, r := range d.Refunds {
		resp.Refunds = append(resp.Refunds, toRefundDTO(r))
	}
	for _, e := range d.StatusLog {
		var prev *string
		if e.PreviousStatus != nil {
			s := string(*e.PreviousStatus)
			prev = &s
		}
		resp.StatusLog = append(resp.StatusLog, StatusLogDTO{
			PreviousStatus: prev,
			NewStatus:      string(e.NewStatus),
			ChangedBy:      string(e.ChangedBy),
			ChangedAt:      formatTime(e.ChangedAt),
		})
	}
	return resp
}

func toSessionDTO(s ledger.StaffSession) SessionDTO {
	return SessionDTO{
		ID:         string(s.ID),
		UserID:     string(s.UserID),
		BranchID:   string(s.BranchID),
		LoginTime:  formatTime(s.LoginTime),
		LogoutTime: formatTimePtr(s.LogoutTime),
		Totals:     s.Totals,
	}
}
