package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OrderBook creates orders and edits their line items until payment starts.
type OrderBook struct {
	*env
}

type NewOrderItem struct {
	MenuItemID MenuItemID
	Quantity   int
	// UnitPrice is required without a Catalog. With one, the catalog price
	// wins and a differing UnitPrice is rejected.
	UnitPrice *Money
	Notes     string
}

type NewOrder struct {
	BranchID       BranchID
	TableID        *string
	Items          []NewOrderItem
	TaxAmount      Money
	DiscountAmount Money
	Actor          ActorID
}

// OrderDetail is everything a receipt or order screen needs.
type OrderDetail struct {
	Order     Order
	Items     []OrderItem
	Payments  []Payment
	Refunds   []Refund
	StatusLog []StatusLogEntry
}

// CreateOrder writes the order at created/unpaid with its items and the
// first status log row.
func (b *OrderBook) CreateOrder(ctx context.Context, req NewOrder) (OrderDetail, error) {
	if err := validateActor(req.Actor); err != nil {
		return OrderDetail{}, err
	}
	if strings.TrimSpace(string(req.BranchID)) == "" {
		return OrderDetail{}, invalid("branch_id", "is required")
	}
	tax, discount := req.TaxAmount.Round(), req.DiscountAmount.Round()
	if tax.IsNegative() {
		return OrderDetail{}, invalid("tax_amount", "must not be negative, got %s", tax)
	}
	if discount.IsNegative() {
		return OrderDetail{}, invalid("discount_amount", "must not be negative, got %s", discount)
	}

	now := b.clock()
	order := Order{
		ID:             OrderID(b.newID()),
		BranchID:       req.BranchID,
		TableID:        req.TableID,
		Status:         StatusCreated,
		PaymentStatus:  PaymentUnpaid,
		TaxAmount:      tax,
		DiscountAmount: discount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	items := make([]OrderItem, 0, len(req.Items))
	subtotal := Zero
	for i, in := range req.Items {
		item, err := b.lineItem(ctx, fmt.Sprintf("items[%d].", i), order, in, now)
		if err != nil {
			return OrderDetail{}, err
		}
		subtotal = subtotal.Add(item.TotalPrice)
		items = append(items, item)
	}
	order.Subtotal = subtotal
	order.TotalAmount = order.ExpectedTotal()
	if order.TotalAmount.IsNegative() {
		return OrderDetail{}, invalid("discount_amount", "discount %s exceeds subtotal %s + tax %s", discount, subtotal, tax)
	}

	entry := StatusLogEntry{
		ID:        b.newID(),
		OrderID:   order.ID,
		NewStatus: StatusCreated,
		ChangedBy: req.Actor,
		ChangedAt: now,
	}
	err := b.inTx(ctx, func(s Store) error {
		if err := s.CreateOrder(ctx, order, items); err != nil {
			return err
		}
		return s.AppendStatusLog(ctx, entry)
	})
	if err != nil {
		return OrderDetail{}, err
	}

	b.log.InfoContext(ctx, "order created", "action", "create_order",
		"order_id", order.ID, "branch_id", order.BranchID, "items", len(items), "total", order.TotalAmount.String())
	b.emit(Event{
		Type:       EventOrderCreated,
		OrderID:    order.ID,
		BranchID:   order.BranchID,
		Actor:      req.Actor,
		Attributes: map[string]string{"total_amount": order.TotalAmount.String()},
		At:         now,
	})
	return OrderDetail{Order: order, Items: items, StatusLog: []StatusLogEntry{entry}}, nil
}

// AddItem appends a line item and recomputes the order totals. Fails with
// ErrOrderLocked once payment has started.
func (b *OrderBook) AddItem(ctx context.Context, id OrderID, in NewOrderItem, actor ActorID) (Order, OrderItem, error) {
	if err := validateActor(actor); err != nil {
		return Order{}, OrderItem{}, err
	}

	var (
		order Order
		item  OrderItem
	)
	err := b.retry.Do(ctx, func() error {
		return b.inTx(ctx, func(s Store) error {
			current, err := lockOrder(ctx, s, id)
			if err != nil {
				return err
			}
			if current.IsLocked() {
				return fmt.Errorf("order %s: %w", id, ErrOrderLocked)
			}
			if !current.Status.Before(StatusPaid) {
				return &TransitionError{OrderID: id, From: current.Status, Reason: "items cannot be added after payment"}
			}

			now := b.clock()
			item, err = b.lineItem(ctx, "", *current, in, now)
			if err != nil {
				return err
			}
			if err := s.InsertOrderItem(ctx, item); err != nil {
				return err
			}

			updated := *current
			updated.Subtotal = current.Subtotal.Add(item.TotalPrice)
			updated.TotalAmount = updated.ExpectedTotal()
			updated.UpdatedAt = now
			if err := s.UpdateOrder(ctx, updated, current.Version); err != nil {
				return err
			}
			updated.Version = current.Version + 1
			order = updated
			return nil
		})
	})
	if err != nil {
		return Order{}, OrderItem{}, err
	}

	b.log.InfoContext(ctx, "order item added", "action", "add_item",
		"order_id", id, "menu_item_id", item.MenuItemID, "quantity", item.Quantity, "total", order.TotalAmount.String())
	return order, item, nil
}

func (b *OrderBook) GetOrder(ctx context.Context, id OrderID) (OrderDetail, error) {
	order, err := b.store.GetOrder(ctx, id)
	if err != nil {
		return OrderDetail{}, err
	}
	if order == nil {
		return OrderDetail{}, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	detail := OrderDetail{Order: *order}
	if detail.Items, err = b.store.ListOrderItems(ctx, id); err != nil {
		return OrderDetail{}, err
	}
	if detail.Payments, err = b.store.ListPaymentsByOrder(ctx, id); err != nil {
		return OrderDetail{}, err
	}
	for _, p := range detail.Payments {
		refunds, err := b.store.ListRefundsByPayment(ctx, p.ID)
		if err != nil {
			return OrderDetail{}, err
		}
		detail.Refunds = append(detail.Refunds, refunds...)
	}
	if detail.StatusLog, err = b.store.ListStatusLog(ctx, id); err != nil {
		return OrderDetail{}, err
	}
	return detail, nil
}

// lineItem validates one item and prices it, from the catalog when set.
func (b *OrderBook) lineItem(ctx context.Context, prefix string, order Order, in NewOrderItem, now time.Time) (OrderItem, error) {
	if strings.TrimSpace(string(in.MenuItemID)) == "" {
		return OrderItem{}, invalid(prefix+"menu_item_id", "is required")
	}
	if in.Quantity <= 0 {
		return OrderItem{}, invalid(prefix+"quantity", "must be greater than zero, got %d", in.Quantity)
	}

	var price Money
	switch {
	case b.catalog != nil:
		listed, found, err := b.catalog.LookupMenuItem(ctx, order.BranchID, in.MenuItemID)
		if err != nil {
			return OrderItem{}, fmt.Errorf("lookup menu item %s: %w", in.MenuItemID, err)
		}
		if !found {
			return OrderItem{}, invalid(prefix+"menu_item_id", "%s is not on the menu at branch %s", in.MenuItemID, order.BranchID)
		}
		if in.UnitPrice != nil && !in.UnitPrice.Round().Equal(listed) {
			return OrderItem{}, invalid(prefix+"unit_price", "%s does not match menu price %s", in.UnitPrice.Round(), listed)
		}
		price = listed
	case in.UnitPrice != nil:
		price = in.UnitPrice.Round()
	default:
		return OrderItem{}, invalid(prefix+"unit_price", "is required")
	}
	if price.IsNegative() {
		return OrderItem{}, invalid(prefix+"unit_price", "must not be negative, got %s", price)
	}

	return OrderItem{
		ID:         OrderItemID(b.newID()),
		OrderID:    order.ID,
		MenuItemID: in.MenuItemID,
		Quantity:   in.Quantity,
		UnitPrice:  price,
		TotalPrice: price.MulInt(in.Quantity),
		Notes:      strings.TrimSpace(in.Notes),
		CreatedAt:  now,
	}, nil
}
