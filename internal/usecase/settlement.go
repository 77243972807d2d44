package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"

	"github.com/shopspring/decimal"
)

// SettlementUsecase turns order and return handoffs into ledger entries.
type SettlementUsecase struct {
	store     *repository.Store
	processor *Processor
}

func NewSettlementUsecase(store *repository.Store, processor *Processor) *SettlementUsecase {
	return &SettlementUsecase{store: store, processor: processor}
}

// Settle books the single Sale of an order and stores its snapshot. Settling
// an order again with the same terms returns the first result; different
// terms are a conflict.
func (u *SettlementUsecase) Settle(ctx context.Context, s domain.Settlement, actor access.Actor) (*domain.Order, *domain.Transaction, error) {
	sellerID, err := validateSettlement(s)
	if err != nil {
		return nil, nil, err
	}

	unlock := u.processor.lock(sellerID, s.Currency)
	defer unlock()

	if order, sale, err := u.existingSettlement(ctx, s.OrderID); err == nil {
		if !sameSettlement(order, sellerID, s) {
			return nil, nil, fmt.Errorf("order %s already settled with different terms: %w", s.OrderID, domain.ErrConflict)
		}
		slog.Info("order already settled", "order_id", s.OrderID, "transaction_id", sale.ID)
		return order, sale, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	order := &domain.Order{
		ID:             s.OrderID,
		SellerID:       sellerID,
		Currency:       s.Currency,
		Subtotal:       s.Subtotal,
		ShippingCost:   s.ShippingCost,
		Taxes:          s.Taxes,
		DiscountAmount: s.DiscountAmount,
		Total:          s.Total,
		PlatformFee: domain.PlatformFee{
			Amount: s.PlatformFee,
			Base:   domain.ToBase(s.PlatformFee, s.Currency),
		},
		SellerPayout: s.SellerPayout,
	}

	sale := domain.Transaction{
		SellerID:    sellerID,
		Type:        domain.TxSale,
		Amount:      s.SellerPayout,
		Currency:    s.Currency,
		ReferenceID: s.OrderID,
		Description: "Sale for order " + s.OrderID,
		ProcessedBy: actor.ID,
	}
	if err := validateTransaction(sale); err != nil {
		return nil, nil, err
	}

	applied, err := u.processor.apply(ctx, sale, func(ctx context.Context, rtx *repository.Tx, applied *domain.Transaction) error {
		order.SaleTransactionID = applied.ID
		order.CreatedAt = applied.CreatedAt
		return rtx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Info("order settled",
		"order_id", order.ID,
		"seller_id", sellerID,
		"seller_payout", order.SellerPayout.String(),
		"platform_fee_base", order.PlatformFee.Base.String(),
	)
	return order, applied, nil
}

func sameSettlement(o *domain.Order, sellerID string, s domain.Settlement) bool {
	return o.SellerID == sellerID &&
		o.Currency == s.Currency &&
		o.Subtotal.Equal(s.Subtotal) &&
		o.ShippingCost.Equal(s.ShippingCost) &&
		o.Taxes.Equal(s.Taxes) &&
		o.DiscountAmount.Equal(s.DiscountAmount) &&
		o.Total.Equal(s.Total) &&
		o.SellerPayout.Equal(s.SellerPayout) &&
		o.PlatformFee.Amount.Equal(s.PlatformFee)
}

func (u *SettlementUsecase) existingSettlement(ctx context.Context, orderID string) (*domain.Order, *domain.Transaction, error) {
	order, err := u.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	sale, err := u.store.GetTransaction(ctx, order.SaleTransactionID)
	if err != nil {
		return nil, nil, err
	}
	return order, sale, nil
}

// RecordRefund debits the order's seller once a return is refunded. A return
// is booked at most once; repeats return the original Refund.
func (u *SettlementUsecase) RecordRefund(ctx context.Context, r domain.RefundRequest, actor access.Actor) (*domain.Transaction, error) {
	if err := validateRefund(r); err != nil {
		return nil, err
	}

	order, err := u.store.GetOrder(ctx, r.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Currency != r.Currency {
		return nil, domain.NewValidationError("currency",
			fmt.Sprintf("order %s was settled in %s", order.ID, order.Currency))
	}

	unlock := u.processor.lock(order.SellerID, order.Currency)
	defer unlock()

	if txID, err := u.store.RefundTransactionFor(ctx, r.ReturnID); err == nil {
		prev, err := u.store.GetTransaction(ctx, txID)
		if err != nil {
			return nil, err
		}
		if prev.SellerID != order.SellerID || prev.Currency != r.Currency || !prev.Amount.Neg().Equal(r.RefundAmount) {
			return nil, fmt.Errorf("return %s already refunded with different terms: %w", r.ReturnID, domain.ErrConflict)
		}
		slog.Info("return already refunded", "return_id", r.ReturnID, "transaction_id", txID)
		return prev, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	refunded, err := u.store.RefundedForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if refunded.Add(r.RefundAmount).GreaterThan(order.Total) {
		return nil, domain.NewValidationError("refundAmount",
			fmt.Sprintf("exceeds refundable amount %s", order.Total.Sub(refunded).StringFixed(order.Currency.Exponent())))
	}

	refund := domain.Transaction{
		SellerID:    order.SellerID,
		Type:        domain.TxRefund,
		Amount:      r.RefundAmount.Neg(),
		Currency:    order.Currency,
		ReferenceID: r.ReturnID,
		Description: fmt.Sprintf("Refund for return %s on order %s", r.ReturnID, order.ID),
		ProcessedBy: actor.ID,
	}
	if err := validateTransaction(refund); err != nil {
		return nil, err
	}

	return u.processor.apply(ctx, refund, func(ctx context.Context, rtx *repository.Tx, applied *domain.Transaction) error {
		return rtx.InsertOrderRefund(ctx, r.ReturnID, order.ID, applied.ID, r.RefundAmount, applied.CreatedAt)
	})
}

// validateSettlement checks the snapshot and returns the single seller it
// belongs to.
func validateSettlement(s domain.Settlement) (string, error) {
	v := &domain.ValidationError{}

	if s.OrderID == "" {
		v.Add("orderId", "required")
	}
	if !s.Currency.Valid() {
		v.Add("currency", "unsupported currency")
		return "", v
	}

	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"subtotal", s.Subtotal},
		{"shippingCost", s.ShippingCost},
		{"taxes", s.Taxes},
		{"discountAmount", s.DiscountAmount},
		{"total", s.Total},
		{"sellerPayout", s.SellerPayout},
		{"platformFee", s.PlatformFee},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			v.Add(a.field, "must not be negative")
			continue
		}
		if err := domain.CheckAmount(a.field, a.value, s.Currency); err != nil {
			v.Merge(err)
		}
	}

	expected := s.Subtotal.Add(s.ShippingCost).Add(s.Taxes).Sub(s.DiscountAmount)
	if !expected.Equal(s.Total) {
		v.Add("total", fmt.Sprintf("expected subtotal + shipping + taxes - discount = %s", expected.String()))
	}

	sellerID := ""
	if len(s.Items) == 0 {
		v.Add("items", "at least one item required")
	}
	for i, item := range s.Items {
		switch {
		case item.SellerID == "":
			v.Add(fmt.Sprintf("items[%d].sellerId", i), "required")
		case sellerID == "":
			sellerID = item.SellerID
		case item.SellerID != sellerID:
			v.Add(fmt.Sprintf("items[%d].sellerId", i), "all items of an order must belong to one seller")
		}
	}

	return sellerID, v.Err()
}

func validateRefund(r domain.RefundRequest) error {
	v := &domain.ValidationError{}
	if r.ReturnID == "" {
		v.Add("returnId", "required")
	}
	if r.OrderID == "" {
		v.Add("orderId", "required")
	}
	if !r.Currency.Valid() {
		v.Add("currency", "unsupported currency")
	} else if err := domain.CheckAmount("refundAmount", r.RefundAmount, r.Currency); err != nil {
		v.Merge(err)
	}
	if !r.RefundAmount.IsPositive() {
		v.Add("refundAmount", "must be positive")
	}
	return v.Err()
}
