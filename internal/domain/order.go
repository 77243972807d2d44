package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformFee is the commission on one order, in the order currency and
// normalized to BaseCurrency for cross-currency reporting.
type PlatformFee struct {
	Amount decimal.Decimal
	Base   decimal.Decimal
}

// Order is the financial snapshot of an order as seen by the ledger.
type Order struct {
	ID                string
	SellerID          string
	Currency          Currency
	Subtotal          decimal.Decimal
	ShippingCost      decimal.Decimal
	Taxes             decimal.Decimal
	DiscountAmount    decimal.Decimal
	Total             decimal.Decimal
	PlatformFee       PlatformFee
	SellerPayout      decimal.Decimal
	SaleTransactionID string
	CreatedAt         time.Time
}

type OrderItem struct {
	SellerID  string
	ProductID string
	Quantity  int
}

// Settlement is what the order collaborator hands over on order creation.
type Settlement struct {
	OrderID        string
	Currency       Currency
	Subtotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	Taxes          decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	Items          []OrderItem
	SellerPayout   decimal.Decimal
	PlatformFee    decimal.Decimal
}

// RefundRequest is what the returns collaborator hands over once a return
// reaches its refunded state.
type RefundRequest struct {
	ReturnID     string
	OrderID      string
	RefundAmount decimal.Decimal
	Currency     Currency
}
