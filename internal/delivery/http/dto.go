package httpd

import (
	"marketplace_ledger/internal/domain"
	"time"
)

// Amounts travel as decimal strings, e.g. "12.50".

type SettleOrderReq struct {
	OrderID        string         `json:"orderId" validate:"required,max=128"`
	Currency       string         `json:"currency" validate:"required,len=3"`
	Subtotal       string         `json:"subtotal" validate:"required"`
	ShippingCost   string         `json:"shippingCost"`
	Taxes          string         `json:"taxes"`
	DiscountAmount string         `json:"discountAmount"`
	Total          string         `json:"total" validate:"required"`
	SellerPayout   string         `json:"sellerPayout" validate:"required"`
	PlatformFee    string         `json:"platformFee" validate:"required"`
	Items          []OrderItemReq `json:"items" validate:"required,min=1,dive"`
}

type OrderItemReq struct {
	SellerID  string `json:"sellerId" validate:"required"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

type RecordRefundReq struct {
	ReturnID     string `json:"returnId" validate:"required,max=128"`
	OrderID      string `json:"orderId" validate:"required"`
	RefundAmount string `json:"refundAmount" validate:"required"`
	Currency     string `json:"currency" validate:"required,len=3"`
}

type VerificationReq struct {
	KYCStatus      string `json:"kycStatus" validate:"required,oneof=not_started pending verified action_required rejected"`
	PayoutsEnabled *bool  `json:"payoutsEnabled" validate:"required"`
}

type PayoutReq struct {
	Currency string `json:"currency" validate:"required,len=3"`
}

type ManualTxReq struct {
	SellerID    string `json:"sellerId"`
	Type        string `json:"type" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"required,len=3"`
	ReferenceID string `json:"referenceId" validate:"max=128"`
	Description string `json:"description" validate:"max=500"`
}

type TaxRatesReq struct {
	Rates       map[string]string `json:"rates" validate:"required"`
	DefaultRate *string           `json:"defaultRate"`
}

type TaxQuoteReq struct {
	Country  string `json:"country" validate:"required,len=2"`
	Currency string `json:"currency" validate:"required,len=3"`
	Subtotal string `json:"subtotal" validate:"required"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
}

type TxItem struct {
	ID                    string     `json:"id"`
	SellerID              string     `json:"sellerId,omitempty"`
	Type                  string     `json:"type"`
	Amount                string     `json:"amount"`
	Currency              string     `json:"currency"`
	ReferenceID           string     `json:"referenceId,omitempty"`
	Description           string     `json:"description,omitempty"`
	Status                string     `json:"status"`
	ProcessedBy           string     `json:"processedBy"`
	CreatedAt             time.Time  `json:"createdAt"`
	ReversedAt            *time.Time `json:"reversedAt,omitempty"`
	ReversesTransactionID string     `json:"reversesTransactionId,omitempty"`
}

type TxListResp struct {
	Items  []TxItem `json:"items"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

type FinancialsResp struct {
	SellerID       string            `json:"sellerId"`
	Balance        map[string]string `json:"balance"`
	PendingBalance map[string]string `json:"pendingBalance"`
	TotalEarnings  map[string]string `json:"totalEarnings"`
	KYCStatus      string            `json:"kycStatus"`
	PayoutsEnabled bool              `json:"payoutsEnabled"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type PayoutItem struct {
	ID            string     `json:"id"`
	SellerID      string     `json:"sellerId"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	RequestedBy   string     `json:"requestedBy"`
	RequestedAt   time.Time  `json:"requestedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

type PlatformFeeResp struct {
	Amount string `json:"amount"`
	Base   string `json:"base"`
}

type SettleOrderResp struct {
	OrderID         string          `json:"orderId"`
	SellerID        string          `json:"sellerId"`
	Currency        string          `json:"currency"`
	Total           string          `json:"total"`
	SellerPayout    string          `json:"sellerPayout"`
	PlatformFee     PlatformFeeResp `json:"platformFee"`
	SaleTransaction TxItem          `json:"saleTransaction"`
}

type TaxRatesResp struct {
	Version     int64             `json:"version"`
	Rates       map[string]string `json:"rates"`
	DefaultRate string            `json:"defaultRate"`
	UpdatedBy   string            `json:"updatedBy"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type TaxQuoteResp struct {
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Rate     string `json:"rate"`
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Taxes    string `json:"taxes"`
	Total    string `json:"total"`
}

type SummaryResp struct {
	TotalSalesValue        map[string]string `json:"totalSalesValue"`
	TotalPlatformRevenue   string            `json:"totalPlatformRevenue"`
	TotalRefunds           map[string]string `json:"totalRefunds"`
	OutstandingBalance     map[string]string `json:"outstandingBalance"`
	OutstandingBalanceBase string            `json:"outstandingBalanceBase"`
	BaseCurrency           string            `json:"baseCurrency"`
	OrderCount             int               `json:"orderCount"`
	RefundCount            int               `json:"refundCount"`
	GeneratedAt            time.Time         `json:"generatedAt"`
}

type errorResp struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

func toTxItem(t domain.Transaction) TxItem {
	return TxItem{
		ID:                    t.ID,
		SellerID:              t.SellerID,
		Type:                  string(t.Type),
		Amount:                t.Currency.Format(t.Amount),
		Currency:              t.Currency.String(),
		ReferenceID:           t.ReferenceID,
		Description:           t.Description,
		Status:                string(t.Status),
		ProcessedBy:           t.ProcessedBy,
		CreatedAt:             t.CreatedAt,
		ReversedAt:            t.ReversedAt,
		ReversesTransactionID: t.ReversesTransactionID,
	}
}

func toPayoutItem(p domain.Payout) PayoutItem {
	return PayoutItem{
		ID:            p.ID,
		SellerID:      p.SellerID,
		Amount:        p.Currency.Format(p.Amount),
		Currency:      p.Currency.String(),
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		RequestedBy:   p.RequestedBy,
		RequestedAt:   p.RequestedAt,
		ProcessedAt:   p.ProcessedAt,
	}
}

func toFinancialsResp(s *domain.SellerFinancials) FinancialsResp {
	return FinancialsResp{
		SellerID:       s.SellerID,
		Balance:        formatBalances(s.Balance),
		PendingBalance: formatBalances(s.PendingBalance),
		TotalEarnings:  formatBalances(s.TotalEarnings),
		KYCStatus:      string(s.KYCStatus),
		PayoutsEnabled: s.PayoutsEnabled,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toTaxRatesResp(set *domain.TaxRuleSet) TaxRatesResp {
	rates := make(map[string]string, len(set.Rates))
	for code, r := range set.Rates {
		rates[code] = r.String()
	}
	return TaxRatesResp{
		Version:     set.Version,
		Rates:       rates,
		DefaultRate: set.DefaultRate.String(),
		UpdatedBy:   set.UpdatedBy,
		UpdatedAt:   set.CreatedAt,
	}
}

func toSummaryResp(s *domain.FinancialSummary) SummaryResp {
	return SummaryResp{
		TotalSalesValue:        formatBalances(s.TotalSalesValue),
		TotalPlatformRevenue:   domain.BaseCurrency.Format(s.TotalPlatformRevenue),
		TotalRefunds:           formatBalances(s.TotalRefunds),
		OutstandingBalance:     formatBalances(s.OutstandingBalance),
		OutstandingBalanceBase: domain.BaseCurrency.Format(s.OutstandingBalanceBase),
		BaseCurrency:           domain.BaseCurrency.String(),
		OrderCount:             s.OrderCount,
		RefundCount:            s.RefundCount,
		GeneratedAt:            s.GeneratedAt,
	}
}

func formatBalances(b domain.Balances) map[string]string {
	out := make(map[string]string, len(b))
	for cur, v := range b {
		out[cur.String()] = cur.Format(v)
	}
	return out
}
