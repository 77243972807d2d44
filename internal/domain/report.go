package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReportFilter struct {
	From     *time.Time
	To       *time.Time
	SellerID string
}

// FinancialSummary is a dashboard snapshot computed at query time.
type FinancialSummary struct {
	TotalSalesValue        Balances
	TotalPlatformRevenue   decimal.Decimal // BaseCurrency
	TotalRefunds           Balances
	OutstandingBalance     Balances
	OutstandingBalanceBase decimal.Decimal
	OrderCount             int
	RefundCount            int
	GeneratedAt            time.Time
}
