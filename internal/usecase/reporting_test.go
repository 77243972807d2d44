package usecase

import (
	"context"
	"marketplace_ledger/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.settle(t, "o-1", "x", domain.GBP, "40.00", "10.00")
	env.settle(t, "o-2", "x", domain.USD, "90.00", "10.00")
	env.settle(t, "o-3", "y", domain.GBP, "18.00", "2.00")

	refund, err := env.settlement.RecordRefund(ctx, domain.RefundRequest{ReturnID: "r-1", OrderID: "o-1", RefundAmount: dec("15.00"), Currency: domain.GBP}, returnsSvc)
	require.NoError(t, err)
	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{ReturnID: "r-2", OrderID: "o-3", RefundAmount: dec("5.00"), Currency: domain.GBP}, returnsSvc)
	require.NoError(t, err)
	_, err = env.reversals.Reverse(ctx, refund.ID, admin)
	require.NoError(t, err)

	s, err := env.reports.Summary(ctx, domain.ReportFilter{})
	require.NoError(t, err)

	assert.Equal(t, 3, s.OrderCount)
	assert.True(t, s.TotalSalesValue.Get(domain.GBP).Equal(dec("70.00")))
	assert.True(t, s.TotalSalesValue.Get(domain.USD).Equal(dec("100.00")))
	// 10.00 + 10.00 USD * 0.79 + 2.00
	assert.Equal(t, "19.90", s.TotalPlatformRevenue.StringFixed(2))
	// the reversed refund on o-1 and its reversal are both left out
	assert.True(t, s.TotalRefunds.Get(domain.GBP).Equal(dec("5.00")))
	assert.Equal(t, 1, s.RefundCount)

	assert.True(t, s.OutstandingBalance.Get(domain.GBP).Equal(dec("53.00")))
	assert.True(t, s.OutstandingBalance.Get(domain.USD).Equal(dec("90.00")))
	// 53.00 + 90.00 * 0.79
	assert.Equal(t, "124.10", s.OutstandingBalanceBase.StringFixed(2))

	perSeller, err := env.reports.Summary(ctx, domain.ReportFilter{SellerID: "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, perSeller.OrderCount)
	assert.True(t, perSeller.OutstandingBalance.Get(domain.GBP).Equal(dec("13.00")))
	assert.True(t, perSeller.OutstandingBalance.Get(domain.USD).IsZero())
}

func TestSummaryDateRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "40.00", "10.00")

	future := time.Now().Add(time.Hour)
	s, err := env.reports.Summary(ctx, domain.ReportFilter{From: &future})
	require.NoError(t, err)
	assert.Zero(t, s.OrderCount)
	assert.True(t, s.TotalPlatformRevenue.IsZero())
	// outstanding balances ignore the date range
	assert.True(t, s.OutstandingBalance.Get(domain.GBP).Equal(dec("40.00")))

	past := time.Now().Add(-time.Hour)
	_, err = env.reports.Summary(ctx, domain.ReportFilter{From: &future, To: &past})
	assert.True(t, domain.IsValidation(err))
}
