package usecase

import (
	"context"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"
	"time"

	"github.com/shopspring/decimal"
)

// ReportingUsecase aggregates the ledger on every call. It takes no locks, so
// a report may straddle an in-flight write.
type ReportingUsecase struct {
	store *repository.Store
	now   func() time.Time
}

func NewReportingUsecase(store *repository.Store) *ReportingUsecase {
	return &ReportingUsecase{store: store, now: time.Now}
}

// TotalSalesValue sums order subtotals per currency.
func (u *ReportingUsecase) TotalSalesValue(ctx context.Context, f domain.ReportFilter) (domain.Balances, int, error) {
	orders, err := u.store.ListOrders(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	sums := domain.Balances{}
	for _, o := range orders {
		sums[o.Currency] = sums.Get(o.Currency).Add(o.Subtotal)
	}
	return sums, len(orders), nil
}

// TotalPlatformRevenue sums platform fees in the base currency.
func (u *ReportingUsecase) TotalPlatformRevenue(ctx context.Context, f domain.ReportFilter) (decimal.Decimal, error) {
	orders, err := u.store.ListOrders(ctx, f)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.PlatformFee.Base)
	}
	return total, nil
}

// TotalRefunds sums the absolute amounts of refunds still standing, per
// currency. Reversed refunds and their compensating entries are left out.
// Standing refunds are always negative, so the negated sum is the absolute
// sum.
func (u *ReportingUsecase) TotalRefunds(ctx context.Context, f domain.ReportFilter) (domain.Balances, int, error) {
	sums, n, err := u.store.SumTransactions(ctx, domain.TxFilter{
		SellerID:  f.SellerID,
		Type:      domain.TxRefund,
		From:      f.From,
		To:        f.To,
		Effective: true,
	})
	if err != nil {
		return nil, 0, err
	}
	for cur, v := range sums {
		sums[cur] = v.Neg()
	}
	return sums, n, nil
}

// OutstandingBalance is what the platform owes sellers right now, per
// currency and converted into the base currency. The date range does not
// apply.
func (u *ReportingUsecase) OutstandingBalance(ctx context.Context, f domain.ReportFilter) (domain.Balances, decimal.Decimal, error) {
	cells, err := u.store.ListBalances(ctx, f.SellerID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	sums := domain.Balances{}
	for _, c := range cells {
		sums[c.Currency] = sums.Get(c.Currency).Add(c.Available)
	}
	base := decimal.Zero
	for cur, v := range sums {
		base = base.Add(domain.ToBase(v, cur))
	}
	return sums, base, nil
}

func (u *ReportingUsecase) Summary(ctx context.Context, f domain.ReportFilter) (*domain.FinancialSummary, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, domain.NewValidationError("to", "must not be before from")
	}

	var (
		s   domain.FinancialSummary
		err error
	)
	if s.TotalSalesValue, s.OrderCount, err = u.TotalSalesValue(ctx, f); err != nil {
		return nil, err
	}
	if s.TotalPlatformRevenue, err = u.TotalPlatformRevenue(ctx, f); err != nil {
		return nil, err
	}
	if s.TotalRefunds, s.RefundCount, err = u.TotalRefunds(ctx, f); err != nil {
		return nil, err
	}
	if s.OutstandingBalance, s.OutstandingBalanceBase, err = u.OutstandingBalance(ctx, f); err != nil {
		return nil, err
	}
	s.GeneratedAt = u.now().UTC()
	return &s, nil
}
