package usecase

import (
	"context"
	"marketplace_ledger/internal/domain"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleStoresSnapshotAndSale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, sale, err := env.settlement.Settle(ctx, domain.Settlement{
		OrderID:        "o-1",
		Currency:       domain.USD,
		Subtotal:       dec("100.00"),
		ShippingCost:   dec("5.00"),
		Taxes:          dec("18.00"),
		DiscountAmount: dec("10.00"),
		Total:          dec("113.00"),
		SellerPayout:   dec("90.00"),
		PlatformFee:    dec("10.00"),
		Items: []domain.OrderItem{
			{SellerID: "s1", ProductID: "p-1", Quantity: 2},
			{SellerID: "s1", ProductID: "p-2", Quantity: 1},
		},
	}, orderSvc)
	require.NoError(t, err)

	assert.Equal(t, domain.TxSale, sale.Type)
	assert.True(t, sale.Amount.Equal(dec("90.00")))
	assert.Equal(t, "o-1", sale.ReferenceID)
	assert.Equal(t, orderSvc.ID, sale.ProcessedBy)
	assert.Equal(t, sale.ID, order.SaleTransactionID)
	assert.Equal(t, "7.90", order.PlatformFee.Base.StringFixed(2))

	stored, err := env.store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", stored.SellerID)
	assert.True(t, stored.Total.Equal(dec("113.00")))
	assert.Equal(t, sale.ID, stored.SaleTransactionID)

	assert.True(t, env.balance(t, "s1", domain.USD).Equal(dec("90.00")))
	env.requireLedgerConsistent(t, "s1")
}

func TestSettleIsIdempotentPerOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.settle(t, "o-1", "s1", domain.GBP, "40.00", "4.00")
	again := env.settle(t, "o-1", "s1", domain.GBP, "40.00", "4.00")
	assert.Equal(t, first.SaleTransactionID, again.SaleTransactionID)

	n, err := env.store.CountTransactions(ctx, domain.TxFilter{SellerID: "s1", Type: domain.TxSale})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, env.balance(t, "s1", domain.GBP).Equal(dec("40.00")))
}

func TestResettleWithDifferentTermsConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "s1", domain.GBP, "40.00", "4.00")

	for name, s := range map[string]domain.Settlement{
		"other seller":   settlement("o-1", "s2", domain.GBP, "40.00", "4.00"),
		"other payout":   settlement("o-1", "s1", domain.GBP, "41.00", "3.00"),
		"other currency": settlement("o-1", "s1", domain.EUR, "40.00", "4.00"),
	} {
		_, _, err := env.settlement.Settle(ctx, s, orderSvc)
		require.ErrorIs(t, err, domain.ErrConflict, name)
	}

	assert.True(t, env.balance(t, "s1", domain.GBP).Equal(dec("40.00")))
	assert.True(t, env.balance(t, "s1", domain.EUR).IsZero())
	assert.True(t, env.balance(t, "s2", domain.GBP).IsZero())
}

func TestConcurrentFirstSettlesBookOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sellers := []string{"s1", "s2", "s3", "s4"}
	errs := make([]error, len(sellers))
	var wg sync.WaitGroup
	for i, seller := range sellers {
		wg.Add(1)
		go func(i int, seller string) {
			defer wg.Done()
			_, _, errs[i] = env.settlement.Settle(ctx, settlement("o-1", seller, domain.GBP, "40.00", "4.00"), orderSvc)
		}(i, seller)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, won)

	n, err := env.store.CountTransactions(ctx, domain.TxFilter{Type: domain.TxSale})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSettleValidation(t *testing.T) {
	env := newTestEnv(t)

	base := func() domain.Settlement {
		return domain.Settlement{
			OrderID:      "o-1",
			Currency:     domain.GBP,
			Subtotal:     dec("50.00"),
			Total:        dec("50.00"),
			SellerPayout: dec("45.00"),
			PlatformFee:  dec("5.00"),
			Items:        []domain.OrderItem{{SellerID: "s1"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*domain.Settlement)
		field  string
	}{
		{"two sellers", func(s *domain.Settlement) {
			s.Items = append(s.Items, domain.OrderItem{SellerID: "s2"})
		}, "items[1].sellerId"},
		{"no items", func(s *domain.Settlement) { s.Items = nil }, "items"},
		{"total mismatch", func(s *domain.Settlement) { s.Total = dec("49.00") }, "total"},
		{"negative payout", func(s *domain.Settlement) { s.SellerPayout = dec("-1.00") }, "sellerPayout"},
		{"too precise fee", func(s *domain.Settlement) { s.PlatformFee = dec("5.001") }, "platformFee"},
		{"missing order id", func(s *domain.Settlement) { s.OrderID = "" }, "orderId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(&s)
			_, _, err := env.settlement.Settle(context.Background(), s, orderSvc)

			var v *domain.ValidationError
			require.ErrorAs(t, err, &v)
			fields := make([]string, 0, len(v.Fields))
			for _, f := range v.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	_, err := env.store.GetSeller(context.Background(), "s1")
	require.ErrorIs(t, err, domain.ErrNotFound, "nothing is written on validation failure")
}

// A refunded return debits the seller of the order.
func TestRecordRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "35.00", "5.00")

	refund, err := env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID:     "r-1",
		OrderID:      "o-1",
		RefundAmount: dec("10.00"),
		Currency:     domain.GBP,
	}, returnsSvc)
	require.NoError(t, err)

	assert.Equal(t, domain.TxRefund, refund.Type)
	assert.True(t, refund.Amount.Equal(dec("-10.00")))
	assert.Equal(t, "r-1", refund.ReferenceID)
	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("25.00")))

	// the same return is booked once
	again, err := env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID:     "r-1",
		OrderID:      "o-1",
		RefundAmount: dec("10.00"),
		Currency:     domain.GBP,
	}, returnsSvc)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, again.ID)
	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("25.00")))

	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID:     "r-1",
		OrderID:      "o-1",
		RefundAmount: dec("12.00"),
		Currency:     domain.GBP,
	}, returnsSvc)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("25.00")))
	env.requireLedgerConsistent(t, "x")
}

func TestRecordRefundRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "35.00", "5.00") // total 40.00

	_, err := env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID: "r-1", OrderID: "missing", RefundAmount: dec("1.00"), Currency: domain.GBP,
	}, returnsSvc)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID: "r-1", OrderID: "o-1", RefundAmount: dec("1.00"), Currency: domain.EUR,
	}, returnsSvc)
	assert.True(t, domain.IsValidation(err))

	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID: "r-1", OrderID: "o-1", RefundAmount: dec("0"), Currency: domain.GBP,
	}, returnsSvc)
	assert.True(t, domain.IsValidation(err))

	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID: "r-1", OrderID: "o-1", RefundAmount: dec("30.00"), Currency: domain.GBP,
	}, returnsSvc)
	require.NoError(t, err)

	// cumulative refunds are capped at the order total
	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID: "r-2", OrderID: "o-1", RefundAmount: dec("10.01"), Currency: domain.GBP,
	}, returnsSvc)
	assert.True(t, domain.IsValidation(err))

	_, err = env.settlement.RecordRefund(ctx, domain.RefundRequest{
		ReturnID: "r-2", OrderID: "o-1", RefundAmount: dec("10.00"), Currency: domain.GBP,
	}, returnsSvc)
	require.NoError(t, err)

	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("-5.00")))
	env.requireLedgerConsistent(t, "x")
}
