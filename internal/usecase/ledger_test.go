package usecase

import (
	"context"
	"marketplace_ledger/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateManualAllowedTypes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "10.00", "1.00")

	for _, typ := range []domain.TxType{domain.TxSale, domain.TxPayout, "bonus"} {
		_, err := env.ledger.CreateManual(ctx, ManualEntry{SellerID: "x", Type: typ, Amount: "1.00", Currency: "GBP"}, admin)
		assert.True(t, domain.IsValidation(err), "type %q", typ)
	}

	_, err := env.ledger.CreateManual(ctx, ManualEntry{SellerID: "x", Type: domain.TxFee, Amount: "abc", Currency: "XXX"}, admin)
	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Len(t, v.Fields, 2)

	refund, err := env.ledger.CreateManual(ctx, ManualEntry{SellerID: "x", Type: domain.TxRefund, Amount: "-3.00", Currency: "gbp", ReferenceID: "ticket-9"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "ticket-9", refund.ReferenceID)

	_, err = env.ledger.CreateManual(ctx, ManualEntry{Type: domain.TxAdjustment, Amount: "100.00", Currency: "USD", Description: "platform correction"}, admin)
	require.NoError(t, err)

	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("7.00")))
	env.requireLedgerConsistent(t, "x")
}

func TestListTransactionsPagesAndCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		env.settle(t, id, "x", domain.GBP, "10.00", "1.00")
	}
	env.settle(t, "o-4", "y", domain.GBP, "10.00", "1.00")

	items, total, err := env.ledger.ListTransactions(ctx, domain.TxFilter{SellerID: "x"}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 3, total)
	assert.Equal(t, "o-3", items[0].ReferenceID)

	_, _, err = env.ledger.ListTransactions(ctx, domain.TxFilter{Type: "bonus"}, 10, 0)
	assert.True(t, domain.IsValidation(err))

	from := time.Now()
	to := from.Add(-time.Hour)
	_, _, err = env.ledger.ListTransactions(ctx, domain.TxFilter{From: &from, To: &to}, 10, 0)
	assert.True(t, domain.IsValidation(err))
}

func TestUpdateVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s, err := env.ledger.UpdateVerification(ctx, "new-seller", domain.KYCPending, false)
	require.NoError(t, err)
	assert.Equal(t, domain.KYCPending, s.KYCStatus)
	assert.Empty(t, s.Balance)

	_, err = env.ledger.UpdateVerification(ctx, "new-seller", "approved", true)
	assert.True(t, domain.IsValidation(err))

	// a later sale keeps the directory's state
	env.settle(t, "o-1", "new-seller", domain.GBP, "3.00", "0.30")
	s, err = env.ledger.GetFinancials(ctx, "new-seller")
	require.NoError(t, err)
	assert.Equal(t, domain.KYCPending, s.KYCStatus)
	assert.True(t, s.Balance.Get(domain.GBP).Equal(dec("3.00")))
}
