package usecase

import (
	"context"
	"database/sql"
	"errors"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sellerActor(id string) access.Actor {
	return access.Actor{ID: "user-" + id, Role: access.RoleSeller, SellerID: id}
}

func TestPayoutDrainsBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "40.00", "4.00")
	env.verify(t, "x")

	p, err := env.payouts.Request(ctx, "x", domain.GBP, sellerActor("x"))
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCompleted, p.Status)
	assert.True(t, p.Amount.Equal(dec("40.00")))
	require.NotNil(t, p.ProcessedAt)

	tr, err := env.store.GetTransaction(ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxPayout, tr.Type)
	assert.True(t, tr.Amount.Equal(dec("-40.00")))
	assert.Equal(t, domain.StatusCompleted, tr.Status)
	assert.Equal(t, p.ID, tr.ReferenceID)

	stored, err := env.payouts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCompleted, stored.Status)
	assert.Equal(t, tr.ID, stored.TransactionID)

	assert.True(t, env.balance(t, "x", domain.GBP).IsZero())
	env.requireLedgerConsistent(t, "x")

	seller, err := env.ledger.GetFinancials(ctx, "x")
	require.NoError(t, err)
	assert.True(t, seller.TotalEarnings.Get(domain.GBP).Equal(dec("40.00")), "payouts do not touch lifetime earnings")
}

func TestPayoutRejectionsLeaveStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.payouts.Request(ctx, "nobody", domain.GBP, admin)
	require.ErrorIs(t, err, domain.ErrNotFound)

	env.settle(t, "o-1", "x", domain.GBP, "40.00", "4.00")

	// KYC not started
	_, err = env.payouts.Request(ctx, "x", domain.GBP, admin)
	require.ErrorIs(t, err, domain.ErrForbidden)

	// verified but payouts switched off
	_, err = env.ledger.UpdateVerification(ctx, "x", domain.KYCVerified, false)
	require.NoError(t, err)
	_, err = env.payouts.Request(ctx, "x", domain.GBP, admin)
	require.ErrorIs(t, err, domain.ErrForbidden)

	// payouts on but KYC needs action
	_, err = env.ledger.UpdateVerification(ctx, "x", domain.KYCActionRequired, true)
	require.NoError(t, err)
	_, err = env.payouts.Request(ctx, "x", domain.GBP, admin)
	require.ErrorIs(t, err, domain.ErrForbidden)

	env.verify(t, "x")

	// nothing held in EUR
	_, err = env.payouts.Request(ctx, "x", domain.EUR, admin)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// negative balance
	_, err = env.processor.Apply(ctx, domain.Transaction{SellerID: "x", Type: domain.TxAdjustment, Amount: dec("-50.00"), Currency: domain.GBP})
	require.NoError(t, err)
	_, err = env.payouts.Request(ctx, "x", domain.GBP, admin)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("-10.00")))
	payouts, err := env.payouts.List(ctx, "x", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, payouts)
	env.requireLedgerConsistent(t, "x")
}

func TestFailedPayoutLeavesBalanceAndRecordsFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "40.00", "4.00")
	env.verify(t, "x")

	// make the drain insert fail inside the database transaction
	db, err := sql.Open("sqlite", env.dbPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`
		CREATE TRIGGER payout_rail_down BEFORE INSERT ON transactions
		WHEN NEW.type = 'payout'
		BEGIN SELECT RAISE(ABORT, 'payout rail down'); END
	`)
	require.NoError(t, err)

	_, err = env.payouts.Request(ctx, "x", domain.GBP, sellerActor("x"))
	require.Error(t, err)

	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("40.00")))

	payouts, err := env.payouts.List(ctx, "x", 10, 0)
	require.NoError(t, err)
	require.Len(t, payouts, 1, "no processing row is left behind")
	assert.Equal(t, domain.PayoutFailed, payouts[0].Status)
	assert.Contains(t, payouts[0].FailureReason, "payout rail down")
	assert.Empty(t, payouts[0].TransactionID)
	require.NotNil(t, payouts[0].ProcessedAt)

	env.requireLedgerConsistent(t, "x")
}

func TestConcurrentPayoutsDrainOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.USD, "75.50", "5.00")
	env.verify(t, "x")

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		rejected  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.payouts.Request(ctx, "x", domain.USD, sellerActor("x"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, domain.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, n-1, rejected)
	assert.True(t, env.balance(t, "x", domain.USD).IsZero())

	drains, err := env.store.CountTransactions(ctx, domain.TxFilter{SellerID: "x", Type: domain.TxPayout})
	require.NoError(t, err)
	assert.Equal(t, 1, drains)
	env.requireLedgerConsistent(t, "x")
}

func TestSaleWaitsForInFlightPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.settle(t, "o-1", "x", domain.GBP, "10.00", "1.00")

	// hold the cell as a payout would
	unlock := env.processor.lock("x", domain.GBP)

	done := make(chan error, 1)
	go func() {
		_, _, err := env.settlement.Settle(ctx, domain.Settlement{
			OrderID:      "o-2",
			Currency:     domain.GBP,
			Subtotal:     dec("5.00"),
			Total:        dec("5.00"),
			SellerPayout: dec("5.00"),
			PlatformFee:  dec("0"),
			Items:        []domain.OrderItem{{SellerID: "x"}},
		}, orderSvc)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("sale applied while the cell was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("10.00")))

	unlock()
	require.NoError(t, <-done)
	assert.True(t, env.balance(t, "x", domain.GBP).Equal(dec("15.00")))
}
