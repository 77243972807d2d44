package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"

	"github.com/google/uuid"
)

type PayoutUsecase struct {
	store     *repository.Store
	processor *Processor
}

func NewPayoutUsecase(store *repository.Store, processor *Processor) *PayoutUsecase {
	return &PayoutUsecase{store: store, processor: processor}
}

// Request drains the seller's whole available balance in cur. The cell stays
// locked from the gate check until the payout reaches a terminal state.
func (u *PayoutUsecase) Request(ctx context.Context, sellerID string, cur domain.Currency, actor access.Actor) (*domain.Payout, error) {
	if sellerID == "" {
		return nil, domain.NewValidationError("sellerId", "required")
	}
	if !cur.Valid() {
		return nil, domain.NewValidationError("currency", "unsupported currency")
	}

	unlock := u.processor.lock(sellerID, cur)
	defer unlock()

	seller, err := u.store.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if !seller.CanReceivePayouts() {
		slog.Warn("payout blocked by verification",
			"seller_id", sellerID,
			"kyc_status", seller.KYCStatus,
			"payouts_enabled", seller.PayoutsEnabled,
		)
		return nil, fmt.Errorf("seller %s cannot receive payouts: %w", sellerID, domain.ErrForbidden)
	}

	cell, err := u.store.GetBalance(ctx, sellerID, cur)
	if err != nil {
		return nil, err
	}
	if !cell.Available.IsPositive() {
		return nil, fmt.Errorf("%s balance %s: %w", cur, cell.Available.String(), domain.ErrInsufficientBalance)
	}

	payout := &domain.Payout{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		Amount:      cell.Available,
		Currency:    cur,
		Status:      domain.PayoutProcessing,
		RequestedBy: actor.ID,
		RequestedAt: u.processor.now(),
	}
	slog.Info("payout requested", "payout_id", payout.ID, "seller_id", sellerID, "amount", payout.Amount.String(), "currency", cur.String())

	drain := domain.Transaction{
		SellerID:    sellerID,
		Type:        domain.TxPayout,
		Amount:      cell.Available.Neg(),
		Currency:    cur,
		ReferenceID: payout.ID,
		Description: "Payout " + payout.ID,
		ProcessedBy: actor.ID,
	}

	// the payout row commits with the drain or not at all
	applied, err := u.processor.apply(ctx, drain, func(ctx context.Context, rtx *repository.Tx, applied *domain.Transaction) error {
		if err := rtx.InsertPayout(ctx, payout); err != nil {
			return err
		}
		return rtx.CompletePayout(ctx, payout.ID, applied.ID, applied.CreatedAt)
	})
	if err != nil {
		u.recordFailure(ctx, payout, err)
		slog.Warn("payout failed", "payout_id", payout.ID, "seller_id", sellerID, "error", err)
		return nil, err
	}

	payout.Status = domain.PayoutCompleted
	payout.TransactionID = applied.ID
	processedAt := applied.CreatedAt
	payout.ProcessedAt = &processedAt

	slog.Info("payout completed", "payout_id", payout.ID, "transaction_id", applied.ID)
	return payout, nil
}

// recordFailure keeps a failed attempt on file. It runs even when the request
// context is already cancelled.
func (u *PayoutUsecase) recordFailure(ctx context.Context, payout *domain.Payout, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := u.store.InTx(ctx, func(rtx *repository.Tx) error {
		if err := rtx.InsertPayout(ctx, payout); err != nil {
			return err
		}
		return rtx.FailPayout(ctx, payout.ID, cause.Error(), u.processor.now())
	})
	if err != nil {
		slog.Error("record failed payout", "payout_id", payout.ID, "error", err)
	}
}

func (u *PayoutUsecase) Get(ctx context.Context, id string) (*domain.Payout, error) {
	return u.store.GetPayout(ctx, id)
}

func (u *PayoutUsecase) List(ctx context.Context, sellerID string, limit, offset int) ([]domain.Payout, error) {
	return u.store.ListPayouts(ctx, sellerID, limit, offset)
}
