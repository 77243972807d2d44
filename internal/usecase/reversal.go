package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"
)

type ReversalUsecase struct {
	store     *repository.Store
	processor *Processor
}

func NewReversalUsecase(store *repository.Store, processor *Processor) *ReversalUsecase {
	return &ReversalUsecase{store: store, processor: processor}
}

// Reverse posts the inverse of transactionID. Sales are corrected with a
// Refund instead, and a reversal cannot itself be reversed.
func (u *ReversalUsecase) Reverse(ctx context.Context, transactionID string, actor access.Actor) (*domain.Transaction, error) {
	original, err := u.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	switch {
	case original.Type == domain.TxSale:
		return nil, fmt.Errorf("sale %s cannot be reversed, record a refund: %w", original.ID, domain.ErrForbidden)
	case original.IsReversal():
		return nil, fmt.Errorf("transaction %s is a reversal: %w", original.ID, domain.ErrForbidden)
	}

	unlock := u.processor.lock(original.SellerID, original.Currency)
	defer unlock()

	existing, err := u.store.FindReversalOf(ctx, original.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("transaction %s reversed by %s: %w", original.ID, existing.ID, domain.ErrAlreadyReversed)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	compensating := domain.Transaction{
		SellerID:              original.SellerID,
		Type:                  original.Type,
		Amount:                original.Amount.Neg(),
		Currency:              original.Currency,
		ReferenceID:           original.ReferenceID,
		Description:           "Reversal of " + original.ID,
		ProcessedBy:           actor.ID,
		ReversesTransactionID: original.ID,
	}
	if err := validateTransaction(compensating); err != nil {
		return nil, err
	}

	applied, err := u.processor.apply(ctx, compensating, nil)
	if err != nil {
		return nil, err
	}

	slog.Info("transaction reversed", "original_id", original.ID, "reversal_id", applied.ID, "by", actor.ID)
	return applied, nil
}
