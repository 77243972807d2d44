package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"
)

// ManualEntry is an admin-entered fee, adjustment or refund.
type ManualEntry struct {
	SellerID    string
	Type        domain.TxType
	Amount      string
	Currency    string
	ReferenceID string
	Description string
}

type LedgerUsecase struct {
	store     *repository.Store
	processor *Processor
}

func NewLedgerUsecase(store *repository.Store, processor *Processor) *LedgerUsecase {
	return &LedgerUsecase{store: store, processor: processor}
}

func (u *LedgerUsecase) GetFinancials(ctx context.Context, sellerID string) (*domain.SellerFinancials, error) {
	return u.store.GetSeller(ctx, sellerID)
}

// UpdateVerification records the Seller Directory's KYC state. It creates the
// seller's record if the directory knows the seller before any sale.
func (u *LedgerUsecase) UpdateVerification(ctx context.Context, sellerID string, kyc domain.KYCStatus, payoutsEnabled bool) (*domain.SellerFinancials, error) {
	v := &domain.ValidationError{}
	if sellerID == "" {
		v.Add("sellerId", "required")
	}
	if !kyc.Valid() {
		v.Add("kycStatus", fmt.Sprintf("unknown status %q", kyc))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := u.store.UpsertVerification(ctx, sellerID, kyc, payoutsEnabled, u.processor.now()); err != nil {
		return nil, err
	}
	slog.Info("seller verification updated", "seller_id", sellerID, "kyc_status", kyc, "payouts_enabled", payoutsEnabled)
	return u.store.GetSeller(ctx, sellerID)
}

func (u *LedgerUsecase) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return u.store.GetTransaction(ctx, id)
}

// ListTransactions returns one page and the total number of matches.
func (u *LedgerUsecase) ListTransactions(ctx context.Context, f domain.TxFilter, limit, offset int) ([]domain.Transaction, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, domain.NewValidationError("type", fmt.Sprintf("unknown transaction type %q", f.Type))
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, domain.NewValidationError("to", "must not be before from")
	}

	items, err := u.store.ListTransactions(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := u.store.CountTransactions(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CreateManual books an admin entry. Sales and payouts only come from order
// settlement and the payout engine.
func (u *LedgerUsecase) CreateManual(ctx context.Context, e ManualEntry, actor access.Actor) (*domain.Transaction, error) {
	v := &domain.ValidationError{}

	switch e.Type {
	case domain.TxFee, domain.TxAdjustment, domain.TxRefund:
	case domain.TxSale, domain.TxPayout:
		v.Add("type", fmt.Sprintf("%s transactions cannot be entered manually", e.Type))
	default:
		v.Add("type", fmt.Sprintf("unknown transaction type %q", e.Type))
	}

	cur, err := domain.ParseCurrency(e.Currency)
	if err != nil {
		v.Merge(err)
	}
	amount, err := domain.ParseAmount("amount", e.Amount)
	if err != nil {
		v.Merge(err)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	return u.processor.Apply(ctx, domain.Transaction{
		SellerID:    e.SellerID,
		Type:        e.Type,
		Amount:      amount,
		Currency:    cur,
		ReferenceID: e.ReferenceID,
		Description: e.Description,
		ProcessedBy: actor.ID,
	})
}
