package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// afterApply runs inside the same database transaction as the ledger write,
// after the transaction row and balance cell are written.
type afterApply func(ctx context.Context, rtx *repository.Tx, applied *domain.Transaction) error

// Processor is the only writer of seller balances. Each application is one
// database transaction, serialized per (seller, currency).
type Processor struct {
	store *repository.Store
	locks *cellLocks
	now   func() time.Time
}

func NewProcessor(store *repository.Store) *Processor {
	return &Processor{
		store: store,
		locks: newCellLocks(),
		now:   time.Now,
	}
}

// Apply validates tr and books it against its balance cell.
func (p *Processor) Apply(ctx context.Context, tr domain.Transaction) (*domain.Transaction, error) {
	if err := validateTransaction(tr); err != nil {
		return nil, err
	}

	unlock := p.lock(tr.SellerID, tr.Currency)
	defer unlock()

	return p.apply(ctx, tr, nil)
}

func (p *Processor) lock(sellerID string, cur domain.Currency) func() {
	return p.locks.Lock(cellKey{sellerID: sellerID, currency: cur})
}

// apply expects the caller to hold the cell lock and tr to be validated.
func (p *Processor) apply(ctx context.Context, tr domain.Transaction, after afterApply) (*domain.Transaction, error) {
	now := p.now()
	tr.ID = uuid.New().String()
	tr.Status = domain.StatusCompleted
	tr.CreatedAt = now
	tr.ReversedAt = nil
	if tr.ProcessedBy == "" {
		tr.ProcessedBy = "system"
	}

	var balBefore, balAfter decimal.Decimal
	err := p.store.InTx(ctx, func(rtx *repository.Tx) error {
		if tr.SellerID != "" {
			if err := p.ensureSeller(ctx, rtx, tr, now); err != nil {
				return err
			}

			cell, err := rtx.GetBalance(ctx, tr.SellerID, tr.Currency)
			if err != nil {
				return err
			}
			balBefore = cell.Available

			next, err := nextCell(cell, tr)
			if err != nil {
				return err
			}
			balAfter = next.Available

			if err := rtx.InsertTransaction(ctx, &tr); err != nil {
				return err
			}
			if _, err := rtx.SetBalance(ctx, next, cell.Version, now); err != nil {
				return err
			}
		} else if err := rtx.InsertTransaction(ctx, &tr); err != nil {
			return err
		}

		if tr.IsReversal() {
			if err := rtx.MarkReversed(ctx, tr.ReversesTransactionID, now); err != nil {
				return err
			}
		}

		if after != nil {
			return after(ctx, rtx, &tr)
		}
		return nil
	})
	if err != nil {
		slog.Warn("transaction rejected",
			"type", tr.Type,
			"seller_id", tr.SellerID,
			"currency", tr.Currency.String(),
			"amount", tr.Amount.String(),
			"error", err,
		)
		return nil, err
	}

	slog.Info("transaction applied",
		"id", tr.ID,
		"type", tr.Type,
		"seller_id", tr.SellerID,
		"currency", tr.Currency.String(),
		"amount", tr.Amount.String(),
		"balance_before", balBefore.String(),
		"balance_after", balAfter.String(),
		"processed_by", tr.ProcessedBy,
	)
	return &tr, nil
}

// Sales open a seller's record on first use; anything else needs one.
func (p *Processor) ensureSeller(ctx context.Context, rtx *repository.Tx, tr domain.Transaction, now time.Time) error {
	if tr.Type == domain.TxSale && !tr.IsReversal() {
		created, err := rtx.EnsureSeller(ctx, tr.SellerID, now)
		if err != nil {
			return err
		}
		if created {
			slog.Info("seller financials created", "seller_id", tr.SellerID)
		}
		return nil
	}

	ok, err := rtx.SellerExists(ctx, tr.SellerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("seller %s: %w", tr.SellerID, domain.ErrNotFound)
	}
	return nil
}

// nextCell is the balance cell after tr, or an error if tr cannot apply to
// cell as it stands.
func nextCell(cell domain.BalanceCell, tr domain.Transaction) (domain.BalanceCell, error) {
	next := cell
	switch {
	case tr.IsReversal():
		next.Available = cell.Available.Add(tr.Amount)
	case tr.Type == domain.TxSale:
		next.Available = cell.Available.Add(tr.Amount)
		next.TotalEarnings = cell.TotalEarnings.Add(tr.Amount)
	case tr.Type == domain.TxPayout:
		// drain only: the payout must take exactly what is there now
		if !tr.Amount.Neg().Equal(cell.Available) {
			return cell, fmt.Errorf("payout of %s against balance %s: %w",
				tr.Amount.Neg().String(), cell.Available.String(), domain.ErrConcurrencyConflict)
		}
		next.Available = decimal.Zero
	default:
		next.Available = cell.Available.Add(tr.Amount)
	}
	return next, nil
}

func validateTransaction(tr domain.Transaction) error {
	v := &domain.ValidationError{}

	if !tr.Type.Valid() {
		v.Add("type", fmt.Sprintf("unknown transaction type %q", tr.Type))
	}
	if !tr.Currency.Valid() {
		v.Add("currency", "unsupported currency")
	} else if err := domain.CheckAmount("amount", tr.Amount, tr.Currency); err != nil {
		v.Merge(err)
	}
	if tr.Type.Valid() && tr.Type.RequiresSeller() && tr.SellerID == "" {
		v.Add("sellerId", fmt.Sprintf("required for %s transactions", tr.Type))
	}

	if !tr.IsReversal() {
		switch tr.Type {
		case domain.TxSale:
			if tr.Amount.IsNegative() {
				v.Add("amount", "sale amount must not be negative")
			}
		case domain.TxRefund:
			if !tr.Amount.IsNegative() {
				v.Add("amount", "refund amount must be negative")
			}
		case domain.TxPayout:
			if !tr.Amount.IsNegative() {
				v.Add("amount", "payout amount must be negative")
			}
		}
	}

	return v.Err()
}
