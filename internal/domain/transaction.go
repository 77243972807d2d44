package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxSale       TxType = "sale"
	TxPayout     TxType = "payout"
	TxRefund     TxType = "refund"
	TxFee        TxType = "fee"
	TxAdjustment TxType = "adjustment"
)

func (t TxType) Valid() bool {
	switch t {
	case TxSale, TxPayout, TxRefund, TxFee, TxAdjustment:
		return true
	}
	return false
}

// RequiresSeller reports whether the type must be booked against a seller.
// Fees and adjustments may be platform-only.
func (t TxType) RequiresSeller() bool {
	return t != TxFee && t != TxAdjustment
}

type TxStatus string

const (
	StatusCompleted TxStatus = "completed"
	StatusReversed  TxStatus = "reversed"
)

// Transaction is one signed financial event. Only Status and ReversedAt
// change after it is written.
type Transaction struct {
	ID                    string
	SellerID              string
	Type                  TxType
	Amount                decimal.Decimal
	Currency              Currency
	ReferenceID           string
	Description           string
	Status                TxStatus
	ProcessedBy           string
	CreatedAt             time.Time
	ReversedAt            *time.Time
	ReversesTransactionID string
}

// IsReversal reports whether t compensates an earlier transaction.
func (t Transaction) IsReversal() bool {
	return t.ReversesTransactionID != ""
}

type TxFilter struct {
	SellerID string
	Type     TxType
	Currency Currency
	From     *time.Time
	To       *time.Time
	// Effective keeps completed entries that are not themselves reversals.
	Effective bool
}
