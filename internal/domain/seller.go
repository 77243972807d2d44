package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type KYCStatus string

const (
	KYCNotStarted     KYCStatus = "not_started"
	KYCPending        KYCStatus = "pending"
	KYCVerified       KYCStatus = "verified"
	KYCActionRequired KYCStatus = "action_required"
	KYCRejected       KYCStatus = "rejected"
)

func (k KYCStatus) Valid() bool {
	switch k {
	case KYCNotStarted, KYCPending, KYCVerified, KYCActionRequired, KYCRejected:
		return true
	}
	return false
}

// SellerFinancials is the per-seller money state.
type SellerFinancials struct {
	SellerID       string
	Balance        Balances
	PendingBalance Balances
	TotalEarnings  Balances
	KYCStatus      KYCStatus
	PayoutsEnabled bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanReceivePayouts is the Seller Directory gate.
func (s SellerFinancials) CanReceivePayouts() bool {
	return s.PayoutsEnabled && s.KYCStatus == KYCVerified
}

// BalanceCell is one (seller, currency) row. Version increases on every
// write and guards compare-and-set updates.
type BalanceCell struct {
	SellerID      string
	Currency      Currency
	Available     decimal.Decimal
	Pending       decimal.Decimal
	TotalEarnings decimal.Decimal
	Version       int64
	UpdatedAt     time.Time
}
