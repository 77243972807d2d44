package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

type Payout struct {
	ID            string
	SellerID      string
	Amount        decimal.Decimal // positive, the drained balance
	Currency      Currency
	Status        PayoutStatus
	TransactionID string
	FailureReason string
	RequestedBy   string
	RequestedAt   time.Time
	ProcessedAt   *time.Time
}
