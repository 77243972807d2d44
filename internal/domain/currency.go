package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the closed set of currencies the ledger can hold balances in.
// The zero value is not a valid currency.
type Currency uint8

const (
	GBP Currency = iota + 1
	USD
	EUR
	JPY
)

// BaseCurrency is the reporting currency platform fees are normalized to.
const BaseCurrency = GBP

var currencyCodes = map[Currency]string{
	GBP: "GBP",
	USD: "USD",
	EUR: "EUR",
	JPY: "JPY",
}

// minor unit digits per currency
var currencyExponents = map[Currency]int32{
	GBP: 2,
	USD: 2,
	EUR: 2,
	JPY: 0,
}

// Static conversion into BaseCurrency. Not spot rates.
var baseRates = map[Currency]decimal.Decimal{
	GBP: decimal.NewFromInt(1),
	USD: decimal.RequireFromString("0.79"),
	EUR: decimal.RequireFromString("0.86"),
	JPY: decimal.RequireFromString("0.0053"),
}

// Currencies lists every supported currency in a stable order.
func Currencies() []Currency {
	return []Currency{GBP, USD, EUR, JPY}
}

func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for c, s := range currencyCodes {
		if s == code {
			return c, nil
		}
	}
	return 0, NewValidationError("currency", fmt.Sprintf("unsupported currency %q", code))
}

func (c Currency) Valid() bool {
	_, ok := currencyCodes[c]
	return ok
}

func (c Currency) String() string {
	if s, ok := currencyCodes[c]; ok {
		return s
	}
	return fmt.Sprintf("Currency(%d)", uint8(c))
}

// Exponent is the number of fractional digits an amount may carry.
func (c Currency) Exponent() int32 {
	return currencyExponents[c]
}

func (c Currency) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid currency %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Currency) UnmarshalText(b []byte) error {
	parsed, err := ParseCurrency(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// bounds for amounts and rates
const (
	maxAmountScale  = 18
	maxAmountLength = 64
)

var maxAmount = decimal.New(1, 15)

// CheckRange rejects values at or above 10^15 in magnitude or written with
// more than 18 fractional digits or a large positive exponent.
func CheckRange(field string, d decimal.Decimal) error {
	if exp := d.Exponent(); exp < -maxAmountScale || exp > maxAmountScale {
		return NewValidationError(field, "amount out of range")
	}
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return NewValidationError(field, "amount out of range")
	}
	return nil
}

// CheckAmount rejects amounts out of range or with more precision than the
// currency allows.
func CheckAmount(field string, amount decimal.Decimal, c Currency) error {
	if !c.Valid() {
		return NewValidationError("currency", "unsupported currency")
	}
	if err := CheckRange(field, amount); err != nil {
		return err
	}
	if !amount.Equal(amount.Truncate(c.Exponent())) {
		return NewValidationError(field, fmt.Sprintf("%s allows at most %d decimal places", c, c.Exponent()))
	}
	return nil
}

// ToBase converts amount into BaseCurrency using the static table, rounded to
// the base currency precision.
func ToBase(amount decimal.Decimal, c Currency) decimal.Decimal {
	return amount.Mul(baseRates[c]).Round(BaseCurrency.Exponent())
}

// Balances maps each currency to an amount. JSON keys are currency codes.
type Balances map[Currency]decimal.Decimal

// Get returns zero for currencies with no entry.
func (b Balances) Get(c Currency) decimal.Decimal {
	if v, ok := b[c]; ok {
		return v
	}
	return decimal.Zero
}

// ParseAmount reads a decimal string such as "12.50". Values outside
// CheckRange are rejected.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, NewValidationError(field, "required")
	}
	if len(s) > maxAmountLength {
		return decimal.Zero, NewValidationError(field, "amount out of range")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError(field, fmt.Sprintf("invalid amount %q", s))
	}
	if err := CheckRange(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Format renders amount with exactly the currency's fractional digits.
func (c Currency) Format(amount decimal.Decimal) string {
	return amount.StringFixed(c.Exponent())
}
