package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxRuleSet is one persisted version of the country rate table.
type TaxRuleSet struct {
	Version     int64
	Rates       map[string]decimal.Decimal
	DefaultRate decimal.Decimal
	UpdatedBy   string
	CreatedAt   time.Time
}

// Rate looks up a country code and falls back to DefaultRate.
func (s *TaxRuleSet) Rate(country string) decimal.Decimal {
	if r, ok := s.Rates[country]; ok {
		return r
	}
	return s.DefaultRate
}

// DefaultTaxRuleSet seeds an empty store.
func DefaultTaxRuleSet() TaxRuleSet {
	rate := decimal.RequireFromString
	return TaxRuleSet{
		Rates: map[string]decimal.Decimal{
			"GB": rate("0.20"),
			"IE": rate("0.23"),
			"FR": rate("0.20"),
			"DE": rate("0.19"),
			"ES": rate("0.21"),
			"IT": rate("0.22"),
			"NL": rate("0.21"),
			"US": rate("0.00"),
			"JP": rate("0.10"),
		},
		DefaultRate: decimal.Zero,
		UpdatedBy:   "system",
	}
}

type TaxQuote struct {
	Country  string
	Currency Currency
	Rate     decimal.Decimal
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Taxes    decimal.Decimal
	Total    decimal.Decimal
}
