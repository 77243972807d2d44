package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, USD, c)

	_, err = ParseCurrency("XYZ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	assert.False(t, Currency(0).Valid())
	assert.False(t, Currency(99).Valid())
}

func TestCheckAmountPrecision(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		cur     Currency
		wantErr bool
	}{
		{"gbp two places", "10.25", GBP, false},
		{"gbp trailing zeros", "10.2500", GBP, false},
		{"gbp three places", "10.255", GBP, true},
		{"jpy whole", "1500", JPY, false},
		{"jpy fraction", "1500.5", JPY, true},
		{"negative eur", "-3.10", EUR, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAmount("amount", decimal.RequireFromString(tt.amount), tt.cur)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestToBase(t *testing.T) {
	assert.Equal(t, "7.90", ToBase(decimal.NewFromInt(10), USD).StringFixed(2))
	assert.Equal(t, "8.60", ToBase(decimal.NewFromInt(10), EUR).StringFixed(2))
	assert.Equal(t, "5.30", ToBase(decimal.NewFromInt(1000), JPY).StringFixed(2))
	assert.Equal(t, "12.34", ToBase(decimal.RequireFromString("12.34"), GBP).StringFixed(2))
	// 0.0053 * 1 rounds to the base currency precision
	assert.Equal(t, "0.01", ToBase(decimal.NewFromInt(1), JPY).StringFixed(2))
}

func TestBalancesJSONKeys(t *testing.T) {
	b := Balances{GBP: decimal.RequireFromString("1.50"), JPY: decimal.NewFromInt(300)}
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"GBP":"1.5","JPY":"300"}`, string(raw))

	var back Balances
	require.NoError(t, json.Unmarshal([]byte(`{"EUR":"2.00"}`), &back))
	assert.True(t, back.Get(EUR).Equal(decimal.NewFromInt(2)))

	err = json.Unmarshal([]byte(`{"BTC":"1"}`), &back)
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("amount", " 12.50 ")
	require.NoError(t, err)
	assert.Equal(t, "12.50", GBP.Format(d))

	_, err = ParseAmount("amount", "")
	require.Error(t, err)

	_, err = ParseAmount("amount", "twelve")
	require.Error(t, err)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "amount", v.Fields[0].Field)
}

func TestAmountRange(t *testing.T) {
	d, err := ParseAmount("amount", "999999999999999.99")
	require.NoError(t, err)
	assert.NoError(t, CheckAmount("amount", d, GBP))

	for _, s := range []string{
		"1e20000000",
		"1e2000000000",
		"1e-2000000000",
		"1000000000000000",
		"-1000000000000000.00",
		"0.0000000000000000001",
		"1" + strings.Repeat("0", 80),
	} {
		_, err := ParseAmount("amount", s)
		var v *ValidationError
		require.ErrorAs(t, err, &v, s)
		assert.Equal(t, "amount", v.Fields[0].Field, s)
	}

	// values built in code go through the same bound
	huge := decimal.New(1, 20000000)
	assert.True(t, IsValidation(CheckAmount("amount", huge, GBP)))
	assert.True(t, IsValidation(CheckRange("rate", decimal.New(1, -2000000000))))
}

func TestValidationErrorMerge(t *testing.T) {
	v := &ValidationError{}
	assert.NoError(t, v.Err())

	v.Add("a", "bad")
	v.Merge(NewValidationError("b", "worse"))
	require.Error(t, v.Err())
	assert.Len(t, v.Fields, 2)
	assert.Equal(t, "validation failed: a: bad; b: worse", v.Error())
}

func TestTaxRuleSetFallback(t *testing.T) {
	set := DefaultTaxRuleSet()
	assert.True(t, set.Rate("GB").Equal(decimal.RequireFromString("0.20")))
	assert.True(t, set.Rate("JP").Equal(decimal.RequireFromString("0.10")))
	assert.True(t, set.Rate("BR").Equal(set.DefaultRate))
}
