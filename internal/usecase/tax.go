package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

var (
	rateMin = decimal.Zero
	rateMax = decimal.NewFromInt(1)
)

// TaxUsecase serves country rates from the active rule set. Readers never
// see a half-applied update.
type TaxUsecase struct {
	store  *repository.Store
	active atomic.Pointer[domain.TaxRuleSet]
	now    func() time.Time

	// held from reading the active set until the new version is stored and
	// activated
	mu sync.Mutex
}

func NewTaxUsecase(store *repository.Store) *TaxUsecase {
	u := &TaxUsecase{store: store, now: time.Now}
	def := domain.DefaultTaxRuleSet()
	u.active.Store(&def)
	return u
}

// Load activates the latest stored rule set, seeding the default table into
// an empty store.
func (u *TaxUsecase) Load(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	set, err := u.store.LatestTaxRuleSet(ctx)
	if err == nil {
		u.active.Store(set)
		slog.Info("tax rules loaded", "version", set.Version, "countries", len(set.Rates))
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	seed := domain.DefaultTaxRuleSet()
	seed.CreatedAt = u.now()
	if err := u.persist(ctx, &seed); err != nil {
		return err
	}
	slog.Info("tax rules seeded", "version", seed.Version)
	return nil
}

func (u *TaxUsecase) Rules() *domain.TaxRuleSet {
	return u.active.Load()
}

func (u *TaxUsecase) Rate(country string) decimal.Decimal {
	return u.active.Load().Rate(strings.ToUpper(strings.TrimSpace(country)))
}

// SetRates replaces the whole table. A nil defaultRate keeps the current one.
// One bad entry rejects the update.
func (u *TaxUsecase) SetRates(ctx context.Context, rates map[string]decimal.Decimal, defaultRate *decimal.Decimal, actor access.Actor) (*domain.TaxRuleSet, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	v := &domain.ValidationError{}
	next := domain.TaxRuleSet{
		Rates:       make(map[string]decimal.Decimal, len(rates)),
		DefaultRate: u.active.Load().DefaultRate,
		UpdatedBy:   actor.ID,
		CreatedAt:   u.now(),
	}

	for code, rate := range rates {
		field := "rates." + code
		norm := strings.ToUpper(strings.TrimSpace(code))
		if !validCountry(norm) {
			v.Add(field, "country code must be two letters")
			continue
		}
		if _, dup := next.Rates[norm]; dup {
			v.Add(field, "duplicate country code "+norm)
			continue
		}
		if !validRate(rate) {
			v.Add(field, "rate must be between 0 and 1")
			continue
		}
		next.Rates[norm] = rate
	}
	if defaultRate != nil {
		if !validRate(*defaultRate) {
			v.Add("defaultRate", "rate must be between 0 and 1")
		}
		next.DefaultRate = *defaultRate
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := u.persist(ctx, &next); err != nil {
		return nil, err
	}
	slog.Info("tax rules updated", "version", next.Version, "countries", len(next.Rates), "by", actor.ID)
	return &next, nil
}

// Quote computes the tax for a basket. Taxes apply to the discounted
// subtotal, not to shipping.
func (u *TaxUsecase) Quote(country string, cur domain.Currency, subtotal, shipping, discount decimal.Decimal) (*domain.TaxQuote, error) {
	v := &domain.ValidationError{}
	country = strings.ToUpper(strings.TrimSpace(country))
	if !validCountry(country) {
		v.Add("country", "country code must be two letters")
	}
	if !cur.Valid() {
		v.Add("currency", "unsupported currency")
		return nil, v
	}
	for field, amount := range map[string]decimal.Decimal{
		"subtotal": subtotal,
		"shipping": shipping,
		"discount": discount,
	} {
		if amount.IsNegative() {
			v.Add(field, "must not be negative")
		} else if err := domain.CheckAmount(field, amount, cur); err != nil {
			v.Merge(err)
		}
	}
	if discount.GreaterThan(subtotal) {
		v.Add("discount", "must not exceed subtotal")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	rate := u.Rate(country)
	taxes := subtotal.Sub(discount).Mul(rate).Round(cur.Exponent())
	return &domain.TaxQuote{
		Country:  country,
		Currency: cur,
		Rate:     rate,
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Taxes:    taxes,
		Total:    subtotal.Add(shipping).Add(taxes).Sub(discount),
	}, nil
}

// persist runs with mu held.
func (u *TaxUsecase) persist(ctx context.Context, set *domain.TaxRuleSet) error {
	err := u.store.InTx(ctx, func(rtx *repository.Tx) error {
		version, err := rtx.InsertTaxRuleSet(ctx, set)
		if err != nil {
			return err
		}
		set.Version = version
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist tax rules: %w", err)
	}
	u.active.Store(set)
	return nil
}

func validCountry(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

func validRate(r decimal.Decimal) bool {
	if domain.CheckRange("rate", r) != nil {
		return false
	}
	return !r.LessThan(rateMin) && !r.GreaterThan(rateMax)
}
