package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"marketplace_ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// LatestTaxRuleSet returns the active (highest) version.
func (c conn) LatestTaxRuleSet(ctx context.Context) (*domain.TaxRuleSet, error) {
	var (
		set        domain.TaxRuleSet
		ratesJSON  string
		createdStr string
	)
	err := c.queryRow(ctx, `
		SELECT version, rates, default_rate, updated_by, created_at
		FROM tax_rule_sets ORDER BY version DESC LIMIT 1
	`).Scan(&set.Version, &ratesJSON, &set.DefaultRate, &set.UpdatedBy, &createdStr)
	if isNoRows(err) {
		return nil, fmt.Errorf("tax rule set: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ratesJSON), &set.Rates); err != nil {
		return nil, fmt.Errorf("decode tax rates v%d: %w", set.Version, err)
	}
	if set.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &set, nil
}

// InsertTaxRuleSet stores set as the next version and returns that version.
func (t *Tx) InsertTaxRuleSet(ctx context.Context, set *domain.TaxRuleSet) (int64, error) {
	var current int64
	if err := t.queryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM tax_rule_sets`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read tax version: %w", err)
	}

	rates := set.Rates
	if rates == nil {
		rates = map[string]decimal.Decimal{}
	}
	ratesJSON, err := json.Marshal(rates)
	if err != nil {
		return 0, err
	}

	next := current + 1
	_, err = t.exec(ctx, `
		INSERT INTO tax_rule_sets(version, rates, default_rate, updated_by, created_at)
		VALUES(?, ?, ?, ?, ?)
	`, next, string(ratesJSON), set.DefaultRate.String(), set.UpdatedBy, formatTime(set.CreatedAt))
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("tax rule set v%d written concurrently: %w", next, domain.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("insert tax rule set: %w", err)
	}
	return next, nil
}
