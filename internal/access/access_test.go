package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanPerform(t *testing.T) {
	admin := Actor{ID: "u-1", Role: RoleAdmin}
	finance := Actor{ID: "u-2", Role: RoleFinance}
	seller := Actor{ID: "u-3", Role: RoleSeller, SellerID: "seller-x"}
	orders := System("orders")

	tests := []struct {
		name   string
		actor  Actor
		action Action
		want   bool
	}{
		{"admin writes tax rates", admin, ActionWriteTaxRates, true},
		{"admin reverses", admin, ActionReverseTransaction, true},
		{"finance reverses", finance, ActionReverseTransaction, true},
		{"finance cannot write tax rates", finance, ActionWriteTaxRates, false},
		{"finance cannot request payout", finance, ActionRequestPayout, false},
		{"seller requests payout", seller, ActionRequestPayout, true},
		{"seller cannot create manual transaction", seller, ActionCreateTransaction, false},
		{"seller cannot read reports", seller, ActionReadReports, false},
		{"system settles orders", orders, ActionSettleOrder, true},
		{"system cannot reverse", orders, ActionReverseTransaction, false},
		{"unknown role", Actor{ID: "u-4", Role: "guest"}, ActionReadTaxRates, false},
		{"anonymous admin role", Actor{Role: RoleAdmin}, ActionReadTaxRates, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanPerform(tt.actor, tt.action))
		})
	}
}

func TestCanAccessSeller(t *testing.T) {
	seller := Actor{ID: "u-3", Role: RoleSeller, SellerID: "seller-x"}

	assert.True(t, CanAccessSeller(seller, "seller-x"))
	assert.False(t, CanAccessSeller(seller, "seller-y"))
	assert.False(t, CanAccessSeller(Actor{ID: "u-5", Role: RoleSeller}, ""))
	assert.True(t, CanAccessSeller(Actor{ID: "u-1", Role: RoleAdmin}, "seller-y"))
}
