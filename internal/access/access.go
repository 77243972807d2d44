// Package access decides which actor may perform which ledger operation.
// The role to permission mapping is plain data so it can be reviewed and
// tested without any transport in front of it.
package access

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFinance Role = "finance"
	RoleSeller  Role = "seller"
	RoleSystem  Role = "system"
)

type Action string

const (
	ActionReadTransactions   Action = "transactions.read"
	ActionCreateTransaction  Action = "transactions.create"
	ActionReverseTransaction Action = "transactions.reverse"
	ActionRequestPayout      Action = "payouts.request"
	ActionReadPayouts        Action = "payouts.read"
	ActionReadTaxRates       Action = "tax.read"
	ActionWriteTaxRates      Action = "tax.write"
	ActionReadReports        Action = "reports.read"
	ActionSettleOrder        Action = "orders.settle"
	ActionRecordRefund       Action = "refunds.record"
	ActionVerifySeller       Action = "sellers.verify"
	ActionReadFinancials     Action = "financials.read"
)

// Actor is whoever initiated a request. SellerID is set for seller-role
// actors only.
type Actor struct {
	ID       string
	Role     Role
	SellerID string
}

// System returns the actor used for collaborator callbacks.
func System(service string) Actor {
	return Actor{ID: "system:" + service, Role: RoleSystem}
}

var permissions = map[Role][]Action{
	RoleAdmin: {
		ActionReadTransactions,
		ActionCreateTransaction,
		ActionReverseTransaction,
		ActionRequestPayout,
		ActionReadPayouts,
		ActionReadTaxRates,
		ActionWriteTaxRates,
		ActionReadReports,
		ActionReadFinancials,
	},
	RoleFinance: {
		ActionReadTransactions,
		ActionCreateTransaction,
		ActionReverseTransaction,
		ActionReadPayouts,
		ActionReadTaxRates,
		ActionReadReports,
		ActionReadFinancials,
	},
	RoleSeller: {
		ActionReadTransactions,
		ActionRequestPayout,
		ActionReadPayouts,
		ActionReadTaxRates,
		ActionReadFinancials,
	},
	RoleSystem: {
		ActionSettleOrder,
		ActionRecordRefund,
		ActionVerifySeller,
		ActionReadTaxRates,
	},
}

var grants = buildGrants(permissions)

func buildGrants(p map[Role][]Action) map[Role]map[Action]bool {
	out := make(map[Role]map[Action]bool, len(p))
	for role, actions := range p {
		set := make(map[Action]bool, len(actions))
		for _, a := range actions {
			set[a] = true
		}
		out[role] = set
	}
	return out
}

// CanPerform reports whether actor's role grants action.
func CanPerform(actor Actor, action Action) bool {
	if actor.ID == "" {
		return false
	}
	return grants[actor.Role][action]
}

// CanAccessSeller restricts seller actors to their own records. Other roles
// are not scoped to a seller.
func CanAccessSeller(actor Actor, sellerID string) bool {
	if actor.Role != RoleSeller {
		return true
	}
	return actor.SellerID != "" && actor.SellerID == sellerID
}
