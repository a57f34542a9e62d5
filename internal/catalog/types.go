package catalog

import "github.com/shopspring/decimal"

// File layout of catalog.json
type CatalogData struct {
	Currency string `json:"currency"`
	Tiers    []Tier `json:"tiers"`
}

// Tier is a membership category. Rank orders tiers for upgrades.
type Tier struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Fee          decimal.Decimal `json:"fee"`
	Rank         int             `json:"rank"`
	CPDRequired  int             `json:"cpd_required"`
	AccountTypes []string        `json:"account_types"`
	Benefits     []string        `json:"benefits"`
	Eligibility  []string        `json:"eligibility"`
	Available    bool            `json:"available"`
}

// AllowsAccountType reports whether accounts of the given type may hold this tier.
func (t Tier) AllowsAccountType(accountType string) bool {
	if len(t.AccountTypes) == 0 {
		return true
	}
	for _, a := range t.AccountTypes {
		if a == accountType {
			return true
		}
	}
	return false
}

// UpgradeQuote is the price of moving a membership to a higher tier.
type UpgradeQuote struct {
	FromTier   string          `json:"from_tier"`
	ToTier     string          `json:"to_tier"`
	TargetFee  decimal.Decimal `json:"target_fee"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	Display    string          `json:"display"`
}
