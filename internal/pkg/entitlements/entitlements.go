package entitlements

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Unlimited is stored as the enterprise integration limit.
const Unlimited = 999999

// Normalize maps any stored or provider value to a known tier; unknown values
// fall back to free.
func Normalize(tier string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

func Rank(tier Tier) int {
	switch Normalize(string(tier)) {
	case TierEnterprise:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

// IntegrationLimit returns how many integrations a tier may own.
func IntegrationLimit(tier Tier) int {
	switch Normalize(string(tier)) {
	case TierEnterprise:
		return Unlimited
	case TierPro:
		return 5
	default:
		return 1
	}
}

// MonthlyAPICalls returns the webhook/API call allowance per calendar month.
func MonthlyAPICalls(tier Tier) int64 {
	switch Normalize(string(tier)) {
	case TierEnterprise:
		return 1_000_000
	case TierPro:
		return 50_000
	default:
		return 1_000
	}
}

// Plan is a purchasable subscription shown on the pricing page.
type Plan struct {
	Name             string          `json:"name"`
	Tier             Tier            `json:"tier"`
	MonthlyPrice     decimal.Decimal `json:"monthly_price"`
	Currency         string          `json:"currency"`
	IntegrationLimit int             `json:"integration_limit"`
	MonthlyAPICalls  int64           `json:"monthly_api_calls"`
	PriceID          string          `json:"price_id"`
	Features         []string        `json:"features"`
}

// Catalog returns the plans offered for purchase. priceIDs maps each tier to
// its Stripe price ID; tiers without a price ID are still listed.
func Catalog(priceIDs map[Tier]string) []Plan {
	plans := []Plan{
		{
			Name:         "Basic",
			Tier:         TierFree,
			MonthlyPrice: decimal.RequireFromString("9.99"),
			Features:     []string{"1 integration", "Webhook ingestion", "Email support"},
		},
		{
			Name:         "Pro",
			Tier:         TierPro,
			MonthlyPrice: decimal.RequireFromString("29.99"),
			Features:     []string{"5 integrations", "Realtime dashboard", "Priority support"},
		},
		{
			Name:         "Enterprise",
			Tier:         TierEnterprise,
			MonthlyPrice: decimal.RequireFromString("99.99"),
			Features:     []string{"Unlimited integrations", "Dedicated account manager", "SLA"},
		},
	}
	for i := range plans {
		plans[i].Currency = "usd"
		plans[i].IntegrationLimit = IntegrationLimit(plans[i].Tier)
		plans[i].MonthlyAPICalls = MonthlyAPICalls(plans[i].Tier)
		plans[i].PriceID = priceIDs[plans[i].Tier]
	}
	return plans
}
