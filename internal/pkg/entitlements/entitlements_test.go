package entitlements

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{in: "free", want: TierFree},
		{in: "pro", want: TierPro},
		{in: " Enterprise ", want: TierEnterprise},
		{in: "premium", want: TierFree},
		{in: "", want: TierFree},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestIntegrationLimit(t *testing.T) {
	assert.Equal(t, 1, IntegrationLimit(TierFree))
	assert.Equal(t, 5, IntegrationLimit(TierPro))
	assert.Equal(t, Unlimited, IntegrationLimit(TierEnterprise))
	assert.Equal(t, 1, IntegrationLimit("bogus"))
}

func TestRankOrdersTiers(t *testing.T) {
	assert.Less(t, Rank(TierFree), Rank(TierPro))
	assert.Less(t, Rank(TierPro), Rank(TierEnterprise))
}

func TestCatalog(t *testing.T) {
	plans := Catalog(map[Tier]string{TierPro: "price_pro"})

	assert.Len(t, plans, 3)
	assert.Equal(t, "Pro", plans[1].Name)
	assert.Equal(t, "price_pro", plans[1].PriceID)
	assert.Empty(t, plans[0].PriceID)
	assert.True(t, plans[2].MonthlyPrice.Equal(decimal.RequireFromString("99.99")))
	assert.Equal(t, 5, plans[1].IntegrationLimit)
}
