package billing

import (
	"strings"

	"github.com/stripe/stripe-go/v81"

	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
)

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

// subscriptionPriceIDs collects the price IDs of all items on a subscription.
func subscriptionPriceIDs(sub *stripe.Subscription) []string {
	if sub == nil || sub.Items == nil {
		return nil
	}
	ids := make([]string, 0, len(sub.Items.Data))
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil || item.Price.ID == "" {
			continue
		}
		ids = append(ids, item.Price.ID)
	}
	return ids
}

func tierLimit(tier entitlements.Tier) (string, int) {
	t := entitlements.Normalize(string(tier))
	return string(t), entitlements.IntegrationLimit(t)
}
