package billing

import (
	"strings"

	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
)

const ProviderStripe = "stripe"

// StripeConfig holds the Stripe keys and the price IDs sold per tier.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	PriceIDs       map[entitlements.Tier]string
	// ReturnBaseURL is the frontend origin used for checkout redirects.
	ReturnBaseURL string
}

// LoadStripeConfig reads the STRIPE_* settings.
func LoadStripeConfig() StripeConfig {
	priceIDs := map[entitlements.Tier]string{}
	for tier, key := range map[entitlements.Tier]string{
		entitlements.TierFree:       "STRIPE_PRICE_BASIC",
		entitlements.TierPro:        "STRIPE_PRICE_PRO",
		entitlements.TierEnterprise: "STRIPE_PRICE_ENTERPRISE",
	} {
		if v := strings.TrimSpace(env.GetEnv(key, "")); v != "" {
			priceIDs[tier] = v
		}
	}

	return StripeConfig{
		SecretKey:      strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		PublishableKey: strings.TrimSpace(env.GetEnv("STRIPE_PUBLISHABLE_KEY", "")),
		WebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		PriceIDs:       priceIDs,
		ReturnBaseURL:  strings.TrimRight(env.GetEnv("FRONTEND_ORIGIN", ""), "/"),
	}
}

// Enabled reports whether checkout can talk to Stripe.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}
