package oauth

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/markbates/goth/providers/salesforce"
	"github.com/markbates/goth/providers/shopify"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/SyncFox/internal/pkg/cache"
	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
)

const (
	// LoginProvider is the goth provider used for sign-in.
	LoginProvider = "google"
	// SheetsProvider authorizes the Google Sheets platform with its own scopes.
	SheetsProvider = "googlesheets"
)

// PublicBase is the externally reachable URL of this service.
func PublicBase() string {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if base == "" {
		base = "http://localhost:" + env.GetEnv("APP_PORT", "4000")
	}
	return base
}

// Providers builds the sign-in provider and the platform connect providers.
// Platform callbacks live under /connect so they never mix with login.
func Providers(base string) []goth.Provider {
	sheets := google.New(
		env.GetEnv("GOOGLE_CLIENT_KEY", ""),
		env.GetEnv("GOOGLE_CLIENT_SECRET", ""),
		base+"/connect/"+SheetsProvider+"/callback",
		"email", "https://www.googleapis.com/auth/spreadsheets",
	)
	sheets.SetName(SheetsProvider)
	sheets.SetAccessType("offline")

	shop := shopify.New(
		env.GetEnv("SHOPIFY_CLIENT_KEY", ""),
		env.GetEnv("SHOPIFY_CLIENT_SECRET", ""),
		base+"/connect/shopify/callback",
		"read_customers", "read_orders",
	)
	shop.SetShopName(env.GetEnv("SHOPIFY_SHOP_NAME", ""))

	return []goth.Provider{
		google.New(
			env.GetEnv("GOOGLE_CLIENT_KEY", ""),
			env.GetEnv("GOOGLE_CLIENT_SECRET", ""),
			base+"/auth/"+LoginProvider+"/callback",
			"email", "profile",
		),
		sheets,
		salesforce.New(
			env.GetEnv("SALESFORCE_CLIENT_KEY", ""),
			env.GetEnv("SALESFORCE_CLIENT_SECRET", ""),
			base+"/connect/salesforce/callback",
			"api", "refresh_token",
		),
		shop,
	}
}

// Setup registers all providers and keeps OAuth state in Redis DB 2.
// It is safe to call multiple times; providers will just be re-registered.
func Setup() {
	goth.UseProviders(Providers(PublicBase())...)

	cacheClient := cache.GetClient()
	host, port := "127.0.0.1", 6379
	username, password := "", ""
	if cacheClient != nil {
		cacheOpts := cacheClient.Options()
		if h, p, err := net.SplitHostPort(cacheOpts.Addr); err == nil {
			host = h
			if parsed, e := strconv.Atoi(p); e == nil {
				port = parsed
			}
		} else if cacheOpts.Addr != "" {
			host = cacheOpts.Addr
		}
		username, password = cacheOpts.Username, cacheOpts.Password
	}

	gothfiber.SessionStore = session.New(session.Config{
		Storage: redisstorage.New(redisstorage.Config{
			Host:     host,
			Port:     port,
			Username: username,
			Password: password,
			Database: 2,
			Reset:    false,
		}),
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !env.IsDev(),
		Expiration:     time.Hour,
	})
}
