package wizard

const (
	AuthOAuth  = "oauth"
	AuthAPIKey = "apiKey"
)

// How the connectivity check presents the credential.
const (
	ProbeBearer       = "bearer"
	ProbeShopifyToken = "shopifyToken"
	ProbeBasicKey     = "basicKey"
)

// Placeholders in a ConnectivityURL.
const (
	placeholderShop       = "{shop}"
	placeholderDataCenter = "{dc}"
)

// Platform is one connectable SaaS product.
type Platform struct {
	Key              string   `json:"key"`
	Name             string   `json:"name"`
	AuthType         string   `json:"authType"`
	Provider         string   `json:"provider,omitempty"`
	Fields           []string `json:"fields"`
	ConnectivityURL  string   `json:"-"`
	ConnectivityAuth string   `json:"-"`
}

func (p Platform) UsesOAuth() bool {
	return p.AuthType == AuthOAuth
}

func (p Platform) HasField(field string) bool {
	for _, f := range p.Fields {
		if f == field {
			return true
		}
	}
	return false
}

var catalog = []Platform{
	{
		Key:             "salesforce",
		Name:            "Salesforce",
		AuthType:        AuthOAuth,
		Provider:        "salesforce",
		Fields:          []string{"FirstName", "LastName", "Email", "Phone", "Company", "LeadSource"},
		ConnectivityURL: "https://login.salesforce.com/services/oauth2/userinfo",
	},
	{
		Key:             "hubspot",
		Name:            "HubSpot",
		AuthType:        AuthAPIKey,
		Fields:          []string{"firstname", "lastname", "email", "phone", "company", "lifecyclestage"},
		ConnectivityURL: "https://api.hubapi.com/crm/v3/objects/contacts?limit=1",
	},
	{
		Key:              "shopify",
		Name:             "Shopify",
		AuthType:         AuthOAuth,
		Provider:         "shopify",
		Fields:           []string{"first_name", "last_name", "email", "phone", "total_spent", "orders_count"},
		ConnectivityURL:  "https://{shop}.myshopify.com/admin/api/2024-01/shop.json",
		ConnectivityAuth: ProbeShopifyToken,
	},
	{
		Key:             "google_sheets",
		Name:            "Google Sheets",
		AuthType:        AuthOAuth,
		Provider:        "googlesheets",
		Fields:          []string{"Column A", "Column B", "Column C", "Column D", "Column E", "Column F"},
		ConnectivityURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	},
	{
		Key:              "mailchimp",
		Name:             "Mailchimp",
		AuthType:         AuthAPIKey,
		Fields:           []string{"FNAME", "LNAME", "EMAIL", "PHONE", "ADDRESS", "TAGS"},
		ConnectivityURL:  "https://{dc}.api.mailchimp.com/3.0/ping",
		ConnectivityAuth: ProbeBasicKey,
	},
	{
		Key:             "airtable",
		Name:            "Airtable",
		AuthType:        AuthAPIKey,
		Fields:          []string{"Name", "Email", "Phone", "Notes", "Status", "Created"},
		ConnectivityURL: "https://api.airtable.com/v0/meta/whoami",
	},
}

// Catalog returns a copy of all connectable platforms in display order.
func Catalog() []Platform {
	out := make([]Platform, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a platform by its key.
func Lookup(key string) (Platform, bool) {
	for _, p := range catalog {
		if p.Key == key {
			return p, true
		}
	}
	return Platform{}, false
}

// LookupProvider finds the platform that authorizes through the named goth
// provider.
func LookupProvider(provider string) (Platform, bool) {
	for _, p := range catalog {
		if p.Provider != "" && p.Provider == provider {
			return p, true
		}
	}
	return Platform{}, false
}
