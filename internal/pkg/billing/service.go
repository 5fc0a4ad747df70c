package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
)

var (
	ErrNotConfigured    = errors.New("billing is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownCustomer  = errors.New("no user for stripe customer")
	ErrUnknownPrice     = errors.New("unknown price")
)

// Outcome describes what HandleEvent did with a verified event.
type Outcome struct {
	EventType string
	Duplicate bool
	Ignored   bool
	UserID    uint
}

// Service turns Stripe checkout and subscription lifecycle events into the
// subscription columns of the users table.
type Service struct {
	repo    Repository
	users   repository.UserRepository
	gateway Gateway
	cfg     StripeConfig
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, users repository.UserRepository, gateway Gateway, cfg StripeConfig) *Service {
	return &Service{repo: repo, users: users, gateway: gateway, cfg: cfg}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, cfg StripeConfig) *Service {
	return NewService(NewRepository(db), repository.NewUserRepository(db), gateway, cfg)
}

func (s *Service) Config() StripeConfig {
	return s.cfg
}

// SeedPlanMappings writes the configured price IDs into billing_plan_mappings.
func (s *Service) SeedPlanMappings(ctx context.Context) error {
	for tier, priceID := range s.cfg.PriceIDs {
		if strings.TrimSpace(priceID) == "" {
			continue
		}
		m := &models.BillingPlanMapping{
			Provider: ProviderStripe,
			PriceID:  priceID,
			Tier:     string(entitlements.Normalize(string(tier))),
			IsActive: true,
		}
		if err := s.repo.UpsertPlanMapping(ctx, m); err != nil {
			return fmt.Errorf("seed plan mapping %s: %w", priceID, err)
		}
	}
	return nil
}

// ResolveTier maps a price ID to its tier. Unknown prices resolve to free.
func (s *Service) ResolveTier(ctx context.Context, priceID string) (entitlements.Tier, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return entitlements.TierFree, nil
	}
	m, err := s.repo.FindActivePlanMapping(ctx, ProviderStripe, priceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entitlements.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return entitlements.Normalize(m.Tier), nil
}

// ResolveBestTier picks the highest tier across several price IDs.
func (s *Service) ResolveBestTier(ctx context.Context, priceIDs []string) (entitlements.Tier, error) {
	best := entitlements.TierFree
	for _, id := range priceIDs {
		tier, err := s.ResolveTier(ctx, id)
		if err != nil {
			return "", err
		}
		if entitlements.Rank(tier) > entitlements.Rank(best) {
			best = tier
		}
	}
	return best, nil
}

// IsKnownPrice reports whether priceID has an active mapping.
func (s *Service) IsKnownPrice(ctx context.Context, priceID string) (bool, error) {
	_, err := s.repo.FindActivePlanMapping(ctx, ProviderStripe, strings.TrimSpace(priceID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// VerifyEvent checks the Stripe-Signature header and decodes the event.
func (s *Service) VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if s.cfg.WebhookSecret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// HandleEvent records a verified event idempotently and applies it. An event
// that was already processed without error is acknowledged as a duplicate.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event, rawPayload []byte) (Outcome, error) {
	out := Outcome{EventType: string(event.Type)}

	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		sum := sha256.Sum256(rawPayload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(ctx, &models.BillingWebhookEvent{
		Provider:        ProviderStripe,
		ProviderEventID: eventID,
		EventType:       string(event.Type),
		Payload:         datatypes.JSON(rawPayload),
	})
	if err != nil {
		return out, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		out.Duplicate = true
		return out, nil
	}

	procErr := s.apply(ctx, event, &out)
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(ctx, stored.ID, errMsg); err != nil {
		log.Errorf("[Billing] failed to mark event %s processed: %v", eventID, err)
	}
	return out, procErr
}

func (s *Service) apply(ctx context.Context, event stripe.Event, out *Outcome) error {
	if event.Data == nil {
		out.Ignored = true
		return nil
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return s.applyCheckoutCompleted(ctx, &cs, out)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.applySubscription(ctx, &sub, false, out)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.applySubscription(ctx, &sub, true, out)

	default:
		log.Infof("[Billing] ignoring stripe event %s (%s)", event.Type, event.ID)
		out.Ignored = true
		return nil
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, cs *stripe.CheckoutSession, out *Outcome) error {
	customerID := ""
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}
	user, err := s.userByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	out.UserID = user.ID

	subscriptionID := ""
	if cs.Subscription != nil {
		subscriptionID = cs.Subscription.ID
	}

	tier := entitlements.Normalize(user.SubscriptionTier)
	if priceID := cs.Metadata["price_id"]; priceID != "" {
		if tier, err = s.ResolveTier(ctx, priceID); err != nil {
			return err
		}
	}
	name, limit := tierLimit(tier)

	log.Infof("[Billing] checkout completed for user %d: tier=%s subscription=%s", user.ID, name, subscriptionID)
	return s.users.UpdateSubscription(ctx, user.ID, repository.SubscriptionUpdate{
		Status:           string(stripe.SubscriptionStatusActive),
		SubscriptionID:   subscriptionID,
		Tier:             name,
		IntegrationLimit: limit,
	})
}

func (s *Service) applySubscription(ctx context.Context, sub *stripe.Subscription, deleted bool, out *Outcome) error {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	user, err := s.userByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	out.UserID = user.ID

	status := strings.ToLower(string(sub.Status))
	if status == "" && deleted {
		status = string(stripe.SubscriptionStatusCanceled)
	}

	update := repository.SubscriptionUpdate{Status: status}
	if !deleted && isEntitlingStatus(status) {
		tier, err := s.ResolveBestTier(ctx, subscriptionPriceIDs(sub))
		if err != nil {
			return err
		}
		update.SubscriptionID = sub.ID
		update.Tier, update.IntegrationLimit = tierLimit(tier)
	} else {
		update.Tier, update.IntegrationLimit = tierLimit(entitlements.TierFree)
	}

	log.Infof("[Billing] subscription %s for user %d is %s (tier=%s)", sub.ID, user.ID, status, update.Tier)
	return s.users.UpdateSubscription(ctx, user.ID, update)
}

func (s *Service) userByCustomer(ctx context.Context, customerID string) (*models.User, error) {
	user, err := s.users.GetByStripeCustomerID(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCustomer, customerID)
	}
	return user, err
}

// CreateCheckoutSession starts a subscription checkout for user. A Stripe
// customer is created and stored on first use.
func (s *Service) CreateCheckoutSession(ctx context.Context, user *models.User, priceID, origin string) (string, error) {
	if s.gateway == nil || !s.cfg.Enabled() {
		return "", ErrNotConfigured
	}
	known, err := s.IsKnownPrice(ctx, priceID)
	if err != nil {
		return "", err
	}
	if !known {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrice, priceID)
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, CustomerInput{UserID: user.ID, Email: user.Email, Name: user.Name})
		if err != nil {
			return "", err
		}
		if err := s.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
			return "", fmt.Errorf("store stripe customer: %w", err)
		}
		user.StripeCustomerID = customerID
	}

	base := s.cfg.ReturnBaseURL
	if base == "" {
		base = strings.TrimRight(origin, "/")
	}
	return s.gateway.CreateCheckoutSession(ctx, CheckoutInput{
		UserID:     user.ID,
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: base + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/pricing",
	})
}
