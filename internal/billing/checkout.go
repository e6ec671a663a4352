package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// CheckoutProvider starts a payment session for a plan upgrade and returns a
// redirect URL for the client.
type CheckoutProvider interface {
	CreateCheckoutSession(userID, email string, plan Plan) (string, error)
}

// WebhookProcessor verifies and applies payment-provider webhook events.
type WebhookProcessor interface {
	HandleWebhookEvent(payload []byte, signature string, store PlanStore) (string, error)
}

// StripeCheckout implements CheckoutProvider using Stripe Checkout Sessions.
type StripeCheckout struct {
	priceIDs      map[Plan]string
	frontendURL   string
	webhookSecret string
}

// StripeConfig holds the Stripe wiring for checkout and webhooks.
type StripeConfig struct {
	SecretKey      string
	PriceIDPro     string
	PriceIDPremium string
	FrontendURL    string
	WebhookSecret  string
}

// NewStripeCheckout configures the global Stripe key and returns a provider.
func NewStripeCheckout(cfg StripeConfig) (*StripeCheckout, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = cfg.SecretKey

	return &StripeCheckout{
		priceIDs: map[Plan]string{
			PlanPro:     cfg.PriceIDPro,
			PlanPremium: cfg.PriceIDPremium,
		},
		frontendURL:   strings.TrimRight(cfg.FrontendURL, "/"),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

// CreateCheckoutSession starts a subscription checkout for the given plan.
func (s *StripeCheckout) CreateCheckoutSession(userID, email string, plan Plan) (string, error) {
	priceID := s.priceIDs[plan]
	if priceID == "" {
		return "", fmt.Errorf("no price configured for plan %s", plan)
	}
	if s.frontendURL == "" {
		return "", errors.New("frontend url not configured")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.frontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.frontendURL + "/billing/cancel"),
		Metadata: map[string]string{
			"user_id": userID,
			"plan":    string(plan),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("creating checkout session: %w", err)
	}

	return sess.URL, nil
}

// HandleWebhookEvent verifies a Stripe webhook payload and, for completed
// checkouts, applies the purchased plan to the user via the store. Returns
// the handled event type for logging.
func (s *StripeCheckout) HandleWebhookEvent(payload []byte, signature string, store PlanStore) (string, error) {
	if s.webhookSecret == "" {
		return "", errors.New("webhook secret not configured")
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return "", fmt.Errorf("verifying webhook signature: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		return string(event.Type), nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return string(event.Type), fmt.Errorf("unmarshaling checkout session: %w", err)
	}

	userID := sess.Metadata["user_id"]
	plan := Plan(sess.Metadata["plan"])
	if userID == "" || plan == "" {
		return string(event.Type), errors.New("checkout session missing user metadata")
	}

	if err := store.SetPlan(userID, plan); err != nil {
		return string(event.Type), fmt.Errorf("applying plan: %w", err)
	}

	return string(event.Type), nil
}
