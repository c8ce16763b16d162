package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrBadSignature     = errors.New("invalid webhook signature")
	ErrMissingReference = errors.New("event carries no purchase reference")
)

// WebhookVerifier validates Stripe webhook payloads and extracts the
// package purchase they activate.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Activation is a payment-approved event resolved to our purchase id.
type Activation struct {
	PurchaseID uuid.UUID
}

// ParseActivation verifies the signature and returns the activation the
// event triggers. ok is false for event types the service ignores.
func (v *WebhookVerifier) ParseActivation(payload []byte, sigHeader string) (Activation, bool, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Activation{}, false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		return Activation{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Activation{}, false, fmt.Errorf("decode checkout session: %w", err)
	}

	// The checkout session is created with client_reference_id set to the
	// purchase id.
	ref := session.ClientReferenceID
	if ref == "" {
		return Activation{}, false, ErrMissingReference
	}

	purchaseID, err := uuid.Parse(ref)
	if err != nil {
		return Activation{}, false, fmt.Errorf("%w: %q is not a purchase id", ErrMissingReference, ref)
	}

	return Activation{PurchaseID: purchaseID}, true, nil
}
