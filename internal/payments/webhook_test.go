package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testSecret = "whsec_test_secret"

// signPayload builds a Stripe-Signature header for the payload: the v1
// scheme is hex HMAC-SHA256 of "<timestamp>.<payload>".
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventType, clientReferenceID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"api_version": "2023-10-16",
		"type": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"client_reference_id": %q
			}
		}
	}`, eventType, clientReferenceID))
}

func TestParseActivation(t *testing.T) {
	verifier := NewWebhookVerifier(testSecret)
	purchaseID := uuid.New()

	payload := checkoutEvent("checkout.session.completed", purchaseID.String())
	header := signPayload(payload, testSecret, time.Now())

	activation, ok, err := verifier.ParseActivation(payload, header)
	if err != nil {
		t.Fatalf("ParseActivation: %v", err)
	}
	if !ok {
		t.Fatal("ok = false for checkout.session.completed")
	}
	if activation.PurchaseID != purchaseID {
		t.Errorf("purchase id = %s, want %s", activation.PurchaseID, purchaseID)
	}
}

func TestParseActivationIgnoresOtherEvents(t *testing.T) {
	verifier := NewWebhookVerifier(testSecret)

	payload := checkoutEvent("payment_intent.created", uuid.NewString())
	header := signPayload(payload, testSecret, time.Now())

	_, ok, err := verifier.ParseActivation(payload, header)
	if err != nil {
		t.Fatalf("ParseActivation: %v", err)
	}
	if ok {
		t.Error("ok = true for an ignored event type")
	}
}

func TestParseActivationBadSignature(t *testing.T) {
	verifier := NewWebhookVerifier(testSecret)
	payload := checkoutEvent("checkout.session.completed", uuid.NewString())

	cases := []struct {
		name   string
		header string
	}{
		{"wrong secret", signPayload(payload, "whsec_other", time.Now())},
		{"stale timestamp", signPayload(payload, testSecret, time.Now().Add(-time.Hour))},
		{"garbage header", "t=0,v1=deadbeef"},
		{"empty header", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := verifier.ParseActivation(payload, tc.header)
			if !errors.Is(err, ErrBadSignature) {
				t.Fatalf("err = %v, want ErrBadSignature", err)
			}
		})
	}
}

func TestParseActivationMissingReference(t *testing.T) {
	verifier := NewWebhookVerifier(testSecret)

	t.Run("empty reference", func(t *testing.T) {
		payload := checkoutEvent("checkout.session.completed", "")
		header := signPayload(payload, testSecret, time.Now())

		_, _, err := verifier.ParseActivation(payload, header)
		if !errors.Is(err, ErrMissingReference) {
			t.Fatalf("err = %v, want ErrMissingReference", err)
		}
	})

	t.Run("reference is not a uuid", func(t *testing.T) {
		payload := checkoutEvent("checkout.session.completed", "order-42")
		header := signPayload(payload, testSecret, time.Now())

		_, _, err := verifier.ParseActivation(payload, header)
		if !errors.Is(err, ErrMissingReference) {
			t.Fatalf("err = %v, want ErrMissingReference", err)
		}
	})
}
