package stripegw

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/ticketforge/event-payments/internal/domain"
)

// Verifier checks webhook signatures against the raw body before any parsing
// and maps verified events into gateway-agnostic domain events.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) VerifyEvent(payload []byte, sigHeader string) (domain.GatewayEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, v.secret)
	if err != nil {
		return domain.GatewayEvent{}, errors.Wrap(err, "webhook signature")
	}
	return MapEvent(event)
}

// MapEvent translates a verified Stripe event. Types this system does not
// consume map to GatewayEventUnknown and are acknowledged upstream.
func MapEvent(event stripe.Event) (domain.GatewayEvent, error) {
	out := domain.GatewayEvent{ID: event.ID, Type: domain.GatewayEventUnknown}

	switch event.Type {
	case "payment_intent.succeeded":
		out.Type = domain.GatewayPaymentSucceeded
	case "payment_intent.payment_failed":
		out.Type = domain.GatewayPaymentFailed
	default:
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return domain.GatewayEvent{}, errors.Wrap(err, "parse payment intent")
	}
	out.TransactionID = pi.ID
	out.PaymentPublicID = pi.Metadata[domain.MetadataPublicID]
	return out, nil
}
