package stripegw_test

import (
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v81"
	"github.com/ticketforge/event-payments/internal/adapters/stripegw"
	"github.com/ticketforge/event-payments/internal/domain"
)

func stripeEvent(t *testing.T, eventType, intentID string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":       intentID,
		"metadata": map[string]string{domain.MetadataPublicID: "pub-" + intentID},
	})
	if err != nil {
		t.Fatal(err)
	}
	return stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestMapEvent(t *testing.T) {
	evt, err := stripegw.MapEvent(stripeEvent(t, "payment_intent.succeeded", "pi_123"))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != domain.GatewayPaymentSucceeded || evt.TransactionID != "pi_123" {
		t.Errorf("unexpected mapping: %+v", evt)
	}
	if evt.PaymentPublicID != "pub-pi_123" {
		t.Errorf("metadata public id not carried over: %q", evt.PaymentPublicID)
	}

	evt, err = stripegw.MapEvent(stripeEvent(t, "payment_intent.payment_failed", "pi_456"))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != domain.GatewayPaymentFailed || evt.TransactionID != "pi_456" {
		t.Errorf("unexpected mapping: %+v", evt)
	}
}

func TestMapEvent_UnknownTypeAcknowledged(t *testing.T) {
	evt, err := stripegw.MapEvent(stripeEvent(t, "charge.dispute.created", "ch_1"))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != domain.GatewayEventUnknown {
		t.Errorf("expected unknown type, got %s", evt.Type)
	}
	if evt.TransactionID != "" {
		t.Errorf("unknown events should not parse a transaction id, got %q", evt.TransactionID)
	}
}
