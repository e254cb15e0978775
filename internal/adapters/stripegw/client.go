// Package stripegw adapts Stripe PaymentIntents to the orchestrator's gateway
// interface. Only the thin client surface lives here; the wire protocol is
// the SDK's concern.
package stripegw

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
	"github.com/ticketforge/event-payments/internal/domain"
)

type Client struct{}

// NewClient configures the SDK key and a bounded HTTP timeout. Calls are
// never retried at this level; double charges are worse than a surfaced
// error.
func NewClient(apiKey string, timeout time.Duration) *Client {
	stripe.Key = apiKey
	stripe.SetHTTPClient(&http.Client{Timeout: timeout})
	return &Client{}
}

func toCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CreateIntent opens a payment intent scoped to amount/currency. Metadata
// carries the payment public id for webhook correlation. The client secret is
// the handshake token the storefront completes the payment with.
func (c *Client) CreateIntent(ctx context.Context, amount float64, currency string, metadata map[string]string) (txID, handshakeToken string, err error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx, Metadata: metadata},
		Amount:   stripe.Int64(toCents(amount)),
		Currency: stripe.String(currency),
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", "", errors.Wrapf(domain.ErrGatewayUnavailable, "create intent: %v", err)
	}
	return pi.ID, pi.ClientSecret, nil
}

// Refund refunds the given amount against an earlier intent. A gateway error
// here aborts the caller's refund with no local state change.
func (c *Client) Refund(ctx context.Context, transactionID string, amount float64) (refundID string, err error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(toCents(amount)),
	}
	r, err := refund.New(params)
	if err != nil {
		return "", errors.Wrapf(domain.ErrGatewayUnavailable, "refund: %v", err)
	}
	return r.ID, nil
}
