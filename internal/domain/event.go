package domain

type GatewayEventType string

const (
	GatewayPaymentSucceeded GatewayEventType = "payment.succeeded"
	GatewayPaymentFailed    GatewayEventType = "payment.failed"
	GatewayEventUnknown     GatewayEventType = "unknown"
)

// MetadataPublicID is the gateway metadata key carrying the payment public id
// for webhook correlation.
const MetadataPublicID = "payment_public_id"

// GatewayEvent is a verified, gateway-agnostic webhook notification. Events
// are keyed by the gateway transaction id and may arrive duplicated or out
// of order. PaymentPublicID echoes the intent metadata and resolves payments
// whose transaction id was never persisted.
type GatewayEvent struct {
	ID              string
	Type            GatewayEventType
	TransactionID   string
	PaymentPublicID string
}
