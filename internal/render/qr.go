// Package render produces the opaque ticket artifacts: a signed scannable QR
// payload and a printable PDF. Both return raw bytes for the blob store.
package render

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// QRRenderer signs ticket identity payloads so scanners can reject forged
// codes offline before hitting the API.
type QRRenderer struct {
	signingKey []byte
}

func NewQRRenderer(signingKey []byte) *QRRenderer {
	return &QRRenderer{signingKey: signingKey}
}

type qrPayload struct {
	Token     string    `json:"token"`
	PaymentID uuid.UUID `json:"payment_id"`
	ProductID uuid.UUID `json:"product_id"`
}

// Render encodes token identity plus an HMAC-SHA256 signature as
// base64(json).base64(sig).
func (r *QRRenderer) Render(token string, paymentID, productID uuid.UUID) ([]byte, error) {
	body, err := json.Marshal(qrPayload{Token: token, PaymentID: paymentID, ProductID: productID})
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, r.signingKey)
	mac.Write(body)

	out := base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return []byte(out), nil
}

// Verify checks a scanned payload and returns the embedded token.
func (r *QRRenderer) Verify(payload []byte) (string, error) {
	parts := splitPayload(string(payload))
	if parts == nil {
		return "", errors.New("malformed qr payload")
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errors.Wrap(err, "decode body")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.Wrap(err, "decode signature")
	}

	mac := hmac.New(sha256.New, r.signingKey)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", errors.New("qr signature mismatch")
	}

	var p qrPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", err
	}
	return p.Token, nil
}

func splitPayload(s string) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}
