package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyCheckout verifies the signature the gateway hands back to the client
// after checkout. The signed message is "<orderID>|<paymentID>" and the
// signature is hex-encoded HMAC-SHA256 under the key secret.
//
// The comparison is constant time. Any missing input fails verification.
func VerifyCheckout(orderID, paymentID, signature string, secret []byte) bool {
	if orderID == "" || paymentID == "" || signature == "" || len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(orderID))
	_, _ = mac.Write([]byte("|"))
	_, _ = mac.Write([]byte(paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(normalizeSignature(signature)), []byte(expected))
}

// VerifyWebhook verifies a webhook delivery against the raw request body.
// The body must be the exact bytes read off the wire; re-serialized JSON
// would not compare byte-for-byte.
func VerifyWebhook(rawBody []byte, signatureHeader string, secret []byte) bool {
	if len(rawBody) == 0 || signatureHeader == "" || len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(normalizeSignature(signatureHeader)), []byte(expected))
}

// SignCheckout computes the checkout signature. Exposed for tests and for the
// fake gateway tool.
func SignCheckout(orderID, paymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(orderID))
	_, _ = mac.Write([]byte("|"))
	_, _ = mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignWebhook computes the webhook body signature.
func SignWebhook(rawBody []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

func normalizeSignature(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
