package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes and checks gateway signatures: hex HMAC-SHA256 with the
// key secret over "orderId|paymentId" for client confirmations, and with the
// webhook secret over the raw body for webhooks.
type Signer struct {
	keySecret     []byte
	webhookSecret []byte
}

func NewSigner(keySecret, webhookSecret string) *Signer {
	return &Signer{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

func (s *Signer) SignPayment(providerOrderID, providerPaymentID string) string {
	return sign(s.keySecret, []byte(providerOrderID+"|"+providerPaymentID))
}

func (s *Signer) VerifyPayment(providerOrderID, providerPaymentID, signature string) bool {
	if providerOrderID == "" || providerPaymentID == "" {
		return false
	}
	return verify(s.keySecret, []byte(providerOrderID+"|"+providerPaymentID), signature)
}

func (s *Signer) SignWebhook(payload []byte) string {
	return sign(s.webhookSecret, payload)
}

func (s *Signer) VerifyWebhook(payload []byte, signature string) bool {
	return verify(s.webhookSecret, payload, signature)
}

func sign(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares the exact lowercase hex digest in constant time. An unset
// secret never verifies.
func verify(key, data []byte, signature string) bool {
	if len(key) == 0 {
		return false
	}
	expected := sign(key, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
