package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignatureHeader carries the HMAC of a webhook body.
const SignatureHeader = "x-paystack-signature"

// VerifySignature validates the HMAC-SHA512 signature Paystack puts on webhook
// deliveries.
func VerifySignature(payload []byte, signature, secretKey string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha512.New, []byte(secretKey))
	h.Write(payload)
	return hmac.Equal(given, h.Sum(nil))
}

// Sign computes the signature Paystack would send for payload.
func Sign(payload []byte, secretKey string) string {
	h := hmac.New(sha512.New, []byte(secretKey))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
