package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is the scheme tag carried in X-Relay-Signature.
const signaturePrefix = "sha256="

// ValidateSignature verifies an HMAC-SHA256 signature over the raw request
// body. The comparison is constant time.
func ValidateSignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, signaturePrefix)))
}

// SignPayload computes the signature header value for a payload. Used by
// tests and by tenants building webhook senders.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
