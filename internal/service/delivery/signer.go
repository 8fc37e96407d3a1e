package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix identifies the scheme in the X-Webhook-Signature header.
const SignaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA256 of body keyed by secret. The signature is
// always computed over the exact bytes put on the wire.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader returns the full header value for a signed request.
func SignatureHeader(secret string, body []byte) string {
	return SignaturePrefix + Sign(secret, body)
}

// VerifySignature checks a received header value against the body. Used by
// the test suite and offered to subscribers as reference behavior.
func VerifySignature(secret string, body []byte, header string) bool {
	if len(header) <= len(SignaturePrefix) || header[:len(SignaturePrefix)] != SignaturePrefix {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header[len(SignaturePrefix):]))
}
