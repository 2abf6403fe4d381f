package cms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader is the header the CMS signs webhook deliveries with.
const SignatureHeader = "X-Cms-Signature"

// Sign computes the signature the CMS would attach for the given raw
// body, formatted as "sha256=<hex>". Exposed so tests and local tooling
// can produce valid deliveries.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the raw,
// unparsed request body. It fails closed: an empty secret or header is
// never valid. Comparison is constant-time.
//
// Verification must happen before any JSON parsing; a parse-then-verify
// order would let tampered payloads that re-serialize identically slip
// through.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(header))
}
