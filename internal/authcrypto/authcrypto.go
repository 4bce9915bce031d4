// Package authcrypto implements the auth primitives shared by the
// publisher, subscriber and tunnel planes: API key generation, SHA-256
// hashing, and HMAC-SHA256 payload signing with constant-time verification.
package authcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/starksama/herald/internal/idgen"
)

const (
	PublisherPrefix  = "hld_pub_"
	SubscriberPrefix = "hld_sub_"

	rawKeyRandomChars = 24
	visiblePrefixLen  = 12
)

// GenerateAPIKey mints a fresh raw key for the given owner prefix
// (PublisherPrefix or SubscriberPrefix), its SHA-256 hex hash, and the
// leading visiblePrefixLen characters of the raw key for display purposes.
// Raw key material is returned once and never persisted by this package.
func GenerateAPIKey(prefix string) (raw, hash, visiblePrefix string) {
	raw = prefix + idgen.New(rawKeyRandomChars)
	hash = HashAPIKey(raw)
	visiblePrefix = raw[:visiblePrefixLen]
	return raw, hash, visiblePrefix
}

// HashAPIKey returns the lowercase hex SHA-256 digest of raw. Lookup of a
// presented key is always by this hash; the raw value is never stored.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SignPayload computes the webhook signature header value for body, signed
// with secret at the given unix timestamp. The result has the exact shape
// "sha256=" + hex(HMAC-SHA256(secret, "{timestamp}.{body}")).
//
// HMAC-SHA256 accepts any key length, so this never fails.
func SignPayload(secret string, timestamp int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the correct signature for
// (secret, timestamp, body). The comparison is constant-time on equal-length
// inputs; a length mismatch is rejected before reaching the constant-time
// compare, which is itself still constant-time for any fixed pair of lengths.
func VerifySignature(secret string, timestamp int64, body string, signature string) bool {
	expected := SignPayload(secret, timestamp, body)
	if len(expected) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifySignatureHMAC is an alternate constant-time verifier using
// crypto/hmac.Equal, kept alongside VerifySignature because both idioms
// appear in the surrounding ecosystem; callers should use VerifySignature.
func VerifySignatureHMAC(secret string, timestamp int64, body string, signature string) bool {
	expected := SignPayload(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
