// Package idgen generates Herald's opaque prefixed identifiers.
//
// Every domain identifier has the shape <kind>_<12-char nanoid>, and raw API
// keys have the shape <owner_prefix><24-char nanoid>. Neither the standard
// library nor the teacher's own dependency set ships a nanoid implementation,
// so the alphabet-sampling loop is built directly on crypto/rand, the same
// primitive the teacher's pkg/totp recovery-code generator uses for secure
// random material.
package idgen

import (
	"crypto/rand"
	"fmt"
)

// alphabet mirrors nanoid's default URL-safe alphabet.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// New returns a random string of n characters drawn from the nanoid
// alphabet, suitable for both ID suffixes and API key material.
func New(n int) string {
	b := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("idgen: reading random bytes: %w", err))
	}
	for i, r := range buf {
		b[i] = alphabet[int(r)%len(alphabet)]
	}
	return string(b)
}

// Kind-prefixed identifiers used across the engine. Each is <prefix>_<12 chars>.
const (
	PrefixSignal       = "sig"
	PrefixChannel      = "ch"
	PrefixSubscription = "sub"
	PrefixWebhook      = "wh"
	PrefixDelivery     = "del"
	PrefixDeadLetter   = "dlq"
	PrefixConnection   = "conn"
	PrefixApiKey       = "key"
)

// NewID mints a <kind>_<12-char nanoid> identifier.
func NewID(kind string) string {
	return kind + "_" + New(12)
}
