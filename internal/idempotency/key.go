// Package idempotency collapses retried webhook deliveries onto one event.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Header names consulted by ResolveKey, highest priority first.
var keyHeaders = []string{
	"Idempotency-Key",
	"X-Idempotency-Key",
	"X-Hub-Signature-256",
	"Stripe-Signature",
}

// ResolveKey picks the raw idempotency key for a request: the first
// non-blank header from keyHeaders, else the uppercase hex SHA-256 of payload.
func ResolveKey(headers http.Header, payload []byte) string {
	for _, name := range keyHeaders {
		if v := headers.Get(name); strings.TrimSpace(v) != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Namespaced scopes rawKey to source so equal keys from different sources
// never collide.
func Namespaced(source, rawKey string) string {
	return "idem:" + source + ":" + rawKey
}
