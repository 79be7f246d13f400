// Package signature authenticates inbound webhook requests per source.
package signature

import (
	"net/http"
	"strings"
	"time"
)

// Reasons returned alongside ok=true when no provider ran.
const (
	ReasonNoConfig = "no-config"
	ReasonSkipped  = "skipped"
)

// SourceConfig binds a source tag to a provider and its shared secret.
type SourceConfig struct {
	Source    string
	Provider  string
	Secret    string
	Require   bool
	Tolerance time.Duration
}

type sourceEntry struct {
	cfg      SourceConfig
	provider Provider
}

// Verifier dispatches to the provider configured for a source. It is
// immutable after construction and safe for concurrent use.
type Verifier struct {
	sources map[string]sourceEntry
	now     func() time.Time
}

type Option func(*Verifier)

// WithClock overrides the clock used for timestamp tolerance checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(configs []SourceConfig, opts ...Option) *Verifier {
	v := &Verifier{
		sources: make(map[string]sourceEntry, len(configs)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(v)
	}

	for _, c := range configs {
		if c.Tolerance <= 0 {
			c.Tolerance = DefaultTolerance
		}
		key := strings.ToLower(strings.TrimSpace(c.Source))
		// first entry wins on duplicate sources
		if _, exists := v.sources[key]; exists {
			continue
		}
		v.sources[key] = sourceEntry{cfg: c, provider: NewProvider(c.Provider)}
	}
	return v
}

// Configured reports whether source has a signature entry.
func (v *Verifier) Configured(source string) bool {
	_, ok := v.sources[strings.ToLower(strings.TrimSpace(source))]
	return ok
}

// Verify authenticates one request. reason is empty when a provider accepted
// the signature, and a short machine-readable code otherwise.
func (v *Verifier) Verify(source string, headers http.Header, payload []byte) (ok bool, reason string) {
	entry, found := v.sources[strings.ToLower(strings.TrimSpace(source))]
	if !found {
		return true, ReasonNoConfig
	}
	if !entry.cfg.Require {
		return true, ReasonSkipped
	}
	if strings.TrimSpace(entry.cfg.Secret) == "" {
		return false, "secret-missing"
	}

	return entry.provider.verify(request{
		secret:    []byte(entry.cfg.Secret),
		headers:   headers,
		payload:   payload,
		now:       v.now(),
		tolerance: entry.cfg.Tolerance,
	})
}

// Verified reports whether a successful Verify result came from a provider
// check rather than a missing or optional config.
func Verified(ok bool, reason string) bool {
	return ok && reason == ""
}
