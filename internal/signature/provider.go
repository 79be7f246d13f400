package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderGitHub = "github"
	ProviderStripe = "stripe"

	HeaderGitHub = "X-Hub-Signature-256"
	HeaderStripe = "Stripe-Signature"

	DefaultTolerance = 300 * time.Second
)

// Provider checks one signature scheme. The set of providers is closed:
// only NewProvider can construct one.
type Provider interface {
	Name() string
	verify(req request) (bool, string)
}

type request struct {
	secret    []byte
	headers   http.Header
	payload   []byte
	now       time.Time
	tolerance time.Duration
}

// NewProvider returns the provider for kind. Unknown kinds yield a provider
// that rejects every request with "unknown-provider:<kind>".
func NewProvider(kind string) Provider {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ProviderGitHub:
		return githubProvider{}
	case ProviderStripe:
		return stripeProvider{}
	default:
		return unknownProvider{kind: kind}
	}
}

// githubProvider: X-Hub-Signature-256: sha256=<hex HMAC-SHA256(body)>.
type githubProvider struct{}

func (githubProvider) Name() string { return ProviderGitHub }

func (githubProvider) verify(r request) (bool, string) {
	values := r.headers.Values(HeaderGitHub)
	if len(values) == 0 {
		return false, "missing:" + HeaderGitHub
	}

	const prefix = "sha256="
	provided := strings.TrimSpace(values[0])
	if len(provided) < len(prefix) || !strings.EqualFold(provided[:len(prefix)], prefix) {
		return false, "bad-format"
	}

	sig, err := hex.DecodeString(provided[len(prefix):])
	if err != nil {
		return false, "bad-hex"
	}

	if !hmac.Equal(computeHMAC(r.secret, r.payload), sig) {
		return false, "mismatch"
	}
	return true, ""
}

// stripeProvider: Stripe-Signature: t=<unix>,v1=<hex>[,v1=<hex>...], where
// each v1 is HMAC-SHA256 over "<t>.<body>".
type stripeProvider struct{}

func (stripeProvider) Name() string { return ProviderStripe }

func (stripeProvider) verify(r request) (bool, string) {
	values := r.headers.Values(HeaderStripe)
	if len(values) == 0 {
		return false, "missing:" + HeaderStripe
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(strings.Join(values, ","), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if strings.TrimSpace(ts) == "" || len(candidates) == 0 {
		return false, "bad-format"
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "bad-timestamp"
	}

	skew := r.now.Unix() - unix
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(r.tolerance/time.Second) {
		return false, "timestamp-out-of-tolerance"
	}

	signed := make([]byte, 0, len(ts)+1+len(r.payload))
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, r.payload...)
	expected := computeHMAC(r.secret, signed)

	for _, c := range candidates {
		sig, err := hex.DecodeString(c)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, sig) {
			return true, ""
		}
	}
	return false, "mismatch"
}

type unknownProvider struct {
	kind string
}

func (p unknownProvider) Name() string { return p.kind }

func (p unknownProvider) verify(request) (bool, string) {
	return false, "unknown-provider:" + p.kind
}

func computeHMAC(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// SignGitHub returns the X-Hub-Signature-256 header value for payload.
func SignGitHub(secret string, payload []byte) string {
	return "sha256=" + hex.EncodeToString(computeHMAC([]byte(secret), payload))
}

// SignStripe returns a Stripe-Signature header value for payload at ts.
func SignStripe(secret string, ts time.Time, payload []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	signed := append([]byte(t+"."), payload...)
	return "t=" + t + ",v1=" + hex.EncodeToString(computeHMAC([]byte(secret), signed))
}
