package signature

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestVerifier() *Verifier {
	return NewVerifier([]SourceConfig{
		{Source: "GitHub", Provider: "github", Secret: "gh_secret", Require: true},
		{Source: "stripe", Provider: "stripe", Secret: "whsec_test", Require: true, Tolerance: 300 * time.Second},
		{Source: "optional", Provider: "github", Secret: "x", Require: false},
		{Source: "nosecret", Provider: "github", Require: true},
		{Source: "custom", Provider: "acme", Secret: "x", Require: true},
	}, WithClock(func() time.Time { return fixedNow }))
}

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestVerify_GitHub(t *testing.T) {
	v := newTestVerifier()
	payload := []byte(`{"action":"opened"}`)
	good := SignGitHub("gh_secret", payload)

	tests := []struct {
		name    string
		source  string
		headers http.Header
		payload []byte
		wantOK  bool
		reason  string
	}{
		{"valid", "github", header(HeaderGitHub, good), payload, true, ""},
		{"source lookup is case-insensitive", "GITHUB", header(HeaderGitHub, good), payload, true, ""},
		{"uppercase prefix", "github", header(HeaderGitHub, "SHA256="+good[len("sha256="):]), payload, true, ""},
		{"missing header", "github", header(), payload, false, "missing:X-Hub-Signature-256"},
		{"wrong prefix", "github", header(HeaderGitHub, "sha1=abcd"), payload, false, "bad-format"},
		{"bad hex", "github", header(HeaderGitHub, "sha256=zz"), payload, false, "bad-hex"},
		{"odd length hex", "github", header(HeaderGitHub, "sha256=abc"), payload, false, "bad-hex"},
		{"flipped payload byte", "github", header(HeaderGitHub, good), []byte(`{"action":"openeD"}`), false, "mismatch"},
		{"wrong secret", "github", header(HeaderGitHub, SignGitHub("other", payload)), payload, false, "mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := v.Verify(tt.source, tt.headers, tt.payload)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestVerify_Stripe(t *testing.T) {
	v := newTestVerifier()
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	good := SignStripe("whsec_test", fixedNow, payload)
	ts := strconv.FormatInt(fixedNow.Unix(), 10)

	tests := []struct {
		name   string
		value  string
		wantOK bool
		reason string
	}{
		{"valid", good, true, ""},
		{"second candidate matches", "t=" + ts + ",v1=00ff," + good[len("t="+ts+","):], true, ""},
		{"spaces around entries", " t=" + ts + " , " + good[len("t="+ts+","):], true, ""},
		{"missing t", "v1=abcd", false, "bad-format"},
		{"missing v1", "t=" + ts, false, "bad-format"},
		{"non numeric t", "t=yesterday,v1=abcd", false, "bad-timestamp"},
		{"too old", SignStripe("whsec_test", fixedNow.Add(-301*time.Second), payload), false, "timestamp-out-of-tolerance"},
		{"too far ahead", SignStripe("whsec_test", fixedNow.Add(301*time.Second), payload), false, "timestamp-out-of-tolerance"},
		{"at the tolerance edge", SignStripe("whsec_test", fixedNow.Add(-300*time.Second), payload), true, ""},
		{"wrong secret", SignStripe("whsec_other", fixedNow, payload), false, "mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := v.Verify("stripe", header(HeaderStripe, tt.value), payload)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}

	t.Run("missing header", func(t *testing.T) {
		ok, reason := v.Verify("stripe", header(), payload)
		assert.False(t, ok)
		assert.Equal(t, "missing:Stripe-Signature", reason)
	})
}

func TestVerify_ConfigCases(t *testing.T) {
	v := newTestVerifier()

	ok, reason := v.Verify("unconfigured", header(), []byte("x"))
	assert.True(t, ok)
	assert.Equal(t, ReasonNoConfig, reason)
	assert.False(t, Verified(ok, reason))

	ok, reason = v.Verify("optional", header(), []byte("x"))
	assert.True(t, ok)
	assert.Equal(t, ReasonSkipped, reason)

	ok, reason = v.Verify("nosecret", header(), []byte("x"))
	assert.False(t, ok)
	assert.Equal(t, "secret-missing", reason)

	ok, reason = v.Verify("custom", header(), []byte("x"))
	assert.False(t, ok)
	assert.Equal(t, "unknown-provider:acme", reason)
}

func TestVerify_DefaultTolerance(t *testing.T) {
	v := NewVerifier([]SourceConfig{
		{Source: "stripe", Provider: "stripe", Secret: "s", Require: true},
	}, WithClock(func() time.Time { return fixedNow }))
	payload := []byte("{}")

	ok, _ := v.Verify("stripe", header(HeaderStripe, SignStripe("s", fixedNow.Add(-299*time.Second), payload)), payload)
	assert.True(t, ok)

	ok, reason := v.Verify("stripe", header(HeaderStripe, SignStripe("s", fixedNow.Add(-301*time.Second), payload)), payload)
	assert.False(t, ok)
	assert.Equal(t, "timestamp-out-of-tolerance", reason)
}

func TestNewProvider(t *testing.T) {
	assert.Equal(t, ProviderGitHub, NewProvider("GitHub").Name())
	assert.Equal(t, ProviderStripe, NewProvider("stripe").Name())
	assert.Equal(t, "acme", NewProvider("acme").Name())
}
