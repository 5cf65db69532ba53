// Package signing verifies that inbound webhooks originated from Slack, and
// signs values this gateway hands to Slack for later round-tripping.
package signing

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
	TimestampHeader = "X-Slack-Request-Timestamp"
	SignatureHeader = "X-Slack-Signature"

	signatureVersion = "v0"
)

// Verifier checks Slack request signatures.
type Verifier struct {
	// MaxAge rejects requests whose timestamp is older than this. Zero disables
	// the check.
	MaxAge time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier with an optional replay window.
func NewVerifier(maxAge time.Duration) *Verifier {
	return &Verifier{MaxAge: maxAge, now: time.Now}
}

// Verify reports whether headers carry a valid signature of rawBody under secret.
func (v *Verifier) Verify(secret string, rawBody []byte, headers http.Header) bool {
	timestamp := headers.Get(TimestampHeader)
	signature := headers.Get(SignatureHeader)
	if secret == "" || timestamp == "" || signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, signatureVersion+"=") {
		return false
	}
	if v != nil && v.MaxAge > 0 && !v.fresh(timestamp) {
		return false
	}
	expected := Sign(secret, timestamp, rawBody)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (v *Verifier) fresh(timestamp string) bool {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	age := now().Sub(time.Unix(secs, 0))
	if age < 0 {
		age = -age
	}
	return age <= v.MaxAge
}

// Verify checks a signature without a replay window.
func Verify(secret string, rawBody []byte, headers http.Header) bool {
	return (*Verifier)(nil).Verify(secret, rawBody, headers)
}

// Sign returns the X-Slack-Signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// MAC returns the hex HMAC-SHA256 of data under key.
func MAC(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualMAC compares two hex MACs in constant time.
func EqualMAC(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
