// Package venue implements the one piece of venue-specific plumbing used
// by every REST call that needs it: HMAC-SHA256 request signing over a
// canonicalized query string for new/cancel/status requests. Everything
// else about a concrete venue — URL construction, JSON shapes,
// error-code mapping — is internal to the gateway and marketdata
// packages that use this signer; venue-specific details stay out of this
// interface. Credential acquisition is an external concern: the signer
// consumes a pre-provisioned API key/secret pair.
package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Credentials is the already-resolved API key/secret pair the core
// consumes. Acquiring these (TOTP, signed bootstrap flows) is an excluded
// external collaborator.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Signer produces the HMAC-SHA256 signature and auth header a venue
// requires for every outbound REST order request.
type Signer struct {
	creds      Credentials
	authHeader string // venue-specific header name, e.g. "X-Auth-Key"
}

// NewSigner returns a Signer using the default "X-Auth-Key" header name
// unless header overrides it for a venue that uses a different name.
func NewSigner(creds Credentials, header string) *Signer {
	if header == "" {
		header = "X-Auth-Key"
	}
	return &Signer{creds: creds, authHeader: header}
}

// AuthHeader returns the header name/value pair identifying the caller,
// independent of any one request's signature.
func (s *Signer) AuthHeader() (name, value string) {
	return s.authHeader, s.creds.APIKey
}

// Canonicalize builds the canonical query string a request's signature is
// computed over: keys sorted, '=' and '&' joined, URL-encoded values.
// Taking an explicit param map means callers building form-encoded REST
// calls never hand-assemble the string themselves.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Sign computes the HMAC-SHA256 signature of the canonicalized query
// string using the configured API secret, base64-encoded. This is the
// value a venue expects in the "signature" field on every
// NEW/CANCEL/status request.
func (s *Signer) Sign(canonical string) string {
	mac := hmac.New(sha256.New, []byte(s.creds.APISecret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignRequest stamps timestamp onto params, computes the canonical string
// and signature, and returns params with "timestamp" and "signature"
// added — ready to form-encode onto an outbound REST call.
func (s *Signer) SignRequest(params map[string]string, now time.Time) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out["timestamp"] = strconv.FormatInt(now.Unix(), 10)
	out["signature"] = s.Sign(Canonicalize(out))
	return out
}
