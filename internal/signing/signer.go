// Package signing authenticates public audio paths that stand in for private
// upstream URLs.
//
// A token is the first 32 hex characters of HMAC-SHA256(secret, url ":" id).
// It proves the issuer knew the upstream URL for that id; it does not carry
// or encrypt the URL, so verifying needs the URL looked up server-side.
// Tokens do not expire.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DevelopmentSecret is used when no secret is configured. Tokens signed with
// it can be forged by anyone who has read this file.
const DevelopmentSecret = "fallback-secret-key-change-in-production"

// TokenLength is the token length in hex characters.
const TokenLength = 32

const audioPathPrefix = "/api/audio/"

// Signer issues and checks the tokens embedded in audio paths.
type Signer struct {
	secret   []byte
	insecure bool
}

// New returns a signer keyed by secret. An empty secret selects
// DevelopmentSecret; Insecure then reports true.
func New(secret string) *Signer {
	if secret == "" {
		return &Signer{secret: []byte(DevelopmentSecret), insecure: true}
	}
	return &Signer{secret: []byte(secret)}
}

// Insecure reports whether the signer runs on the development secret.
func (s *Signer) Insecure() bool {
	return s.insecure
}

// Sign returns the hex HMAC-SHA256 of "upstreamURL:generationID", truncated to TokenLength.
func (s *Signer) Sign(upstreamURL, generationID string) string {
	return hex.EncodeToString(s.mac(upstreamURL, generationID))[:TokenLength]
}

// Verify reports whether token was produced by Sign for the same pair.
// Malformed tokens are rejected rather than panicking.
func (s *Signer) Verify(upstreamURL, generationID, token string) bool {
	if len(token) != TokenLength {
		return false
	}
	supplied, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	expected := s.mac(upstreamURL, generationID)[:TokenLength/2]
	return hmac.Equal(expected, supplied)
}

func (s *Signer) mac(upstreamURL, generationID string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(upstreamURL + ":" + generationID))
	return h.Sum(nil)
}

// BuildPath returns the public route for a generation's audio.
func BuildPath(generationID, token string) string {
	return audioPathPrefix + generationID + "/" + token
}

// ParsePath splits a path built by BuildPath.
func ParsePath(path string) (generationID, token string, ok bool) {
	rest, found := strings.CutPrefix(path, audioPathPrefix)
	if !found {
		return "", "", false
	}
	generationID, token, found = strings.Cut(rest, "/")
	if !found || generationID == "" || token == "" || strings.Contains(token, "/") {
		return "", "", false
	}
	return generationID, token, true
}
