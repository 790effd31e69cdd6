package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const identityMarker = "pt_pin="

// ExtractIdentity pulls the JD account id out of a cookie of the form
// "pt_key=...;pt_pin=<identity>;". The identity is the natural key for
// cooldown and replacement decisions.
func ExtractIdentity(cookie string) (string, error) {
	idx := strings.Index(cookie, identityMarker)
	if idx < 0 {
		return "", fmt.Errorf("%w: missing %q", ErrMalformedCredential, identityMarker)
	}
	rest := cookie[idx+len(identityMarker):]
	end := strings.IndexByte(rest, ';')
	if end <= 0 {
		return "", fmt.Errorf("%w: unterminated or empty identity", ErrMalformedCredential)
	}
	return rest[:end], nil
}

// credFingerprint is what goes into logs instead of the cookie itself.
func credFingerprint(cookie string) string {
	sum := sha256.Sum256([]byte(cookie))
	return hex.EncodeToString(sum[:4])
}
