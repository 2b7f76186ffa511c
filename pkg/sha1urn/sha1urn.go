// Package sha1urn renders and parses the HUGE "urn:sha1:<base32>" form
// used throughout queries, query hits, and HTTP URLs.
package sha1urn

import (
	"encoding/base32"
	"errors"
	"strings"
)

// ErrMalformed is returned by Parse for any string that is not a
// well-formed "urn:sha1:<32-char-base32>" or "urn:bitprint:<...>" value.
var ErrMalformed = errors.New("sha1urn: malformed SHA-1 URN")

const (
	prefixSHA1     = "urn:sha1:"
	prefixBitprint = "urn:bitprint:"
)

// Format renders a raw 20-byte SHA-1 as a "urn:sha1:<base32>" string.
func Format(sum [20]byte) string {
	return prefixSHA1 + base32.StdEncoding.EncodeToString(sum[:])
}

// Parse extracts the raw SHA-1 from a "urn:sha1:..." or
// "urn:bitprint:<sha1>.<tigertree>" string.
func Parse(urn string) ([20]byte, error) {
	var out [20]byte

	body := ""
	switch {
	case strings.HasPrefix(urn, prefixSHA1):
		body = strings.TrimPrefix(urn, prefixSHA1)
	case strings.HasPrefix(urn, prefixBitprint):
		body = strings.TrimPrefix(urn, prefixBitprint)
		if idx := strings.IndexByte(body, '.'); idx >= 0 {
			body = body[:idx]
		}
	default:
		return out, ErrMalformed
	}

	if len(body) != 32 {
		return out, ErrMalformed
	}
	raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(body))
	if err != nil || len(raw) != 20 {
		return out, ErrMalformed
	}
	copy(out[:], raw)
	return out, nil
}

// IsSHA1Query reports whether text is exactly a SHA-1 URN (used by
// QueryBuilder to pick the plain-URN payload form, §4.C).
func IsSHA1Query(text string) bool {
	_, err := Parse(text)
	return err == nil
}
