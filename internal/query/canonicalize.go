package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// ErrMalformedUTF8 is returned when a query string does not decode as
// UTF-8 after an optional BOM is stripped (§4.D).
type ErrMalformedUTF8 struct{}

func (ErrMalformedUTF8) Error() string { return "query: malformed UTF-8 after BOM" }

// Canonicalize normalizes a free-text query in place, following §4.D:
//  1. strip an optional UTF-8 BOM;
//  2. reject input that is not valid UTF-8 with ErrMalformedUTF8, then
//     fold each codepoint to lowercase and map punctuation/whitespace to
//     a single space;
//  3. collapse whitespace runs and drop words shorter than minWordLength.
func Canonicalize(raw string, minWordLength int) (string, error) {
	b := []byte(raw)
	if len(b) >= 3 && b[0] == bom[0] && b[1] == bom[1] && b[2] == bom[2] {
		b = b[3:]
	}
	if !utf8.Valid(b) {
		return "", ErrMalformedUTF8{}
	}

	var sb strings.Builder
	for _, r := range string(b) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSpace(r):
			sb.WriteByte(' ')
		default:
			sb.WriteRune(unicode.ToLower(r))
		}
	}

	fields := strings.Fields(sb.String())
	kept := fields[:0]
	for _, w := range fields {
		if utf8.RuneCountInString(w) >= minWordLength {
			kept = append(kept, w)
		}
	}

	return strings.Join(kept, " "), nil
}
