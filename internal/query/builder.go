package query

import (
	"errors"
	"net/netip"

	"github.com/gnutella-core/servent/pkg/guid"
	"github.com/gnutella-core/servent/pkg/sha1urn"
)

// ErrMUIDExhausted is returned when every draw attempt collided with an
// existing entry in the MUID→Search map (§4.C).
var ErrMUIDExhausted = errors.New("query: exhausted MUID draw attempts")

// BuildParams carries everything QueryBuilder needs from the caller's
// Search and current peer mode (§4.C). It intentionally does not depend
// on package search's Search type: SearchRegistry is the caller, and
// importing it here would create a cycle.
type BuildParams struct {
	// Text is the Search's query text, already canonicalized by the
	// caller if it is a free-text query, or a "urn:sha1:..." string.
	Text string

	// Firewalled is true when this servent is locally firewalled.
	Firewalled bool

	// LeafGuided is true when operating as a leaf-guided query source.
	LeafGuided bool

	// GGEPH requests GGEP "H" style SHA-1 hashes in results.
	GGEPH bool

	// UDPActive is true when this servent can receive UDP traffic at
	// all, a precondition for OOB.
	UDPActive bool

	// ReplyAddr is this servent's externally advertised UDP reply
	// address. Only used when it IsValid and routable.
	ReplyAddr netip.AddrPort

	// MaxAttempts bounds the random MUID draw loop.
	MaxAttempts int

	// MUIDTaken reports whether a candidate MUID already keys the live
	// MUID→Search map; a draw is only retained when this is false.
	MUIDTaken func(guid.GUID) bool
}

// Build selects a MUID, sets the speed/flags bitfield, and renders the
// Query payload (§4.C).
func Build(p BuildParams) (Payload, error) {
	oobEligible := p.UDPActive && p.ReplyAddr.IsValid() && p.ReplyAddr.Addr().IsGlobalUnicast() &&
		!p.ReplyAddr.Addr().IsPrivate()

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 100
	}

	var muid guid.GUID
	found := false
	for i := 0; i < maxAttempts; i++ {
		candidate := guid.New()
		if oobEligible {
			candidate = guid.EncodeOOB(candidate, p.ReplyAddr)
		}
		if p.MUIDTaken == nil || !p.MUIDTaken(candidate) {
			muid = candidate
			found = true
			break
		}
	}
	if !found {
		return Payload{}, ErrMUIDExhausted
	}

	flags := FlagMark
	if p.Firewalled {
		flags |= FlagFirewalled
	}
	if p.LeafGuided {
		flags |= FlagLeafGuided
	}
	if p.GGEPH {
		flags |= FlagGGEPH
	}
	if oobEligible {
		flags |= FlagOOBReply
	}

	text := p.Text
	if !sha1urn.IsSHA1Query(text) {
		// Free-text payloads are sent as given: Build does not
		// canonicalize them itself, the caller passes Text already
		// canonicalized (see BuildParams.Text).
	}

	return Payload{MUID: muid, Flags: flags, Text: text}, nil
}
