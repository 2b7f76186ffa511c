package wire

import "encoding/binary"

// VendorMessage is the generic {vendor, selector, version, payload} shape
// every Gnutella vendor-specific extension message shares. The base spec
// (§6) enumerates only the five core functions; vendor messages ride as an
// opaque extension carried by the transport layer (out of this core's
// scope) but their payload shape still needs to be produced/consumed here
// for the one vendor message §4.F requires: Query Status Response.
type VendorMessage struct {
	Vendor   [4]byte
	Selector uint16
	Version  uint16
	Payload  []byte
}

// VendorGTKG is the vendor code this core stamps on outgoing vendor
// messages.
var VendorGTKG = [4]byte{'G', 'T', 'K', 'G'}

const (
	selectorQueryStatusResponse = 0x0B

	// QueryStatusClosed is the sentinel kept-count value meaning "this
	// search has been closed" rather than a literal result count (§4.F).
	QueryStatusClosed uint16 = 0xFFFF

	// queryStatusMaxKept is the largest literal kept-count value; values
	// are clamped to it before 0xFFFF's reserved meaning kicks in.
	queryStatusMaxKept uint16 = 0xFFFE
)

// EncodeQueryStatusResponse builds the vendor message a leaf sends to its
// ultrapeers to report how many results a search has kept so far, or
// QueryStatusClosed if the search was closed (§4.F).
func EncodeQueryStatusResponse(kept uint16) VendorMessage {
	if kept > queryStatusMaxKept && kept != QueryStatusClosed {
		kept = queryStatusMaxKept
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, kept)
	return VendorMessage{
		Vendor:   VendorGTKG,
		Selector: selectorQueryStatusResponse,
		Version:  1,
		Payload:  payload,
	}
}

// DecodeQueryStatusResponse extracts the kept-results count from a vendor
// message previously built by EncodeQueryStatusResponse.
func DecodeQueryStatusResponse(m VendorMessage) (kept uint16, closed bool, ok bool) {
	if m.Selector != selectorQueryStatusResponse || len(m.Payload) < 2 {
		return 0, false, false
	}
	kept = binary.LittleEndian.Uint16(m.Payload[:2])
	return kept, kept == QueryStatusClosed, true
}
