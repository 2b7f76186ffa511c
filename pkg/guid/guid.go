// Package guid generates and manipulates the 16-byte identifiers used as
// Gnutella MUIDs (message ids) and servent GUIDs.
package guid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
)

// Size is the byte length of every Gnutella GUID/MUID.
const Size = 16

// GUID is a 16-byte Gnutella identifier. The zero value is the all-zero
// GUID, which callers must treat as blank/absent per ServerTable's GUID
// precedence rules.
type GUID [Size]byte

// New draws a fresh random GUID using a UUIDv4 generator, which already
// produces 16 cryptographically-random bytes — exactly the shape a plain
// Gnutella GUID draw needs.
func New() GUID {
	return GUID(uuid.New())
}

// IsBlank reports whether g is the all-zero GUID.
func (g GUID) IsBlank() bool {
	return g == GUID{}
}

// String renders g as lowercase hex, matching how vendor/debug logging
// traditionally displays Gnutella identifiers.
func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// ParseHex parses the hex encoding String produces, as seen in an
// incoming GIV line's servent-id field.
func ParseHex(s string) (GUID, error) {
	var g GUID
	b, err := hex.DecodeString(s)
	if err != nil {
		return GUID{}, err
	}
	if len(b) != Size {
		return GUID{}, fmt.Errorf("guid: want %d bytes, got %d", Size, len(b))
	}
	copy(g[:], b)
	return g, nil
}

// EncodeOOB stamps the requester's reply address into a MUID so that an
// out-of-band capable responder can reply over UDP without retracing the
// query path. Bytes 0..3 carry the IPv4 address (little-endian), bytes
// 13..14 carry the port (little-endian); all other bytes are left as drawn.
func EncodeOOB(base GUID, addr netip.AddrPort) GUID {
	out := base
	ip4 := addr.Addr().As4()
	out[0], out[1], out[2], out[3] = ip4[3], ip4[2], ip4[1], ip4[0]
	binary.LittleEndian.PutUint16(out[13:15], addr.Port())
	return out
}

// DecodeOOB extracts the reply address embedded by EncodeOOB.
func DecodeOOB(g GUID) netip.AddrPort {
	ip := netip.AddrFrom4([4]byte{g[3], g[2], g[1], g[0]})
	port := binary.LittleEndian.Uint16(g[13:15])
	return netip.AddrPortFrom(ip, port)
}
