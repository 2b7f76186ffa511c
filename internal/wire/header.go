// Package wire implements the Gnutella packet header framing: a fixed
// 23-byte header (MUID, function, TTL, hops, payload size) in front of a
// type-specific payload. All multi-byte header integers are little-endian
// except where §6 calls out otherwise (query-hit IP is big-endian, handled
// in package queryhit, not here).
package wire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gnutella-core/servent/pkg/guid"
)

// Function identifies the payload type carried after the header.
type Function uint8

const (
	FuncPing     Function = 0x00
	FuncPong     Function = 0x01
	FuncPush     Function = 0x40
	FuncQuery    Function = 0x80
	FuncQueryHit Function = 0x81
)

func (f Function) String() string {
	switch f {
	case FuncPing:
		return "Ping"
	case FuncPong:
		return "Pong"
	case FuncPush:
		return "Push"
	case FuncQuery:
		return "Query"
	case FuncQueryHit:
		return "QueryHit"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(f))
	}
}

// HeaderSize is the exact byte length of a Gnutella packet header.
const HeaderSize = 23

var (
	ErrTruncated  = errors.New("wire: truncated header or payload")
	ErrSizeBomb   = errors.New("wire: payload_size exceeds configured ceiling")
	ErrBadTTLHops = errors.New("wire: ttl+hops exceeds hard TTL limit")
)

// Header is the fixed-size preamble of every Gnutella packet.
type Header struct {
	MUID        guid.GUID
	Function    Function
	TTL         uint8
	Hops        uint8
	PayloadSize uint32
}

var (
	_ encoding.BinaryMarshaler   = Header{}
	_ encoding.BinaryUnmarshaler = (*Header)(nil)
	_ io.WriterTo                = Header{}
)

// HopsSeesPacket reports whether this packet has just arrived from a
// direct neighbour: hops==1 after the forwarder's pre-increment means the
// local node is the first hop to observe it (§3).
func (h Header) HopsSeesPacket() bool {
	return h.Hops == 1
}

// Validate enforces the ttl+hops invariant against hardTTLLimit (§3).
func (h Header) Validate(hardTTLLimit uint8) error {
	if int(h.TTL)+int(h.Hops) > int(hardTTLLimit) {
		return ErrBadTTLHops
	}
	return nil
}

// MarshalBinary encodes the header to its 23-byte wire form.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:16], h.MUID[:])
	buf[16] = byte(h.Function)
	buf[17] = h.TTL
	buf[18] = h.Hops
	binary.LittleEndian.PutUint32(buf[19:23], h.PayloadSize)
	return buf, nil
}

// WriteTo writes the encoded header to w.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	buf, _ := h.MarshalBinary()
	n, err := w.Write(buf)
	return int64(n), err
}

// UnmarshalBinary decodes a header from its 23-byte wire form.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrTruncated
	}
	copy(h.MUID[:], data[0:16])
	h.Function = Function(data[16])
	h.TTL = data[17]
	h.Hops = data[18]
	h.PayloadSize = binary.LittleEndian.Uint32(data[19:23])
	return nil
}

// Packet is a full Gnutella message: header plus its raw payload bytes.
type Packet struct {
	Header  Header
	Payload []byte
}

// DecodePacket parses a single packet from data, enforcing maxPayloadSize
// as a SizeBomb ceiling before trusting the declared payload length.
// Trailing bytes beyond the declared payload are left unconsumed; callers
// that frame multiple packets back-to-back should re-slice past
// HeaderSize+int(header.PayloadSize).
func DecodePacket(data []byte, maxPayloadSize uint32) (Packet, error) {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return Packet{}, err
	}
	if h.PayloadSize > maxPayloadSize {
		return Packet{}, ErrSizeBomb
	}
	end := HeaderSize + int(h.PayloadSize)
	if len(data) < end {
		return Packet{}, ErrTruncated
	}
	payload := make([]byte, h.PayloadSize)
	copy(payload, data[HeaderSize:end])
	return Packet{Header: h, Payload: payload}, nil
}

// EncodePacket renders p to its wire form, stamping PayloadSize from the
// actual payload length.
func EncodePacket(p Packet) []byte {
	p.Header.PayloadSize = uint32(len(p.Payload))
	hdr, _ := p.Header.MarshalBinary()
	out := make([]byte, 0, len(hdr)+len(p.Payload))
	out = append(out, hdr...)
	out = append(out, p.Payload...)
	return out
}
