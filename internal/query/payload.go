// Package query implements QueryBuilder (outbound search message
// construction) and QueryResponder (inbound query matching against a
// LocalIndex), §4.C/§4.D.
package query

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/gnutella-core/servent/internal/ggep"
	"github.com/gnutella-core/servent/pkg/guid"
)

// Flags is the Query payload's speed/flags bitfield (§6).
type Flags uint16

const (
	FlagMark        Flags = 0x8000
	FlagFirewalled  Flags = 0x4000
	FlagXML         Flags = 0x2000
	FlagLeafGuided  Flags = 0x1000
	FlagGGEPH       Flags = 0x0800
	FlagOOBReply    Flags = 0x0400
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Payload is a decoded Query message payload (§3, §6).
type Payload struct {
	MUID       guid.GUID
	Flags      Flags
	Text       string
	Extensions []ggep.Extension
}

var ErrNotNULTerminated = errors.New("query: query_string is not NUL-terminated")

// DecodePayload parses a Query payload (the bytes following the packet
// header). muid is the header's MUID, passed in since the payload itself
// carries only the flags/text/extensions.
func DecodePayload(muid guid.GUID, payload []byte, maxExtensions int) (Payload, error) {
	if len(payload) < 2 {
		return Payload{}, ErrNotNULTerminated
	}
	flags := Flags(binary.LittleEndian.Uint16(payload[0:2]))
	rest := payload[2:]

	nul := bytes.IndexByte(rest, 0x00)
	if nul < 0 {
		return Payload{}, ErrNotNULTerminated
	}

	text := string(rest[:nul])
	tail := rest[nul+1:]
	exts := ggep.Parse(tail, maxExtensions)

	return Payload{MUID: muid, Flags: flags, Text: text, Extensions: exts}, nil
}

// EncodePayload renders a Query payload.
func EncodePayload(p Payload) []byte {
	var buf bytes.Buffer
	var flagBytes [2]byte
	binary.LittleEndian.PutUint16(flagBytes[:], uint16(p.Flags))
	buf.Write(flagBytes[:])
	buf.WriteString(p.Text)
	buf.WriteByte(0)
	buf.Write(ggep.Render(p.Extensions, false, false))
	return buf.Bytes()
}
