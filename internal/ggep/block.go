package ggep

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"

	"github.com/gnutella-core/servent/pkg/cobs"
)

// Magic is the byte that opens a GGEP extension region (§3).
const Magic = 0xC3

const (
	flagLast    = 0x80
	flagCOBS    = 0x40
	flagDeflate = 0x20
	idLenMask   = 0x0F
)

var (
	ErrTruncated   = errors.New("ggep: truncated block")
	ErrBadVarint   = errors.New("ggep: malformed data_len varint")
	ErrBadID       = errors.New("ggep: zero-length id")
	ErrDecompress  = errors.New("ggep: payload decompression failed")
)

// Block is one decoded {flags, id, payload} GGEP extension, with COBS and
// deflate already reversed.
type Block struct {
	ID      string
	Payload []byte

	// wasCOBS / wasDeflate record how the block arrived on the wire.
	// Nothing in this package reads them when rendering blocks again.
	wasCOBS    bool
	wasDeflate bool
}

// decodeBlocks parses every GGEP block starting right after the 0xC3 magic
// byte. It returns the blocks and the number of bytes consumed from data.
func decodeBlocks(data []byte) ([]Block, int, error) {
	var blocks []Block
	pos := 0

	for {
		if pos >= len(data) {
			return nil, pos, ErrTruncated
		}
		flags := data[pos]
		pos++

		idLen := int(flags & idLenMask)
		if idLen == 0 {
			return nil, pos, ErrBadID
		}
		if pos+idLen > len(data) {
			return nil, pos, ErrTruncated
		}
		id := string(data[pos : pos+idLen])
		pos += idLen

		dataLen, n, err := decodeVarint(data[pos:])
		if err != nil {
			return nil, pos, err
		}
		pos += n

		if pos+dataLen > len(data) {
			return nil, pos, ErrTruncated
		}
		payload := data[pos : pos+dataLen]
		pos += dataLen

		wasCOBS := flags&flagCOBS != 0
		wasDeflate := flags&flagDeflate != 0

		if wasCOBS {
			payload, err = cobs.Decode(payload)
			if err != nil {
				return nil, pos, err
			}
		}
		if wasDeflate {
			payload, err = inflate(payload)
			if err != nil {
				return nil, pos, err
			}
		}

		blocks = append(blocks, Block{
			ID:         id,
			Payload:    payload,
			wasCOBS:    wasCOBS,
			wasDeflate: wasDeflate,
		})

		if flags&flagLast != 0 {
			break
		}
	}

	return blocks, pos, nil
}

// decodeVarint reads the GGEP variable-length data_len: each byte carries
// 6 bits of value in bits 0..5, bit 6 marks continuation, bit 7 is
// reserved (§4.B). Groups are accumulated most-significant first.
func decodeVarint(data []byte) (value int, consumed int, err error) {
	for i := 0; i < len(data); i++ {
		b := data[i]
		value = value<<6 | int(b&0x3F)
		consumed++
		if b&0x40 == 0 {
			return value, consumed, nil
		}
		if consumed > 3 {
			return 0, 0, ErrBadVarint
		}
	}
	return 0, 0, ErrBadVarint
}

// encodeVarint renders n as a GGEP data_len varint.
func encodeVarint(n int) []byte {
	if n < 0 {
		n = 0
	}
	groups := []byte{byte(n & 0x3F)}
	n >>= 6
	for n > 0 {
		groups = append(groups, byte(n&0x3F)|0x40)
		n >>= 6
	}
	// groups were built least-significant first; the wire order is
	// most-significant first, with the continuation bit set on every
	// byte but the last one written.
	out := make([]byte, len(groups))
	for i, g := range groups {
		out[len(groups)-1-i] = g
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] |= 0x40
	}
	out[len(out)-1] &^= 0x40
	return out
}

// EncodeBlocks renders blocks back into a GGEP region, including the
// leading magic byte. useCOBS/useDeflate select framing for every block;
// callers that need per-block control should call EncodeBlock directly.
func EncodeBlocks(blocks []Block, useCOBS, useDeflate bool) []byte {
	var buf bytes.Buffer
	buf.WriteByte(Magic)
	for i, b := range blocks {
		buf.Write(EncodeBlock(b, useCOBS, useDeflate, i == len(blocks)-1))
	}
	return buf.Bytes()
}

// EncodeBlock renders a single GGEP block.
func EncodeBlock(b Block, useCOBS, useDeflate, last bool) []byte {
	payload := b.Payload

	if useDeflate {
		if deflated, ok := deflateBytes(payload); ok && len(deflated) < len(payload) {
			payload = deflated
		} else {
			useDeflate = false
		}
	}
	if useCOBS {
		payload = cobs.Encode(payload)
	}

	flags := byte(len(b.ID)) & idLenMask
	if useCOBS {
		flags |= flagCOBS
	}
	if useDeflate {
		flags |= flagDeflate
	}
	if last {
		flags |= flagLast
	}

	var buf bytes.Buffer
	buf.WriteByte(flags)
	buf.WriteString(b.ID)
	buf.Write(encodeVarint(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrDecompress
	}
	return out, nil
}

func deflateBytes(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
