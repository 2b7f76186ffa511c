package ggep

import "bytes"

// Kind discriminates the three extension families a tail can interleave
// (§3).
type Kind int

const (
	KindHUGE Kind = iota
	KindGGEP
	KindXML
	KindOverhead
)

// Extension is one typed entry recovered from a tail. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Extension struct {
	Kind Kind

	// URN holds the raw "urn:sha1:..." string for KindHUGE.
	URN string

	// GGEP holds the decoded block for KindGGEP.
	GGEP Block

	// XML holds the raw metadata blob for KindXML.
	XML []byte

	// Raw holds whatever remained once the N-extension ceiling was hit,
	// for KindOverhead. No bytes are discarded (§4.B).
	Raw []byte
}

var (
	hugePrefix = []byte("urn:")
	xmlPrefix  = []byte("<?xml")
)

// Parse decodes a tail into at most maxExtensions typed entries; anything
// left once that ceiling is hit is reported as a single trailing
// KindOverhead entry rather than dropped (§4.B).
func Parse(tail []byte, maxExtensions int) []Extension {
	var out []Extension
	pos := 0
	typed := 0

	for pos < len(tail) {
		if typed >= maxExtensions {
			out = append(out, Extension{Kind: KindOverhead, Raw: append([]byte(nil), tail[pos:]...)})
			break
		}

		switch {
		case tail[pos] == 0x00:
			pos++

		case tail[pos] == Magic:
			blocks, consumed, err := decodeBlocks(tail[pos+1:])
			if err != nil {
				out = append(out, Extension{Kind: KindOverhead, Raw: append([]byte(nil), tail[pos:]...)})
				pos = len(tail)
				break
			}
			if typed+len(blocks) > maxExtensions {
				out = append(out, Extension{Kind: KindOverhead, Raw: append([]byte(nil), tail[pos:]...)})
				pos = len(tail)
				break
			}
			for _, b := range blocks {
				out = append(out, Extension{Kind: KindGGEP, GGEP: b})
				typed++
			}
			pos += 1 + consumed

		case bytes.HasPrefix(tail[pos:], hugePrefix):
			end := nulOrEnd(tail, pos)
			out = append(out, Extension{Kind: KindHUGE, URN: string(tail[pos:end])})
			typed++
			pos = end

		case bytes.HasPrefix(tail[pos:], xmlPrefix):
			end := nulOrEnd(tail, pos)
			out = append(out, Extension{Kind: KindXML, XML: append([]byte(nil), tail[pos:end]...)})
			typed++
			pos = end

		default:
			// Unrecognized byte between known openers: not a syntax
			// error, just not one of the three families. Advance past
			// it; a run of these never counts against the N ceiling.
			pos++
		}
	}

	return out
}

func nulOrEnd(tail []byte, from int) int {
	if idx := bytes.IndexByte(tail[from:], 0x00); idx >= 0 {
		return from + idx
	}
	return len(tail)
}

// Render re-serializes extensions into a tail. Consecutive KindGGEP
// entries are grouped into a single 0xC3 region (GGEP blocks must share
// one region); HUGE and XML entries are emitted NUL-terminated; a
// trailing KindOverhead entry is appended byte-for-byte. This is the
// render half of the extension-idempotence property (§8): Parse(Render(Parse(t)))
// reproduces the original typed entries modulo this grouping.
func Render(exts []Extension, useCOBS, useDeflate bool) []byte {
	var buf bytes.Buffer
	var pendingGGEP []Block

	flushGGEP := func() {
		if len(pendingGGEP) == 0 {
			return
		}
		buf.Write(EncodeBlocks(pendingGGEP, useCOBS, useDeflate))
		pendingGGEP = nil
	}

	for _, e := range exts {
		switch e.Kind {
		case KindGGEP:
			pendingGGEP = append(pendingGGEP, e.GGEP)
		case KindHUGE:
			flushGGEP()
			buf.WriteString(e.URN)
			buf.WriteByte(0)
		case KindXML:
			flushGGEP()
			buf.Write(e.XML)
			buf.WriteByte(0)
		case KindOverhead:
			flushGGEP()
			buf.Write(e.Raw)
		}
	}
	flushGGEP()

	return buf.Bytes()
}
