package ggep

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"unicode/utf8"
)

// Typed extraction contracts. Every extractor returns one of: a value and
// nil, ErrNotFound (id absent), ErrInvalid (present but semantically
// wrong), or ErrBadSize (present but wrong length) — §4.B.
var (
	ErrNotFound = errors.New("ggep: extension not found")
	ErrInvalid  = errors.New("ggep: extension value invalid")
	ErrBadSize  = errors.New("ggep: extension payload has invalid size")
)

func findGGEP(exts []Extension, id string) (Block, bool) {
	for _, e := range exts {
		if e.Kind == KindGGEP && e.GGEP.ID == id {
			return e.GGEP, true
		}
	}
	return Block{}, false
}

func findAllGGEP(exts []Extension, id string) []Block {
	var out []Block
	for _, e := range exts {
		if e.Kind == KindGGEP && e.GGEP.ID == id {
			out = append(out, e.GGEP)
		}
	}
	return out
}

// SHA1 is the decoded payload of a "H" extension: a raw SHA-1, optionally
// extended into a bitprint with a tiger-tree root (§4.B).
type SHA1 struct {
	Hash   [20]byte
	Tiger  [24]byte
	Bitprint bool
}

const (
	sha1FormatRaw      = 0x01
	sha1FormatBitprint = 0x02
)

// ExtractSHA1 decodes the "H" extension.
func ExtractSHA1(exts []Extension) (SHA1, error) {
	b, ok := findGGEP(exts, IDSHA1)
	if !ok {
		return SHA1{}, ErrNotFound
	}
	if len(b.Payload) < 1 {
		return SHA1{}, ErrBadSize
	}

	switch b.Payload[0] {
	case sha1FormatRaw:
		if len(b.Payload) != 1+20 {
			return SHA1{}, ErrBadSize
		}
		var out SHA1
		copy(out.Hash[:], b.Payload[1:21])
		return out, nil
	case sha1FormatBitprint:
		if len(b.Payload) != 1+20+24 {
			return SHA1{}, ErrBadSize
		}
		var out SHA1
		copy(out.Hash[:], b.Payload[1:21])
		copy(out.Tiger[:], b.Payload[21:45])
		out.Bitprint = true
		return out, nil
	default:
		return SHA1{}, ErrInvalid
	}
}

// extractVarUint decodes a little-endian integer with trailing zero bytes
// stripped, used by LF/DU/CT/M (§4.B).
func extractVarUint(exts []Extension, id string, maxLen int) (uint64, error) {
	b, ok := findGGEP(exts, id)
	if !ok {
		return 0, ErrNotFound
	}
	if len(b.Payload) == 0 || len(b.Payload) > maxLen {
		return 0, ErrBadSize
	}

	var v uint64
	for i := len(b.Payload) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b.Payload[i])
	}
	return v, nil
}

// ExtractFileSize decodes "LF". A zero filesize is rejected (§4.B).
func ExtractFileSize(exts []Extension) (uint64, error) {
	v, err := extractVarUint(exts, IDFileSize, 8)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, ErrInvalid
	}
	return v, nil
}

// ExtractUptime decodes "DU".
func ExtractUptime(exts []Extension) (uint64, error) {
	return extractVarUint(exts, IDUptime, 8)
}

// ExtractTimestamp decodes "CT".
func ExtractTimestamp(exts []Extension) (uint64, error) {
	return extractVarUint(exts, IDTimestamp, 8)
}

// ExtractUint32 decodes "M".
func ExtractUint32(exts []Extension) (uint32, error) {
	v, err := extractVarUint(exts, IDUint32, 4)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ExtractIPv6 decodes "6"/"GTKG.IPV6": an empty payload means
// "unspecified", anything else must be exactly 16 bytes (§4.B).
func ExtractIPv6(exts []Extension) (net.IP, error) {
	b, ok := findGGEP(exts, IDIPv6)
	if !ok {
		b, ok = findGGEP(exts, IDIPv6Alt)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if len(b.Payload) == 0 {
		return nil, nil // unspecified
	}
	if len(b.Payload) != 16 {
		return nil, ErrBadSize
	}
	return net.IP(append([]byte(nil), b.Payload...)), nil
}

// ExtractHostname decodes "HNAME": non-empty UTF-8, no embedded NUL, and
// must not parse as an IP address (§4.B). No further host-name syntax
// check is made.
func ExtractHostname(exts []Extension) (string, error) {
	b, ok := findGGEP(exts, IDHostname)
	if !ok {
		return "", ErrNotFound
	}
	if len(b.Payload) == 0 || !utf8.Valid(b.Payload) {
		return "", ErrInvalid
	}
	if bytes.IndexByte(b.Payload, 0) >= 0 {
		return "", ErrInvalid
	}
	host := string(b.Payload)
	if net.ParseIP(host) != nil {
		return "", ErrInvalid
	}
	return host, nil
}

// addrPortIDs maps each vector id to (entrySize, tlsCompanionID).
var addrPortIDs = map[string]struct {
	entrySize int
	tlsID     string
}{
	IDIPP:   {6, IDIPPTLS},
	IDPush:  {6, IDPushTLS},
	IDAlt:   {6, IDAltTLS},
	IDIPP6:  {18, IDTLSBitmap6},
	IDPush6: {18, IDPush6TLS},
	IDAlt6:  {18, IDAlt6TLS},
}

// AddrPortEntry is one decoded address from an IP:port vector, with TLS
// support decoded from the companion bitmap when present.
type AddrPortEntry struct {
	Addr netip.AddrPort
	TLS  bool
}

// ExtractAddrPorts decodes an "IPP"/"PUSH"/"ALT" vector (and their v6
// variants "IPP6"/"PUSH6"/"ALT6"): the payload length must be an exact
// multiple of 6 (IPv4+port) or 18 (IPv6+port) (§4.B).
func ExtractAddrPorts(exts []Extension, id string) ([]AddrPortEntry, error) {
	spec, known := addrPortIDs[id]
	if !known {
		return nil, ErrInvalid
	}

	b, ok := findGGEP(exts, id)
	if !ok {
		return nil, ErrNotFound
	}
	if len(b.Payload) == 0 || len(b.Payload)%spec.entrySize != 0 {
		return nil, ErrBadSize
	}

	n := len(b.Payload) / spec.entrySize
	entries := make([]AddrPortEntry, n)

	var tlsBits []byte
	if tb, ok := findGGEP(exts, spec.tlsID); ok {
		tlsBits = tb.Payload
	}

	for i := 0; i < n; i++ {
		rec := b.Payload[i*spec.entrySize : (i+1)*spec.entrySize]
		var addr netip.Addr
		var port uint16
		if spec.entrySize == 6 {
			addr = netip.AddrFrom4([4]byte{rec[0], rec[1], rec[2], rec[3]})
			port = uint16(rec[4]) | uint16(rec[5])<<8
		} else {
			var ip [16]byte
			copy(ip[:], rec[0:16])
			addr = netip.AddrFrom16(ip)
			port = uint16(rec[16]) | uint16(rec[17])<<8
		}
		entries[i] = AddrPortEntry{Addr: netip.AddrPortFrom(addr, port)}
		if len(tlsBits) > i/8 {
			entries[i].TLS = tlsBits[i/8]&(1<<uint(i%8)) != 0
		}
	}

	return entries, nil
}

// GtkgVersion is the decoded "GTKGV"/"GTKGV1" peer-version record (§6).
type GtkgVersion struct {
	Version  uint8
	Major    uint8
	Minor    uint8
	Patch    uint8
	RevChar  uint8
	Release  uint32
	Build    uint32

	HasFlags bool
	Git      bool
	Dirty    bool
	OS       GtkgOS
	Continuation bool
	GitCommit    string // nibble-packed git commit id, decoded to hex
}

// GtkgOS enumerates the OS byte's closed value set (§6).
type GtkgOS uint8

const (
	OSUnknown GtkgOS = iota
	OSUnix
	OSBSD
	OSLinux
	OSFreeBSD
	OSNetBSD
	OSWindows
	OSDarwin
)

const (
	gtkgFlagGit  = 0x10
	gtkgFlagDirty = 0x20
	gtkgFlagOSMask = 0x0E
	gtkgFlagCont = 0x80
)

// ExtractGtkgVersion decodes "GTKGV"/"GTKGV1" (§6: ≥13 bytes fixed part,
// version≥1 adds a flags byte, optional nibble-packed git commit id, and
// an OS byte).
func ExtractGtkgVersion(exts []Extension) (GtkgVersion, error) {
	b, ok := findGGEP(exts, IDVersion)
	if !ok {
		b, ok = findGGEP(exts, IDVersion1)
	}
	if !ok {
		return GtkgVersion{}, ErrNotFound
	}
	if len(b.Payload) < 13 {
		return GtkgVersion{}, ErrBadSize
	}

	p := b.Payload
	v := GtkgVersion{
		Version: p[0],
		Major:   p[1],
		Minor:   p[2],
		Patch:   p[3],
		RevChar: p[4],
		Release: beUint32(p[5:9]),
		Build:   beUint32(p[9:13]),
	}
	if v.Version < 1 {
		return v, nil
	}

	pos := 13
	if pos >= len(p) {
		return v, nil
	}
	flags := p[pos]
	pos++
	v.HasFlags = true
	v.Git = flags&gtkgFlagGit != 0
	v.Dirty = flags&gtkgFlagDirty != 0
	v.OS = GtkgOS((flags & gtkgFlagOSMask) >> 1)
	v.Continuation = flags&gtkgFlagCont != 0

	if v.Git && pos < len(p) {
		// nibble-packed, up to 40 nibbles (20 bytes) of git commit id.
		n := len(p) - pos
		if n > 20 {
			n = 20
		}
		const hexDigits = "0123456789abcdef"
		buf := make([]byte, 0, n*2)
		for i := 0; i < n; i++ {
			by := p[pos+i]
			buf = append(buf, hexDigits[by>>4], hexDigits[by&0x0F])
		}
		v.GitCommit = string(buf)
	}

	return v, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
