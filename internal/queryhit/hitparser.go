// Package queryhit implements HitParser: decoding a QueryHit packet into
// an intermediate result set, and the emitter half used by
// QueryResponder to build one (§4.E, §6).
package queryhit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/gnutella-core/servent/internal/ggep"
	"github.com/gnutella-core/servent/internal/hostlist"
	"github.com/gnutella-core/servent/pkg/guid"
	"github.com/gnutella-core/servent/pkg/sha1urn"
)

// Trailer active bits (§6).
const (
	activeBusy       byte = 0x04
	activeFirewalled byte = 0x01
	activeUploaded   byte = 0x08
	activeGGEP       byte = 0x20
)

// ErrTooShort is returned when a packet's payload is under the 27-byte
// minimum QueryHit needs (§4.E).
var ErrTooShort = errors.New("queryhit: payload shorter than 27 bytes")

// ErrMalformed marks a hit dropped outright by the error-accumulation
// rule: any SHA-1 parse error anywhere in the record set (§4.E).
var ErrMalformed = errors.New("queryhit: malformed SHA-1 in result set")

// Record is one shared-file entry inside a QueryHit (§3, §6).
type Record struct {
	FileIndex uint32
	FileSize  uint32
	Name      string
	Tag       string
	SHA1      [20]byte
	HasSHA1   bool
	AltLocs   []netip.AddrPort
	Extensions []ggep.Extension
}

// Status decodes the trailer's open-data "active" byte (§6).
type Status struct {
	HasTrailer bool
	Busy       bool
	Firewalled bool
	Uploaded   bool
	GGEP       bool
}

// ResultSet is HitParser's intermediate output, handed to SearchRegistry
// for dispatch (§4.E, §4.F).
type ResultSet struct {
	VendorCode string
	Addr       netip.Addr
	Port       uint16
	Speed      uint32
	GUID       guid.GUID
	Version    *ggep.GtkgVersion
	Hostname   string
	Proxies    []netip.AddrPort
	Status     Status
	Records    []Record

	// AltWithoutHash counts records that carried an ALT extension with
	// no accompanying SHA-1; this only warns, it never drops the hit
	// (§4.E).
	AltWithoutHash int
}

// PushIgnored reports whether a server identified by GUID is known (via
// prior direct-connect evidence) to not actually need push fallback,
// letting HitParser clear a stale firewalled trailer bit (§4.E).
type PushIgnored interface {
	PushIgnored(g guid.GUID) bool
}

// Decode parses a QueryHit payload (the bytes following the packet
// header) into a ResultSet (§4.E).
func Decode(payload []byte, maxExtensions int, pushIgnored PushIgnored, hostile hostlist.Checker) (ResultSet, error) {
	if len(payload) < 27 {
		return ResultSet{}, ErrTooShort
	}

	numRecs := int(payload[0])
	addr := netip.AddrFrom4([4]byte{payload[1], payload[2], payload[3], payload[4]})
	port := binary.LittleEndian.Uint16(payload[5:7])
	speed := binary.LittleEndian.Uint32(payload[7:11])

	pos := 11
	rs := ResultSet{Addr: addr, Port: port, Speed: speed}

	sha1Errors := 0
	records := make([]Record, 0, numRecs)

	for i := 0; i < numRecs; i++ {
		if pos+8 > len(payload)-16 {
			return ResultSet{}, ErrTooShort
		}
		rec := Record{
			FileIndex: binary.LittleEndian.Uint32(payload[pos : pos+4]),
			FileSize:  binary.LittleEndian.Uint32(payload[pos+4 : pos+8]),
		}
		pos += 8

		nameEnd := bytes.IndexByte(payload[pos:], 0x00)
		if nameEnd < 0 {
			return ResultSet{}, ErrTooShort
		}
		rec.Name = string(payload[pos : pos+nameEnd])
		pos += nameEnd + 1

		tagEnd := bytes.IndexByte(payload[pos:], 0x00)
		if tagEnd < 0 {
			return ResultSet{}, ErrTooShort
		}
		rec.Tag = string(payload[pos : pos+tagEnd])
		pos += tagEnd + 1

		if rec.Tag != "" {
			rec.Extensions = ggep.Parse([]byte(rec.Tag), maxExtensions)

			sha1Count := 0
			if sum, err := ggep.ExtractSHA1(rec.Extensions); err == nil {
				rec.SHA1 = sum.Hash
				rec.HasSHA1 = true
				sha1Count++
			} else if err != ggep.ErrNotFound {
				sha1Errors++
			}
			for _, ext := range rec.Extensions {
				if ext.Kind != ggep.KindHUGE {
					continue
				}
				sum, perr := sha1urn.Parse(ext.URN)
				if perr != nil {
					sha1Errors++
					continue
				}
				sha1Count++
				if !rec.HasSHA1 {
					rec.SHA1 = sum
					rec.HasSHA1 = true
				}
			}
			if sha1Count > 1 {
				sha1Errors++
			}

			if entries, err := ggep.ExtractAddrPorts(rec.Extensions, ggep.IDAlt); err == nil {
				for _, e := range entries {
					rec.AltLocs = append(rec.AltLocs, e.Addr)
				}
			}
			if len(rec.AltLocs) > 0 && !rec.HasSHA1 {
				rs.AltWithoutHash++
			}
		}

		records = append(records, rec)
	}

	rs.Records = records

	var trailerExts []ggep.Extension

	remaining := len(payload) - pos - 16
	if remaining > 0 {
		trailer := payload[pos : pos+remaining]
		if len(trailer) >= 5 && int(trailer[4])+5 <= remaining {
			rs.VendorCode = string(trailer[0:4])
			openSize := int(trailer[4])
			var active byte
			if openSize >= 2 {
				active = trailer[6]
			}
			rs.Status = Status{
				HasTrailer: true,
				Busy:       active&activeBusy != 0,
				Firewalled: active&activeFirewalled != 0,
				Uploaded:   active&activeUploaded != 0,
				GGEP:       active&activeGGEP != 0,
			}

			extraStart := 5 + openSize
			if extraStart < len(trailer) {
				trailerExts = ggep.Parse(trailer[extraStart:], maxExtensions)
				decodeTrailerExtensions(&rs, trailerExts)
			}
		}
		pos += remaining
	}

	if pos+16 <= len(payload) {
		copy(rs.GUID[:], payload[pos:pos+16])
	}

	if rs.Status.Firewalled && pushIgnored != nil && pushIgnored.PushIgnored(rs.GUID) {
		rs.Status.Firewalled = false
	}

	if v6, err := ggep.ExtractIPv6(trailerExts); err == nil && v6 != nil {
		if addr6, ok := netip.AddrFromSlice(v6); ok {
			routable := !addr6.IsUnspecified() && !addr6.IsLoopback() && !addr6.IsLinkLocalUnicast()
			hostileAddr := hostile != nil && hostile.IsHostile(addr6)
			if routable && !hostileAddr {
				rs.Addr = addr6
			}
		}
	}

	if sha1Errors > 0 {
		return ResultSet{}, ErrMalformed
	}

	return rs, nil
}

func decodeTrailerExtensions(rs *ResultSet, exts []ggep.Extension) {
	if v, err := ggep.ExtractGtkgVersion(exts); err == nil {
		rs.Version = &v
	}
	if host, err := ggep.ExtractHostname(exts); err == nil {
		rs.Hostname = host
	}
	if entries, err := ggep.ExtractAddrPorts(exts, ggep.IDPush); err == nil {
		for _, e := range entries {
			rs.Proxies = append(rs.Proxies, e.Addr)
		}
	}
}
