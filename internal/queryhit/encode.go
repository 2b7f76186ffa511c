package queryhit

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/gnutella-core/servent/internal/ggep"
	"github.com/gnutella-core/servent/internal/localindex"
	"github.com/gnutella-core/servent/pkg/guid"
	"github.com/gnutella-core/servent/pkg/sha1urn"
)

// EncodeParams carries everything needed to render a QueryHit payload
// for a match set produced by QueryResponder (§4.D, §6).
type EncodeParams struct {
	Addr       netip.Addr
	Port       uint16
	Speed      uint32
	VendorCode string
	Firewalled bool
	Busy       bool
	Uploaded   bool
	Hostname   string
	Proxies    []netip.AddrPort
	GUID       guid.GUID
}

// Encode renders a QueryHit payload for the given matches. Each match's
// SHA-1, when present, is carried as a HUGE "urn:sha1:" string in its
// record's tag; no GGEP "H" block is written. The trailer advertises
// open-data flags plus an HNAME/PUSH GGEP block when applicable.
func Encode(matches []localindex.Match, p EncodeParams) []byte {
	var buf bytes.Buffer

	buf.WriteByte(byte(len(matches)))
	ip4 := p.Addr.As4()
	buf.Write(ip4[:])
	var portBytes [2]byte
	binary.LittleEndian.PutUint16(portBytes[:], p.Port)
	buf.Write(portBytes[:])
	var speedBytes [4]byte
	binary.LittleEndian.PutUint32(speedBytes[:], p.Speed)
	buf.Write(speedBytes[:])

	for _, m := range matches {
		var idxBytes, sizeBytes [4]byte
		binary.LittleEndian.PutUint32(idxBytes[:], m.FileIndex)
		binary.LittleEndian.PutUint32(sizeBytes[:], uint32(m.FileSize))
		buf.Write(idxBytes[:])
		buf.Write(sizeBytes[:])
		buf.WriteString(m.FileName)
		buf.WriteByte(0)

		if m.HasSHA1 {
			buf.WriteString(sha1urn.Format(m.SHA1))
		}
		buf.WriteByte(0)
	}

	vcode := p.VendorCode
	if len(vcode) != 4 {
		vcode = "GNUT"
	}
	buf.WriteString(vcode)
	buf.WriteByte(2) // open_size: enabler + active
	buf.WriteByte(0) // enabler: nothing advertised as supported-but-off
	var active byte
	if p.Busy {
		active |= activeBusy
	}
	if p.Firewalled {
		active |= activeFirewalled
	}
	if p.Uploaded {
		active |= activeUploaded
	}

	var extra []ggep.Extension
	if p.Hostname != "" {
		extra = append(extra, ggep.Extension{Kind: ggep.KindGGEP, GGEP: ggep.Block{ID: ggep.IDHostname, Payload: []byte(p.Hostname)}})
	}
	if len(p.Proxies) > 0 {
		for _, b := range ggep.EncodeAddrPortVector(ggep.IDPush, p.Proxies, ggep.AddrPortVectorOptions{}) {
			extra = append(extra, ggep.Extension{Kind: ggep.KindGGEP, GGEP: b})
		}
	}
	if len(extra) > 0 {
		active |= activeGGEP
	}
	buf.WriteByte(active)

	if len(extra) > 0 {
		buf.Write(ggep.Render(extra, false, false))
	}

	buf.Write(p.GUID[:])

	return buf.Bytes()
}
