package ggep

import "net/netip"

// TLSProbe reports whether a given address is known to support TLS, used
// to populate the "_TLS" companion bitmap (§4.B).
type TLSProbe func(netip.AddrPort) bool

// AddrPortVectorOptions configures EncodeAddrPortVector's filtering and
// framing per the encoder contract in §4.B.
type AddrPortVectorOptions struct {
	// WantIPv6 selects the v6 vector/id pair instead of the v4 one.
	WantIPv6 bool

	// Exclude, when non-nil, is a set of addresses to omit from the
	// emitted vector (e.g. the requester's own address).
	Exclude map[netip.AddrPort]bool

	// Max caps the number of emitted entries.
	Max int

	// TLS probes per-address TLS support for the companion bitmap.
	TLS TLSProbe

	// COBS records whether the caller asks for COBS framing.
	// EncodeAddrPortVector does not read it.
	COBS bool
}

// EncodeAddrPortVector renders candidates into the id's GGEP block (plus
// its TLS companion block when at least one candidate supports TLS).
// The returned blocks carry raw payloads: neither COBS nor deflate is
// applied here. UseDeflateFor reports which ids take deflate (IPv6
// vectors only).
func EncodeAddrPortVector(id string, candidates []netip.AddrPort, opts AddrPortVectorOptions) []Block {
	spec, known := addrPortIDs[resolveID(id, opts.WantIPv6)]
	resolvedID := resolveID(id, opts.WantIPv6)
	if !known {
		spec = addrPortIDs[resolvedID]
	}

	var payload []byte
	var tlsBits []byte
	n := 0

	for _, addr := range candidates {
		if opts.Max > 0 && n >= opts.Max {
			break
		}
		if opts.Exclude != nil && opts.Exclude[addr] {
			continue
		}
		wantV6 := addr.Addr().Is6() && !addr.Addr().Is4In6()
		if wantV6 != opts.WantIPv6 {
			continue
		}

		if opts.WantIPv6 {
			ip := addr.Addr().As16()
			payload = append(payload, ip[:]...)
		} else {
			ip := addr.Addr().As4()
			payload = append(payload, ip[:]...)
		}
		payload = append(payload, byte(addr.Port()), byte(addr.Port()>>8))

		byteIdx := n / 8
		for len(tlsBits) <= byteIdx {
			tlsBits = append(tlsBits, 0)
		}
		if opts.TLS != nil && opts.TLS(addr) {
			tlsBits[byteIdx] |= 1 << uint(n%8)
		}

		n++
	}

	_ = spec
	blocks := []Block{{ID: resolvedID, Payload: payload}}

	hasTLS := false
	for _, b := range tlsBits {
		if b != 0 {
			hasTLS = true
			break
		}
	}
	if hasTLS {
		blocks = append(blocks, Block{ID: resolveTLSID(resolvedID), Payload: tlsBits})
	}

	return blocks
}

func resolveID(id string, wantIPv6 bool) string {
	if !wantIPv6 {
		return id
	}
	switch id {
	case IDIPP:
		return IDIPP6
	case IDPush:
		return IDPush6
	case IDAlt:
		return IDAlt6
	default:
		return id
	}
}

func resolveTLSID(id string) string {
	if spec, ok := addrPortIDs[id]; ok {
		return spec.tlsID
	}
	return id + "_TLS"
}

// UseDeflateFor reports whether deflate should be applied to a block with
// the given id, per the encoder contract: IPv6 vectors only.
func UseDeflateFor(id string) bool {
	switch id {
	case IDIPP6, IDPush6, IDAlt6, IDTLSBitmap6:
		return true
	default:
		return false
	}
}
