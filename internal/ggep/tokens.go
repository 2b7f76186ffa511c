// Package ggep parses and renders the extension tail carried inside Query
// payloads and QueryHit record tags: HUGE URN strings, GGEP binary blocks,
// and XML metadata, freely interleaved (§3, §4.B).
package ggep

// Recognized GGEP ids (§6's closed token set).
const (
	IDSHA1           = "H"
	IDAlt            = "ALT"
	IDAltTLS         = "ALT_TLS"
	IDAlt6           = "ALT6"
	IDAlt6TLS        = "ALT6_TLS"
	IDPush           = "PUSH"
	IDPushTLS        = "PUSH_TLS"
	IDPush6          = "PUSH6"
	IDPush6TLS       = "PUSH6_TLS"
	IDIPP            = "IPP"
	IDIPPTLS         = "IPP_TLS"
	IDIPP6           = "IPP6"
	IDIPP6TLS        = "IPP6_TLS"
	IDAddr           = "A"
	IDAddr6          = "A6"
	IDTLSBitmap      = "T"
	IDTLSBitmap6     = "T6"
	IDFileSize       = "LF"
	IDUptime         = "DU"
	IDTimestamp      = "CT"
	IDUint32         = "M"
	IDHostname       = "HNAME"
	IDIPv6           = "6"
	IDIPv6Alt        = "GTKG.IPV6"
	IDVersion        = "GTKGV"
	IDVersion1       = "GTKGV1"
	IDPongCache      = "PHC"
	IDUDPPongCache   = "UDPHC"
	IDUltrapeer      = "UP"
	IDVendorCapable  = "VC"
	IDBrowseHost     = "BH"
	IDUnicastQuery   = "u"
)

// knownIDs is the closed set §6 requires this core to recognize; a block
// with any other id still decodes as an ordinary KindGGEP extension
// rather than being rejected, and IsKnown tells the two apart.
var knownIDs = map[string]bool{
	IDSHA1: true, IDAlt: true, IDAltTLS: true, IDAlt6: true, IDAlt6TLS: true,
	IDPush: true, IDPushTLS: true, IDPush6: true, IDPush6TLS: true,
	IDIPP: true, IDIPPTLS: true, IDIPP6: true, IDIPP6TLS: true,
	IDAddr: true, IDAddr6: true, IDTLSBitmap: true, IDTLSBitmap6: true,
	IDFileSize: true, IDUptime: true, IDTimestamp: true, IDUint32: true,
	IDHostname: true, IDIPv6: true, IDIPv6Alt: true,
	IDVersion: true, IDVersion1: true, IDPongCache: true, IDUDPPongCache: true,
	IDUltrapeer: true, IDVendorCapable: true, IDBrowseHost: true, IDUnicastQuery: true,
}

// IsKnown reports whether id is part of the closed token set this core
// understands.
func IsKnown(id string) bool {
	return knownIDs[id]
}
