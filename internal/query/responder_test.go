package query

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gnutella-core/servent/internal/localindex"
	"github.com/gnutella-core/servent/pkg/guid"
)

type fakeIndex struct {
	bySHA1   map[[20]byte]localindex.Match
	fullText map[string][]localindex.Match
}

func (f *fakeIndex) BySHA1(sum [20]byte) (localindex.Match, bool) {
	m, ok := f.bySHA1[sum]
	return m, ok
}

func (f *fakeIndex) FullText(q string) []localindex.Match {
	return f.fullText[q]
}

func newTestResponder(idx localindex.Index) *Responder {
	return NewResponder(DefaultConfig(), idx, nil, netip.MustParseAddrPort("1.2.3.4:6346"))
}

func TestResponderMatchesFullText(t *testing.T) {
	idx := &fakeIndex{fullText: map[string][]localindex.Match{
		"ubuntu iso": {{FileIndex: 1, FileName: "ubuntu.iso"}},
	}}
	r := newTestResponder(idx)

	p := &Payload{MUID: guid.New(), Text: "Ubuntu ISO!"}
	res, err := r.Respond(p, RequestMeta{NeighborAddr: netip.MustParseAddrPort("5.6.7.8:6346"), Now: time.Now()})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].FileIndex != 1 {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
}

func TestResponderDropsSentinelConnection(t *testing.T) {
	r := newTestResponder(&fakeIndex{})
	p := &Payload{MUID: guid.New(), Text: sentinelConnectionQuery}
	_, err := r.Respond(p, RequestMeta{Now: time.Now()})
	var de DropError
	if err == nil {
		t.Fatalf("expected drop error")
	}
	if de, _ = err.(DropError); de.Reason != DropSentinelConnection {
		t.Fatalf("got reason %v, want DropSentinelConnection", de.Reason)
	}
}

func TestResponderDropsMalformedSHA1URN(t *testing.T) {
	r := newTestResponder(&fakeIndex{})
	p := &Payload{MUID: guid.New(), Text: "urn:sha1:TOOSHORT"}
	_, err := r.Respond(p, RequestMeta{Now: time.Now()})
	de, ok := err.(DropError)
	if !ok || de.Reason != DropMalformedSHA1URN {
		t.Fatalf("got err %v, want DropMalformedSHA1URN", err)
	}
}

func TestResponderLeafDuplicateSuppression(t *testing.T) {
	idx := &fakeIndex{fullText: map[string][]localindex.Match{"movie": {{FileIndex: 1}}}}
	r := newTestResponder(idx)
	leaf := netip.MustParseAddrPort("9.9.9.9:6346")
	now := time.Now()

	p1 := &Payload{MUID: guid.New(), Text: "movie"}
	if _, err := r.Respond(p1, RequestMeta{NeighborAddr: leaf, IsLeaf: true, Now: now}); err != nil {
		t.Fatalf("first query unexpectedly dropped: %v", err)
	}

	p2 := &Payload{MUID: guid.New(), Text: "movie"}
	_, err := r.Respond(p2, RequestMeta{NeighborAddr: leaf, IsLeaf: true, Now: now.Add(time.Second)})
	de, ok := err.(DropError)
	if !ok || de.Reason != DropDuplicateLeaf {
		t.Fatalf("got err %v, want DropDuplicateLeaf", err)
	}

	p3 := &Payload{MUID: guid.New(), Text: "movie"}
	if _, err := r.Respond(p3, RequestMeta{NeighborAddr: leaf, IsLeaf: true, Now: now.Add(r.cfg.LeafDedupWindow * 2)}); err != nil {
		t.Fatalf("query after window expiry unexpectedly dropped: %v", err)
	}
}

func TestResponderRelayerDuplicateSuppression(t *testing.T) {
	r := newTestResponder(&fakeIndex{})
	m := guid.New()
	now := time.Now()

	p1 := &Payload{MUID: m, Text: "something long enough"}
	if _, err := r.Respond(p1, RequestMeta{Now: now}); err != nil {
		t.Fatalf("first relayed query unexpectedly dropped: %v", err)
	}

	p2 := &Payload{MUID: m, Text: "something long enough"}
	_, err := r.Respond(p2, RequestMeta{Now: now.Add(time.Millisecond)})
	de, ok := err.(DropError)
	if !ok || de.Reason != DropThrottled {
		t.Fatalf("got err %v, want DropThrottled", err)
	}
}

func TestResponderDropsHostileOOBAddress(t *testing.T) {
	hostileAddr := netip.MustParseAddrPort("66.66.66.66:6346")
	r := NewResponder(DefaultConfig(), &fakeIndex{}, hostileAlways{}, netip.MustParseAddrPort("1.2.3.4:6346"))

	base := guid.New()
	tagged := guid.EncodeOOB(base, hostileAddr)
	p := &Payload{MUID: tagged, Flags: FlagOOBReply, Text: "some query text"}

	_, err := r.Respond(p, RequestMeta{Now: time.Now()})
	de, ok := err.(DropError)
	if !ok || de.Reason != DropHostileReturnAddress {
		t.Fatalf("got err %v, want DropHostileReturnAddress", err)
	}
}

func TestResponderClearsOOBOnInvalidEmbeddedAddress(t *testing.T) {
	r := newTestResponder(&fakeIndex{fullText: map[string][]localindex.Match{
		"some query text": {{FileIndex: 1}},
	}})

	// An all-zero GUID decodes to the unspecified address, which is
	// treated as "no usable return address".
	p := &Payload{MUID: guid.GUID{}, Flags: FlagOOBReply, Text: "some query text"}

	res, err := r.Respond(p, RequestMeta{Now: time.Now()})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !res.OOBCleared {
		t.Fatalf("expected OOBCleared true")
	}
	if p.Flags.Has(FlagOOBReply) {
		t.Fatalf("expected FlagOOBReply cleared on payload")
	}
}

type hostileAlways struct{}

func (hostileAlways) IsHostile(netip.Addr) bool { return true }
