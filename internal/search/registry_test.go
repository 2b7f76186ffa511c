package search

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gnutella-core/servent/internal/queryhit"
	"github.com/gnutella-core/servent/pkg/guid"
)

type fakeBroadcaster struct {
	calls []guid.GUID
}

func (f *fakeBroadcaster) Broadcast(muid guid.GUID, text string) error {
	f.calls = append(f.calls, muid)
	return nil
}

func TestStartMintsMUIDForActiveSearch(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRegistry(b, func() int { return 3 }, nil, func() bool { return false })

	h := r.Create("ubuntu", time.Now(), 1, time.Minute, KindActive, 100)
	if err := r.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(b.calls) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(b.calls))
	}
}

func TestStartDoesNotBroadcastForPassiveSearch(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRegistry(b, func() int { return 3 }, nil, func() bool { return false })

	h := r.Create("ubuntu", time.Now(), 1, time.Minute, KindPassive, 100)
	if err := r.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(b.calls) != 0 {
		t.Fatalf("got %d broadcasts, want 0", len(b.calls))
	}
}

func TestOnHitSelectsOwningAndPassiveSearches(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRegistry(b, func() int { return 3 }, nil, func() bool { return false })

	active := r.Create("ubuntu", time.Now(), 1, time.Minute, KindActive, 100)
	r.Start(active)
	muid := b.calls[0]

	passive := r.Create("", time.Now(), 0, time.Minute, KindPassive, 100)

	dispatches := r.OnHit(queryhit.ResultSet{}, muid)
	handles := map[Handle]bool{}
	for _, d := range dispatches {
		handles[d.Handle] = true
	}
	if !handles[active] || !handles[passive] {
		t.Fatalf("expected both active and passive searches selected, got %+v", dispatches)
	}
}

func TestOnHitSkipsFrozenSearches(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRegistry(b, func() int { return 3 }, nil, func() bool { return false })

	active := r.Create("ubuntu", time.Now(), 1, time.Minute, KindActive, 100)
	r.Start(active)
	muid := b.calls[0]
	r.Stop(active)

	dispatches := r.OnHit(queryhit.ResultSet{}, muid)
	for _, d := range dispatches {
		if d.Handle == active {
			t.Fatalf("frozen search should not be dispatched to")
		}
	}
}

func TestCloseFreesMUIDs(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRegistry(b, func() int { return 3 }, nil, func() bool { return false })

	h := r.Create("ubuntu", time.Now(), 1, time.Minute, KindActive, 100)
	r.Start(h)
	muid := b.calls[0]

	if err := r.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dispatches := r.OnHit(queryhit.ResultSet{}, muid); len(dispatches) != 0 {
		t.Fatalf("expected no dispatches after close, got %+v", dispatches)
	}
}

type fakeStatusSender struct {
	sent map[netip.AddrPort]uint16
}

func (f *fakeStatusSender) SendQueryStatus(to netip.AddrPort, kept uint16) error {
	if f.sent == nil {
		f.sent = make(map[netip.AddrPort]uint16)
	}
	f.sent[to] = kept
	return nil
}

func TestKeptNotifiesUltrapeersWhenLeaf(t *testing.T) {
	b := &fakeBroadcaster{}
	sender := &fakeStatusSender{}
	r := NewRegistry(b, func() int { return 3 }, sender, func() bool { return true })

	h := r.Create("ubuntu", time.Now(), 1, time.Minute, KindActive, 100)
	r.Start(h)

	up := netip.MustParseAddrPort("1.2.3.4:6346")
	r.mu.Lock()
	r.searches[h].SentNodes[up] = struct{}{}
	r.mu.Unlock()

	if err := r.Kept(h, 5); err != nil {
		t.Fatalf("Kept: %v", err)
	}
	if sender.sent[up] != 5 {
		t.Fatalf("got kept=%d, want 5", sender.sent[up])
	}
}

func TestQueryAllowedBudget(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRegistry(b, func() int { return 1 }, nil, func() bool { return false })
	h := r.Create("ubuntu", time.Now(), 1, time.Minute, KindActive, 100)

	if !r.QueryAllowed(h) {
		t.Fatalf("first emission should be allowed")
	}
	if !r.QueryAllowed(h) {
		t.Fatalf("second emission should be allowed (outdegree+1 budget)")
	}
	if r.QueryAllowed(h) {
		t.Fatalf("third emission should exceed budget")
	}
}

func TestReissueIntervalFactorIsOneBelowTenPercent(t *testing.T) {
	base := ReissueInterval(time.Hour, 0, 100)
	if base != time.Hour {
		// reissueTimeout (1h) > SearchMinRetry (1800s); factor is 1 at 0%.
		t.Fatalf("got %v, want 1h", base)
	}
	grown := ReissueInterval(time.Hour, 0, 1000)
	if grown <= 0 {
		t.Fatalf("expected positive interval")
	}
}
