package server

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gnutella-core/servent/pkg/guid"
)

func TestGetOrCreateIndexesByAddr(t *testing.T) {
	tbl := NewTable()
	key := Key{Addr: netip.MustParseAddr("1.2.3.4"), Port: 6346}
	s := tbl.GetOrCreate(key)

	got, ok := tbl.ByAddr(netip.AddrPortFrom(key.Addr, key.Port))
	if !ok || got != s {
		t.Fatalf("ByAddr did not return the created server")
	}
}

func TestRetryAfterFloorEnforced(t *testing.T) {
	tbl := NewTable()
	fixed := time.Now()
	tbl.now = func() time.Time { return fixed }

	s := tbl.GetOrCreate(Key{Addr: netip.MustParseAddr("5.6.7.8"), Port: 1})
	tbl.SetRetryAfter(s, fixed) // attempt to set it to "now", below the floor

	if s.RetryAfter.Before(fixed.Add(DownloadServerHold)) {
		t.Fatalf("retry_after %v is below the hold floor", s.RetryAfter)
	}
}

func TestDeleteQueuesAndReclaimFreesWhenEmpty(t *testing.T) {
	tbl := NewTable()
	key := Key{Addr: netip.MustParseAddr("9.9.9.9"), Port: 1}
	s := tbl.GetOrCreate(key)

	tbl.Delete(s)
	if !s.Removed {
		t.Fatalf("expected Removed=true after Delete")
	}

	tbl.Reclaim()
	if _, ok := tbl.ByAddr(netip.AddrPortFrom(key.Addr, key.Port)); ok {
		t.Fatalf("expected server to be freed from by_addr after Reclaim")
	}
}

func TestDeleteDoesNotReclaimWithPendingDownloads(t *testing.T) {
	tbl := NewTable()
	key := Key{Addr: netip.MustParseAddr("9.9.9.10"), Port: 1}
	s := tbl.GetOrCreate(key)
	s.Waiting.Add(1)

	tbl.Delete(s)
	tbl.Reclaim()

	if _, ok := tbl.ByAddr(netip.AddrPortFrom(key.Addr, key.Port)); !ok {
		t.Fatalf("server with a pending download should not have been freed")
	}
}

func TestGetOrCreateUndeletes(t *testing.T) {
	tbl := NewTable()
	key := Key{GUID: guid.New(), Addr: netip.MustParseAddr("1.1.1.1"), Port: 2}
	s := tbl.GetOrCreate(key)
	tbl.Delete(s)

	again := tbl.GetOrCreate(key)
	if again != s {
		t.Fatalf("expected GetOrCreate to return the same undeleted server")
	}
	if s.Removed {
		t.Fatalf("expected Removed cleared on undelete")
	}
}

func TestChangeAddrReparentsDuplicate(t *testing.T) {
	tbl := NewTable()
	a := tbl.GetOrCreate(Key{Addr: netip.MustParseAddr("1.1.1.1"), Port: 1})
	b := tbl.GetOrCreate(Key{Addr: netip.MustParseAddr("2.2.2.2"), Port: 2})
	b.Waiting.Add(42)

	tbl.ChangeAddr(a, netip.MustParseAddr("2.2.2.2"), 2)

	if !a.Waiting.Has(42) {
		t.Fatalf("expected a to have inherited b's waiting download")
	}
	if !b.Removed {
		t.Fatalf("expected displaced duplicate to be queued for removal")
	}
}
