package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/gnutella-core/servent/internal/download"
	"github.com/gnutella-core/servent/internal/server"
	"github.com/gnutella-core/servent/pkg/guid"
)

type fakeRouter struct {
	called bool
	target guid.GUID
}

func (f *fakeRouter) SendPush(ctx context.Context, target guid.GUID, fileIndex uint32, ttl int) error {
	f.called = true
	f.target = target
	return nil
}

func TestPushFallsBackToRoutingWhenNoProxiesWork(t *testing.T) {
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer badSrv.Close()

	proxy := netip.MustParseAddrPort(badSrv.Listener.Addr().String())
	router := &fakeRouter{}
	client := New(DefaultConfig(), badSrv.Client(), router)

	g := guid.New()
	srv := &server.Server{Key: server.Key{GUID: g}, PushProxies: []netip.AddrPort{proxy}}

	if err := client.Push(context.Background(), srv, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !router.called || router.target != g {
		t.Fatalf("expected routed push fallback, router=%+v", router)
	}
	if len(srv.PushProxies) != 0 {
		t.Fatalf("expected failed proxy to be removed")
	}
}

func TestPushSucceedsOnFirstWorkingProxy(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	proxy := netip.MustParseAddrPort(okSrv.Listener.Addr().String())
	router := &fakeRouter{}
	client := New(DefaultConfig(), okSrv.Client(), router)

	srv := &server.Server{Key: server.Key{GUID: guid.New()}, PushProxies: []netip.AddrPort{proxy}}

	if err := client.Push(context.Background(), srv, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if router.called {
		t.Fatalf("did not expect routing fallback when a proxy works")
	}
	if len(srv.PushProxies) != 1 {
		t.Fatalf("expected working proxy to be kept")
	}
}

func TestNextRetryStopsAlwaysPushAfterMaxRetries(t *testing.T) {
	client := New(DefaultConfig(), nil, nil)
	srv := &server.Server{AlwaysPush: true, Retries: 5}

	d := client.NextRetry(srv)
	if !d.Stop {
		t.Fatalf("expected stop after exceeding AlwaysPushMaxRetries, got %+v", d)
	}
}

func TestParseGIVRoundTrip(t *testing.T) {
	g := guid.New()
	line := "GIV 42:" + g.String() + "/"

	got, err := ParseGIV(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FileIndex != 42 || got.GUID != g {
		t.Fatalf("unexpected parse result: %+v", got)
	}
}

func TestParseGIVRejectsMalformed(t *testing.T) {
	if _, err := ParseGIV("GIV garbage"); err == nil {
		t.Fatalf("expected error for malformed GIV line")
	}
}

func TestAcceptSelectsEldestWaitingDownload(t *testing.T) {
	tbl := server.NewTable()
	g := guid.New()
	srv := tbl.GetOrCreate(server.Key{GUID: g, Addr: netip.MustParseAddr("9.9.9.9"), Port: 1})
	// The table floors retry_after at now+DownloadServerHold, so the
	// server is only due at a later instant.
	due := time.Now().Add(time.Hour)

	older := download.NewDownload(1, srv, 0, "f", time.Now().Add(-time.Hour))
	newer := download.NewDownload(2, srv, 0, "g", time.Now())

	give := GIVLine{FileIndex: 0, GUID: g}
	waiting := map[*server.Server][]*download.Download{srv: {newer, older}}

	cand, ok := Accept(give, netip.MustParseAddr("9.9.9.9"), []*server.Server{srv}, waiting, nil, due)
	if !ok || cand.Download != older {
		t.Fatalf("expected eldest waiting download, got %+v", cand)
	}
}
