package browsehost

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/gnutella-core/servent/internal/queryhit"
	"github.com/gnutella-core/servent/internal/wire"
	"github.com/gnutella-core/servent/pkg/guid"
)

type fakeSink struct {
	hits []queryhit.ResultSet
}

func (f *fakeSink) OnHit(rs queryhit.ResultSet, muid guid.GUID) {
	f.hits = append(f.hits, rs)
}

func buildQueryHitFrame(t *testing.T) []byte {
	t.Helper()
	payload := queryhit.Encode(nil, queryhit.EncodeParams{
		Addr:  netip.MustParseAddr("1.2.3.4"),
		Port:  6346,
		Speed: 100,
		GUID:  guid.New(),
	})
	pkt := wire.Packet{Header: wire.Header{Function: wire.FuncQueryHit}, Payload: payload}
	return wire.EncodePacket(pkt)
}

func TestFetchDecodesPlainFrames(t *testing.T) {
	frame := buildQueryHitFrame(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/x-gnutella-packets" {
			t.Errorf("expected browse-host accept header, got %q", r.Header.Get("Accept"))
		}
		w.Write(frame)
	}))
	defer srv.Close()

	sink := &fakeSink{}
	err := Fetch(context.Background(), srv.Client(), srv.Listener.Addr().String(), DefaultConfig(), guid.New(), nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(sink.hits))
	}
}

func TestFetchDecodesGzippedFrames(t *testing.T) {
	frame := buildQueryHitFrame(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		gw.Write(frame)
		gw.Close()
	}))
	defer srv.Close()

	sink := &fakeSink{}
	err := Fetch(context.Background(), srv.Client(), srv.Listener.Addr().String(), DefaultConfig(), guid.New(), nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.hits) != 1 {
		t.Fatalf("expected 1 hit from gzipped stream, got %d", len(sink.hits))
	}
}

func TestFetchAllBrowsesHostsConcurrently(t *testing.T) {
	frame := buildQueryHitFrame(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write(frame) })
	srvA := httptest.NewServer(handler)
	defer srvA.Close()
	srvB := httptest.NewServer(handler)
	defer srvB.Close()

	sink := &fakeSink{}
	err := FetchAll(context.Background(), srvA.Client(),
		[]string{srvA.Listener.Addr().String(), srvB.Listener.Addr().String()},
		DefaultConfig(), nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.hits) != 2 {
		t.Fatalf("expected 2 hits across both hosts, got %d", len(sink.hits))
	}
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sink := &fakeSink{}
	err := Fetch(context.Background(), srv.Client(), srv.Listener.Addr().String(), DefaultConfig(), guid.New(), nil, sink)
	if err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}
