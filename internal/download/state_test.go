package download

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gnutella-core/servent/internal/server"
	"github.com/gnutella-core/servent/pkg/guid"
)

func TestTransitionLegalEdge(t *testing.T) {
	d := &Download{State: StateQueued}
	if !d.Transition(StateConnecting, time.Now()) {
		t.Fatalf("expected queued->connecting to be legal")
	}
	if d.State != StateConnecting {
		t.Fatalf("got state %v, want connecting", d.State)
	}
}

func TestTransitionIllegalEdgeRejected(t *testing.T) {
	d := &Download{State: StateQueued}
	if d.Transition(StateCompleted, time.Now()) {
		t.Fatalf("expected queued->completed to be illegal")
	}
	if d.State != StateQueued {
		t.Fatalf("state should be unchanged after illegal transition")
	}
}

func TestReadyToStartRespectsServerRetryAfter(t *testing.T) {
	tbl := server.NewTable()
	srv := tbl.GetOrCreate(server.Key{Addr: netip.MustParseAddr("1.1.1.1"), Port: 1})
	now := time.Now()
	tbl.SetRetryAfter(srv, now.Add(time.Hour))

	d := NewDownload(1, srv, 0, "f", now)
	if d.ReadyToStart(now) {
		t.Fatalf("expected not ready while server retry_after is in the future")
	}
}

func TestSelectGIVCandidatePrefersPushSentRunning(t *testing.T) {
	tbl := server.NewTable()
	g := guid.New()
	srv := tbl.GetOrCreate(server.Key{GUID: g, Addr: netip.MustParseAddr("2.2.2.2"), Port: 1})

	running := NewDownload(1, srv, 0, "f", time.Now())
	running.State = StatePushSent
	waiting := NewDownload(2, srv, 0, "g", time.Now())

	cand, ok := SelectGIVCandidate(
		[]*server.Server{srv},
		map[*server.Server][]*Download{srv: {waiting}},
		map[*server.Server][]*Download{srv: {running}},
		g, netip.MustParseAddr("2.2.2.2"), time.Now(),
	)
	if !ok || cand.Download != running {
		t.Fatalf("expected push-sent running download to be selected, got %+v", cand)
	}
}

func TestSelectGIVCandidateFallsBackToEldestWaiting(t *testing.T) {
	tbl := server.NewTable()
	g := guid.New()
	srv := tbl.GetOrCreate(server.Key{GUID: g, Addr: netip.MustParseAddr("3.3.3.3"), Port: 1})
	// The table floors retry_after at now+DownloadServerHold, so the
	// server is only due at a later instant.
	due := time.Now().Add(time.Hour)

	older := NewDownload(1, srv, 0, "f", time.Now().Add(-time.Hour))
	newer := NewDownload(2, srv, 0, "g", time.Now())

	cand, ok := SelectGIVCandidate(
		[]*server.Server{srv},
		map[*server.Server][]*Download{srv: {newer, older}},
		nil,
		g, netip.MustParseAddr("3.3.3.3"), due,
	)
	if !ok || cand.Download != older {
		t.Fatalf("expected eldest waiting download to be selected, got %+v", cand)
	}
}
