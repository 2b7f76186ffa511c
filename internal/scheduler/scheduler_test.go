package scheduler

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gnutella-core/servent/internal/download"
	"github.com/gnutella-core/servent/internal/server"
)

type fakeStarter struct {
	started []*download.Download
}

func (f *fakeStarter) Start(d *download.Download, s *server.Server) error {
	f.started = append(f.started, d)
	return nil
}

func TestTickStartsEligibleDownload(t *testing.T) {
	tbl := server.NewTable()
	srv := tbl.GetOrCreate(server.Key{Addr: netip.MustParseAddr("1.2.3.4"), Port: 1})
	// The table floors retry_after at now+DownloadServerHold, so the
	// server is only due at a later instant.
	due := time.Now().Add(time.Hour)

	d := download.NewDownload(1, srv, 0, "file.bin", time.Now())
	srv.Waiting.Add(d.ID)

	starter := &fakeStarter{}
	waiting := map[*server.Server][]*download.Download{srv: {d}}

	sched := New(Config{MaxDownloads: 10, MaxHostDownloads: 10}, tbl, starter, nil,
		func(s *server.Server) []*download.Download { return waiting[s] },
		func() int { return 0 })

	sched.Tick(due)

	if len(starter.started) != 1 || starter.started[0] != d {
		t.Fatalf("expected download to be started, got %+v", starter.started)
	}
	if !srv.Running.Has(d.ID) {
		t.Fatalf("expected download moved to running")
	}
	if srv.Waiting.Has(d.ID) {
		t.Fatalf("expected download removed from waiting")
	}
}

func TestTickRespectsMaxDownloadsCap(t *testing.T) {
	tbl := server.NewTable()
	srv := tbl.GetOrCreate(server.Key{Addr: netip.MustParseAddr("1.2.3.5"), Port: 1})
	// Evaluated past the retry_after floor so that only the cap holds
	// the download back.
	due := time.Now().Add(time.Hour)

	d := download.NewDownload(2, srv, 0, "file.bin", time.Now())
	srv.Waiting.Add(d.ID)

	starter := &fakeStarter{}
	waiting := map[*server.Server][]*download.Download{srv: {d}}

	sched := New(Config{MaxDownloads: 0, MaxHostDownloads: 10}, tbl, starter, nil,
		func(s *server.Server) []*download.Download { return waiting[s] },
		func() int { return 0 })

	sched.Tick(due)

	if len(starter.started) != 0 {
		t.Fatalf("expected no downloads started when at capacity, got %+v", starter.started)
	}
}
