package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gnutella-core/servent/internal/download"
	"github.com/gnutella-core/servent/internal/scheduler"
	"github.com/gnutella-core/servent/internal/search"
	"github.com/gnutella-core/servent/internal/server"
)

type fakeStarter struct{}

func (fakeStarter) Start(d *download.Download, s *server.Server) error { return nil }

func TestRunStopsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "downloads"))

	sched := scheduler.New(scheduler.Config{MaxDownloads: 1, MaxHostDownloads: 1}, c.Servers(), fakeStarter{}, nil,
		func(s *server.Server) []*download.Download { return nil },
		func() int { return 0 })
	c.AttachScheduler(sched)

	registry := search.NewRegistry(nil, fakeOutdegree{}, nil, func() bool { return false })
	c.AttachSearches(registry)
	c.AttachDownloads(download.NewRegistry())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	c.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Shutdown")
	}

	if _, err := os.Stat(filepath.Join(dir, "downloads")); err != nil {
		t.Fatalf("expected downloads file to be written: %v", err)
	}
}

// TestShutdownSkipsSaveWithoutDownloadRegistry guards against silently
// truncating a pre-existing downloads.dat when no download owner was
// ever attached to Core -- there is nothing trustworthy to snapshot, so
// shutdown must leave the file alone rather than overwrite it with an
// empty record set.
func TestShutdownSkipsSaveWithoutDownloadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "downloads")
	if err := os.WriteFile(path, []byte("# RECLINES=4\npre-existing\n"), 0o644); err != nil {
		t.Fatalf("seeding downloads file: %v", err)
	}

	c := New(path)
	sched := scheduler.New(scheduler.Config{MaxDownloads: 1, MaxHostDownloads: 1}, c.Servers(), fakeStarter{}, nil,
		func(s *server.Server) []*download.Download { return nil },
		func() int { return 0 })
	c.AttachScheduler(sched)
	c.AttachSearches(search.NewRegistry(nil, fakeOutdegree{}, nil, func() bool { return false }))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	c.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Shutdown")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloads file: %v", err)
	}
	if string(got) != "# RECLINES=4\npre-existing\n" {
		t.Fatalf("expected pre-existing downloads file to be left untouched, got %q", got)
	}
}

type fakeOutdegree struct{}

func (fakeOutdegree) NodeOutdegree() int { return 4 }
