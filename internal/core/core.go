// Package core aggregates every subsystem into a single cooperative
// event loop: one goroutine drives the scheduler tick, and downloads are
// persisted once, during exit processing; no Download or Search is
// mutated from anywhere else (§5).
package core

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gnutella-core/servent/internal/config"
	"github.com/gnutella-core/servent/internal/download"
	"github.com/gnutella-core/servent/internal/persist"
	"github.com/gnutella-core/servent/internal/push"
	"github.com/gnutella-core/servent/internal/scheduler"
	"github.com/gnutella-core/servent/internal/search"
	"github.com/gnutella-core/servent/internal/server"
)

// Core wires ServerTable, the DownloadScheduler, SearchRegistry, and
// PushClient behind one event loop.
type Core struct {
	log *slog.Logger
	cfg *config.Config

	mu        sync.Mutex
	servers   *server.Table
	searches  *search.Registry
	sched     *scheduler.Scheduler
	pusher    *push.Client
	downloads *download.Registry

	persistPath string

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// New builds a Core over the given persistence path. Callers finish
// wiring sched/searches/pusher via the Attach* methods before calling
// Run, since constructing them requires Core's own collaborator
// interfaces (server.Table, etc.) to already exist.
func New(persistPath string) *Core {
	return &Core{
		log:         slog.Default(),
		cfg:         config.Load(),
		servers:     server.NewTable(),
		persistPath: persistPath,
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

func (c *Core) AttachScheduler(s *scheduler.Scheduler) { c.sched = s }
func (c *Core) AttachSearches(r *search.Registry)      { c.searches = r }
func (c *Core) AttachPusher(p *push.Client)            { c.pusher = p }
func (c *Core) AttachDownloads(r *download.Registry)   { c.downloads = r }
func (c *Core) Servers() *server.Table                 { return c.servers }
func (c *Core) Downloads() *download.Registry          { return c.downloads }

// Run drives the scheduler tick at config.SchedulerTick until ctx is
// cancelled or Shutdown is called, then performs exit processing before
// returning (§5, §6 "Exit behavior").
func (c *Core) Run(ctx context.Context) error {
	defer close(c.stopped)

	ticker := time.NewTicker(c.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-c.stopCh:
			return c.shutdown()
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *Core) tick(now time.Time) {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return
	}
	sched.Tick(now)
}

// Shutdown requests the event loop stop and waits for exit processing
// to complete.
func (c *Core) Shutdown() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.stopped
}

// shutdown implements the exit sequence: for every active search it
// re-posts the current kept count to the search's ultrapeers via Kept
// and closes the search, then persists downloads (§6 "Exit behavior").
// The QueryStatusClosed (0xFFFF) value is not sent, and no pools are
// released here.
func (c *Core) shutdown() error {
	c.log.Info("shutting down servent core")

	if c.searches != nil {
		for _, h := range c.searches.ActiveHandles() {
			if err := c.searches.Kept(h, 0); err != nil {
				c.log.Warn("failed to post query status", "handle", h, "error", err)
			}
			c.searches.Close(h)
		}
	}

	if c.persistPath != "" {
		if err := c.persistDownloads(); err != nil {
			c.log.Error("failed to persist downloads on shutdown", "error", err)
			return err
		}
	}

	return nil
}

// persistDownloads saves the current download registry to disk. It is a
// no-op -- deliberately leaving any existing downloads.dat untouched --
// when no registry has been attached, since overwriting the file with an
// empty record set would silently discard whatever was persisted by a
// previous run that did have one wired (§4.L).
func (c *Core) persistDownloads() error {
	if c.downloads == nil {
		c.log.Warn("no download registry attached; skipping downloads.dat save")
		return nil
	}

	f, err := os.Create(c.persistPath)
	if err != nil {
		return err
	}
	defer f.Close()

	records := c.snapshotDownloads()
	return persist.Save(f, records)
}

// snapshotDownloads converts every Download the registry currently
// tracks into a persist.Record (§4.L).
func (c *Core) snapshotDownloads() []persist.Record {
	downloads := c.downloads.All()
	records := make([]persist.Record, 0, len(downloads))
	for _, d := range downloads {
		rec := persist.Record{
			FileName:  d.FileName,
			Size:      d.Size,
			FileIndex: d.FileIndex,
			SHA1:      d.SHA1,
			HasSHA1:   d.HasSHA1,
			ParqID:    d.ParqID,
		}
		if d.Server != nil {
			rec.GUID = d.Server.Key.GUID
			rec.Addr = d.Server.Key.Addr
			rec.Port = d.Server.Key.Port
			rec.Hostname = d.Server.Hostname
		}
		records = append(records, rec)
	}
	return records
}

// LoadDownloads reads the persisted download records at path via
// persist.Load (§4.L). It returns the records only: no Download is
// recreated, and persist.MagicTime is not applied.
func LoadDownloads(path string) ([]persist.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return persist.Load(f)
}
