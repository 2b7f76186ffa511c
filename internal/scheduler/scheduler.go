// Package scheduler implements DownloadScheduler: the per-tick traversal
// of ServerTable's by_time buckets that decides which waiting download
// to start next (§4.H).
package scheduler

import (
	"time"

	"github.com/gnutella-core/servent/internal/download"
	"github.com/gnutella-core/servent/internal/server"
)

// Starter opens the connection (direct or via push-proxy) for a download
// that has cleared every scheduling precondition (§4.H).
type Starter interface {
	Start(d *download.Download, s *server.Server) error
}

// RunningFilenames reports how many currently-running downloads share a
// given output filename, enforcing the non-swarming per-filename cap
// (§4.H).
type RunningFilenames interface {
	CountRunning(filename string) int
}

// Config bounds scheduler concurrency (§4.H, §5).
type Config struct {
	MaxDownloads     int
	MaxHostDownloads int
}

// Scheduler walks ServerTable's by_time buckets once per tick, starting
// at most one download per eligible server before moving to the next
// server, so load spreads across servers rather than draining one at a
// time (§4.H).
type Scheduler struct {
	cfg     Config
	table   *server.Table
	starter Starter
	names   RunningFilenames

	waitingByServer func(*server.Server) []*download.Download
	runningCount    func() int
}

func New(cfg Config, table *server.Table, starter Starter, names RunningFilenames,
	waitingByServer func(*server.Server) []*download.Download, runningCount func() int) *Scheduler {
	return &Scheduler{
		cfg: cfg, table: table, starter: starter, names: names,
		waitingByServer: waitingByServer, runningCount: runningCount,
	}
}

// Tick traverses every bucket in order once, starting eligible
// downloads (§4.H).
func (s *Scheduler) Tick(now time.Time) {
	for i := 0; i < server.DHashSize; i++ {
		s.tickBucket(i, now)
	}
}

// tickBucket snapshots the bucket's change-counter before iterating; if
// a mutation is observed mid-traversal it restarts against a fresh
// snapshot rather than risk skipping or double-visiting a server (§4.H).
func (s *Scheduler) tickBucket(bucket int, now time.Time) {
	for {
		snapshot, gen := s.table.BucketSnapshot(bucket)

		restart := false
		for _, srv := range snapshot {
			if s.runningCount() >= s.cfg.MaxDownloads {
				return
			}
			if now.Before(srv.RetryAfter) {
				// Buckets are sorted ascending by retry_after: once one
				// entry isn't due, none after it are either.
				break
			}
			if s.table.BucketGeneration(bucket) != gen {
				restart = true
				break
			}
			s.startOneFrom(srv, now)
		}

		if !restart {
			return
		}
	}
}

// startOneFrom picks and starts at most one eligible waiting download on
// srv, applying the per-host cap and the non-swarming per-filename cap,
// then moves on regardless of outcome -- the caller advances to the next
// server rather than retrying srv (§4.H).
func (s *Scheduler) startOneFrom(srv *server.Server, now time.Time) {
	if srv.Running.Len() >= s.cfg.MaxHostDownloads {
		return
	}

	for _, d := range s.waitingByServer(srv) {
		if !d.ReadyToStart(now) {
			continue
		}
		if !d.Swarming && s.names != nil && s.names.CountRunning(d.FileName) > 0 {
			continue
		}
		if err := s.starter.Start(d, srv); err == nil {
			srv.Running.Add(d.ID)
			srv.Waiting.Remove(d.ID)
		}
		return
	}
}
