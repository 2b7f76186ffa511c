// Package config defines behavior and resource limits for the servent
// core. It does not persist anything to disk — process-wide settings
// persistence is an external collaborator (see spec §1) — it only holds
// the in-memory tunables every other package reads.
package config

import "time"

// Config aggregates every tunable named by the specification.
type Config struct {
	// HardTTLLimit bounds ttl+hops on every forwarded packet (§3).
	HardTTLLimit uint8

	// MaxExtensions is the implementation ceiling on typed extensions
	// decoded from a single tail before the remainder is reported as
	// Overhead (§3, N≈32).
	MaxExtensions int

	// MaxPayloadSize rejects any header claiming a payload larger than
	// this as a SizeBomb (§4.A).
	MaxPayloadSize uint32

	// MUIDDrawAttempts bounds how many random MUIDs QueryBuilder may draw
	// before giving up on finding one absent from the MUID map (§4.C).
	MUIDDrawAttempts int

	// MaxReplies caps the number of records in a single QueryHit this
	// servent emits (§4.D, ≤255).
	MaxReplies int

	// MinWordLength drops space-separated words shorter than this during
	// canonicalization (§4.D).
	MinWordLength int

	// NodeRequeryThreshold is the per-leaf duplicate suppression window.
	NodeRequeryThreshold time.Duration

	// MaxOOBAcks bounds outgoing OOB acknowledgements to avoid floods
	// (§9 open question, fixed at 254).
	MaxOOBAcks int

	// SearchMinRetry is the floor on a Search's reissue interval (§4.F).
	SearchMinRetry time.Duration

	// MUIDHistoryMax bounds how many MUIDs a Search remembers (§3, =4).
	MUIDHistoryMax int

	// DHashSize is the bucket count of ServerTable's by_time index (§4.G).
	DHashSize int

	// DownloadServerHold is the floor added to retry_after on every
	// ServerTable update (§4.G, 15s).
	DownloadServerHold time.Duration

	// MaxDownloads is the global running-download cap (§4.H).
	MaxDownloads int

	// MaxHostDownloads is the per-server running-download cap (§4.H).
	MaxHostDownloads int

	// BufferPoolMax is the shared receive-buffer pool capacity, in
	// SockBufSize chunks (§5).
	BufferPoolMax int

	// SockBufSize is the size of a single pooled socket buffer.
	SockBufSize int

	// DownloadBufferSize and DownloadBufferReadAhead together size the
	// HttpDownloader receive I/O vector (§4.J).
	DownloadBufferSize      int
	DownloadBufferReadAhead int

	// DownloadMaxSink bounds the one-shot PFSP sink read on a 503/416
	// reply (§4.J, 16KiB).
	DownloadMaxSink int

	// DownloadMismatchBackout is how many trailing bytes are marked empty
	// after an overlap-check mismatch (§4.J).
	DownloadMismatchBackout int

	// DownloadRemoveFileOnMismatch toggles between "delete and restart"
	// and "back out a window and requeue" on overlap mismatch (§4.J).
	DownloadRemoveFileOnMismatch bool

	// DownloadRetryRefusedDelay holds a source after a refused PUSH or
	// banning signal (§4.K).
	DownloadRetryRefusedDelay time.Duration

	// ParqCooldown holds a source after a "removed from PARQ" 403 from a
	// gtk-gnutella peer (§4.J, 1200s).
	ParqCooldown time.Duration

	// OverlapRange is the number of trailing bytes re-verified against
	// the peer's stream on every resumed download (§4.I).
	OverlapRange int64

	// SchedulerTick is how often DownloadScheduler scans its by_time
	// buckets (§4.H / §5, nominally 1Hz).
	SchedulerTick time.Duration
}

// Default returns the specification's defaults.
func Default() Config {
	return Config{
		HardTTLLimit:                 7,
		MaxExtensions:                32,
		MaxPayloadSize:               4 * 1024 * 1024,
		MUIDDrawAttempts:             100,
		MaxReplies:                   255,
		MinWordLength:                1,
		NodeRequeryThreshold:         180 * time.Second,
		MaxOOBAcks:                   254,
		SearchMinRetry:               1800 * time.Second,
		MUIDHistoryMax:               4,
		DHashSize:                    1024,
		DownloadServerHold:           15 * time.Second,
		MaxDownloads:                 16,
		MaxHostDownloads:             4,
		BufferPoolMax:                300,
		SockBufSize:                  64 * 1024,
		DownloadBufferSize:           128 * 1024,
		DownloadBufferReadAhead:      64 * 1024,
		DownloadMaxSink:              16 * 1024,
		DownloadMismatchBackout:      512,
		DownloadRemoveFileOnMismatch: false,
		DownloadRetryRefusedDelay:    60 * time.Second,
		ParqCooldown:                 1200 * time.Second,
		OverlapRange:                 64,
		SchedulerTick:                1 * time.Second,
	}
}
