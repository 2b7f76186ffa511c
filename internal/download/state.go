package download

import (
	"net/netip"
	"sync"
	"time"

	"github.com/gnutella-core/servent/internal/server"
	"github.com/gnutella-core/servent/pkg/guid"
)

// State is one state of the per-request HTTP state machine (§4.J).
type State int

const (
	StateQueued State = iota
	StateConnecting
	StatePushSent
	StateReqSending
	StateReqSent
	StateHeaders
	StateSinking
	StateReceiving
	StateTimeoutWait
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateConnecting:
		return "connecting"
	case StatePushSent:
		return "push-sent"
	case StateReqSending:
		return "req-sending"
	case StateReqSent:
		return "req-sent"
	case StateHeaders:
		return "headers"
	case StateSinking:
		return "sinking"
	case StateReceiving:
		return "receiving"
	case StateTimeoutWait:
		return "timeout-wait"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Download is one request to retrieve (a range of) a file from a
// DownloadServer (§3, §4.H, §4.I, §4.J).
type Download struct {
	mu sync.Mutex

	ID     uint64
	Server *server.Server

	FileIndex uint32
	FileName  string
	Size      int64
	SHA1      [20]byte
	HasSHA1   bool

	// ParqID is the server-assigned PARQ queue-position identifier, if
	// any was handed back on a 503/X-Queue reply (§4.J, §4.L).
	ParqID string

	Swarming   bool
	Suspended  bool
	AlwaysPush bool
	Transient  bool

	URIRes bool // marked when the URL was built via /uri-res/N2R

	State State

	LastUpdate  time.Time
	TimeoutDelay time.Duration

	CreateTime time.Time

	Plan Plan

	// ShrunkReply is set when a 200/206 reply shrank range_end from what
	// was requested (§4.J).
	ShrunkReply bool

	// Banning is set once a 401/403/404 is taken as a banning signal
	// (§4.J); future requests on this server switch to minimal HTTP.
	Banning bool
}

// NewDownload constructs a queued Download against a server (§3).
func NewDownload(id uint64, srv *server.Server, fileIndex uint32, fileName string, now time.Time) *Download {
	return &Download{
		ID:         id,
		Server:     srv,
		FileIndex:  fileIndex,
		FileName:   fileName,
		State:      StateQueued,
		CreateTime: now,
		LastUpdate: now,
	}
}

// ReadyToStart reports whether the download satisfies the scheduler's
// start preconditions: not suspended, not past its timeout delay, and
// its server's retry time has passed (§4.H).
func (d *Download) ReadyToStart(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Suspended {
		return false
	}
	if d.TimeoutDelay > 0 && now.After(d.LastUpdate.Add(d.TimeoutDelay)) {
		return false
	}
	return !now.Before(d.Server.RetryAfter)
}

// transitions enumerates the state machine's legal edges (§4.J). It
// exists for documentation and for Transition's validation; Transition
// is the only place state actually changes.
var transitions = map[State][]State{
	StateQueued:      {StateConnecting},
	StateConnecting:  {StateReqSending, StatePushSent},
	StatePushSent:    {StateReqSending},
	StateReqSending:  {StateReqSent},
	StateReqSent:     {StateHeaders, StateTimeoutWait},
	StateHeaders:     {StateSinking, StateReceiving, StateTimeoutWait},
	StateSinking:     {StateReqSending},
	StateReceiving:   {StateCompleted},
	StateTimeoutWait: {StateQueued},
}

// Transition moves the download to next if the edge is legal, recording
// LastUpdate (§4.J). It reports false (and does not mutate state) for an
// illegal edge.
func (d *Download) Transition(next State, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, allowed := range transitions[d.State] {
		if allowed == next {
			d.State = next
			d.LastUpdate = now
			return true
		}
	}
	return false
}

// GIVCandidate identifies a Download eligible to receive an incoming
// GIV-initiated connection (§4.K).
type GIVCandidate struct {
	Download *Download
	Server   *server.Server
}

// SelectGIVCandidate implements PushClient's selection rule for an
// incoming "GIV <index>:<hex-guid>/": among servers matching GUID or
// peerAddr, prefer a running download in push-sent state; otherwise the
// eldest eligible waiting download (§4.K).
func SelectGIVCandidate(servers []*server.Server, waitingByServer map[*server.Server][]*Download, runningByServer map[*server.Server][]*Download, g guid.GUID, peerAddr netip.Addr, now time.Time) (GIVCandidate, bool) {
	var matched []*server.Server
	for _, s := range servers {
		if s.Key.GUID == g || s.Key.Addr == peerAddr {
			matched = append(matched, s)
		}
	}

	for _, s := range matched {
		for _, dl := range runningByServer[s] {
			if dl.State == StatePushSent {
				return GIVCandidate{Download: dl, Server: s}, true
			}
		}
	}

	var best *Download
	var bestServer *server.Server
	for _, s := range matched {
		for _, dl := range waitingByServer[s] {
			if dl.Suspended || !dl.ReadyToStart(now) {
				continue
			}
			if best == nil || dl.CreateTime.Before(best.CreateTime) {
				best = dl
				bestServer = s
			}
		}
	}
	if best == nil {
		return GIVCandidate{}, false
	}
	return GIVCandidate{Download: best, Server: bestServer}, true
}
