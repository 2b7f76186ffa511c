// Package search implements SearchRegistry: the lifecycle of logical
// user queries, the MUID→Search map, and kept-results bookkeeping
// (§3, §4.F).
package search

import (
	"errors"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/gnutella-core/servent/internal/queryhit"
	"github.com/gnutella-core/servent/pkg/guid"
)

// Kind discriminates the three Search flavors (§3).
type Kind int

const (
	KindActive Kind = iota
	KindPassive
	KindBrowse
)

// MUIDMax bounds how many MUIDs a Search remembers, most recent first
// (§3).
const MUIDMax = 4

// SearchMinRetry is the reissue-timer floor (§4.F).
const SearchMinRetry = 1800 * time.Second

// Handle identifies a Search. The zero value never names a real Search.
type Handle uint64

// Search is the registry's view of one logical user query (§3).
type Search struct {
	Handle Handle

	Text           string
	CreateTime     time.Time
	LifetimeHours  float64
	ReissueTimeout time.Duration
	Kind           Kind

	Frozen bool

	MUIDHistory []guid.GUID
	SentNodes   map[netip.AddrPort]struct{}

	KeptResults int
	ItemsShown  int
	MaxResults  int

	emittedThisCycle int
}

func (s *Search) isExpired(now time.Time) bool {
	if s.LifetimeHours <= 0 {
		return false
	}
	return now.Sub(s.CreateTime) >= time.Duration(s.LifetimeHours*float64(time.Hour))
}

// IsActive reports whether the Search owns at least one live MUID (§3).
func (s *Search) IsActive() bool { return len(s.MUIDHistory) > 0 }

// Broadcaster sends a freshly-minted query out onto the network; it is
// the collaborator that turns a Search into wire traffic (QueryBuilder +
// connection fan-out, out of this package's scope).
type Broadcaster interface {
	Broadcast(muid guid.GUID, text string) error
}

// NodeOutdegree reports how many query-capable connections this servent
// currently has, bounding query_allowed's per-cycle emission budget
// (§4.F).
type NodeOutdegree func() int

// QueryStatusSender emits a vendor "Query Status Response" to a querying
// ultrapeer when operating as a leaf (§4.F, "kept").
type QueryStatusSender interface {
	SendQueryStatus(to netip.AddrPort, kept uint16) error
}

var (
	ErrNotFound   = errors.New("search: no such handle")
	ErrMUIDDrawFailed = errors.New("search: could not mint a unique MUID")
)

// Registry owns the set of live Searches, the MUID→Search map, and the
// passive-search list (§4.F).
type Registry struct {
	mu sync.Mutex

	searches map[Handle]*Search
	byMUID   map[guid.GUID]Handle
	passive  []Handle

	nextHandle Handle

	broadcaster Broadcaster
	outdegree   NodeOutdegree
	statusSend  QueryStatusSender
	isLeaf      func() bool

	now func() time.Time
}

func NewRegistry(broadcaster Broadcaster, outdegree NodeOutdegree, statusSend QueryStatusSender, isLeaf func() bool) *Registry {
	return &Registry{
		searches:    make(map[Handle]*Search),
		byMUID:      make(map[guid.GUID]Handle),
		broadcaster: broadcaster,
		outdegree:   outdegree,
		statusSend:  statusSend,
		isLeaf:      isLeaf,
		now:         time.Now,
	}
}

// Create registers a new Search and returns its Handle (§4.F).
func (r *Registry) Create(text string, createTime time.Time, lifetimeHours float64, reissueTimeout time.Duration, kind Kind, maxResults int) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextHandle++
	h := r.nextHandle
	r.searches[h] = &Search{
		Handle:         h,
		Text:           text,
		CreateTime:     createTime,
		LifetimeHours:  lifetimeHours,
		ReissueTimeout: reissueTimeout,
		Kind:           kind,
		SentNodes:      make(map[netip.AddrPort]struct{}),
		MaxResults:     maxResults,
	}
	if kind == KindPassive {
		r.passive = append(r.passive, h)
	}
	return h
}

// Start thaws a Search; if it is active (per the intended Kind) and has
// never minted a MUID, mints one and broadcasts (§4.F).
func (r *Registry) Start(h Handle) error {
	r.mu.Lock()
	s, ok := r.searches[h]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	r.mu.Lock()
	s.Frozen = false
	needsMUID := s.Kind != KindPassive && len(s.MUIDHistory) == 0
	r.mu.Unlock()

	if needsMUID {
		return r.mintAndBroadcast(s)
	}
	return nil
}

// Stop freezes a Search; Reissue does nothing for a frozen Search until
// Start thaws it (§4.F).
func (r *Registry) Stop(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.searches[h]
	if !ok {
		return ErrNotFound
	}
	s.Frozen = true
	return nil
}

// Reissue mints a new MUID and rebroadcasts unless the Search has
// expired, in which case reissuing is permanently disabled by freezing
// it (§4.F).
func (r *Registry) Reissue(h Handle) error {
	r.mu.Lock()
	s, ok := r.searches[h]
	now := r.now()
	frozen := ok && s.Frozen
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if frozen {
		return nil
	}

	if s.isExpired(now) {
		r.mu.Lock()
		s.Frozen = true
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	s.SentNodes = make(map[netip.AddrPort]struct{})
	s.emittedThisCycle = 0
	r.mu.Unlock()

	return r.mintAndBroadcast(s)
}

func (r *Registry) mintAndBroadcast(s *Search) error {
	r.mu.Lock()
	var muid guid.GUID
	found := false
	for i := 0; i < 100; i++ {
		candidate := guid.New()
		if _, taken := r.byMUID[candidate]; !taken {
			muid = candidate
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return ErrMUIDDrawFailed
	}

	s.MUIDHistory = append([]guid.GUID{muid}, s.MUIDHistory...)
	if len(s.MUIDHistory) > MUIDMax {
		stale := s.MUIDHistory[MUIDMax:]
		s.MUIDHistory = s.MUIDHistory[:MUIDMax]
		for _, m := range stale {
			delete(r.byMUID, m)
		}
	}
	r.byMUID[muid] = s.Handle
	r.mu.Unlock()

	if r.broadcaster == nil {
		return nil
	}
	return r.broadcaster.Broadcast(muid, s.Text)
}

// Close frees all of a Search's MUIDs, purging them from the MUID map,
// and removes it from the passive list (§4.F). Aborting an associated
// browse-host download is the caller's responsibility: this package does
// not depend on package browsehost.
func (r *Registry) Close(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.searches[h]
	if !ok {
		return ErrNotFound
	}
	for _, m := range s.MUIDHistory {
		delete(r.byMUID, m)
	}
	delete(r.searches, h)

	for i, ph := range r.passive {
		if ph == h {
			r.passive = append(r.passive[:i], r.passive[i+1:]...)
			break
		}
	}
	return nil
}

// ActiveHandles returns the handle of every Search that currently owns
// at least one live MUID, for exit-time Query-Status-Closed notification
// (§6 "Exit behavior").
func (r *Registry) ActiveHandles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Handle
	for h, s := range r.searches {
		if s.IsActive() {
			out = append(out, h)
		}
	}
	return out
}

// Dispatch is one Search's share of an on_hit fan-out decision.
type Dispatch struct {
	Handle Handle
	Search *Search
}

// OnHit selects recipients for a ResultSet keyed by muid: the active
// Search owning that MUID (if not frozen) union all non-frozen passive
// Searches (§4.F).
func (r *Registry) OnHit(rs queryhit.ResultSet, muid guid.GUID) []Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Handle]struct{})
	var out []Dispatch

	if h, ok := r.byMUID[muid]; ok {
		if s := r.searches[h]; s != nil && !s.Frozen {
			seen[h] = struct{}{}
			out = append(out, Dispatch{Handle: h, Search: s})
		}
	}

	for _, h := range r.passive {
		if _, dup := seen[h]; dup {
			continue
		}
		if s := r.searches[h]; s != nil && !s.Frozen {
			out = append(out, Dispatch{Handle: h, Search: s})
		}
	}

	_ = rs
	return out
}

// Kept increments the kept-results counter and, when this servent is a
// leaf and the Search is active, notifies each querying ultrapeer of the
// new total via a vendor Query Status Response (§4.F).
func (r *Registry) Kept(h Handle, delta int) error {
	r.mu.Lock()
	s, ok := r.searches[h]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	s.KeptResults += delta
	kept := s.KeptResults
	isLeafActive := s.IsActive() && r.isLeaf != nil && r.isLeaf()
	var nodes []netip.AddrPort
	if isLeafActive {
		for n := range s.SentNodes {
			nodes = append(nodes, n)
		}
	}
	r.mu.Unlock()

	if !isLeafActive || r.statusSend == nil {
		return nil
	}
	value := kept
	if value > 0xFFFE {
		value = 0xFFFE
	}
	for _, n := range nodes {
		if err := r.statusSend.SendQueryStatus(n, uint16(value)); err != nil {
			return err
		}
	}
	return nil
}

// QueryClosedStatus is the reserved vendor-message value meaning "this
// search has been closed" (§4.F).
const QueryClosedStatus uint16 = 0xFFFF

// QueryAllowed enforces the per-reissue-cycle emission budget: at most
// node_outdegree()+1 emissions, the +1 absorbing the asymmetry between
// enqueuing and actual wire transmission (§4.F).
func (r *Registry) QueryAllowed(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.searches[h]
	if !ok {
		return false
	}
	budget := 1
	if r.outdegree != nil {
		budget += r.outdegree()
	}
	if s.emittedThisCycle >= budget {
		return false
	}
	s.emittedThisCycle++
	return true
}

// ReissueInterval computes the reissue timer per §4.F: interval =
// max(reissueTimeout, SearchMinRetry) * factor, where factor is
// 1 + (percent-10)²/550 for percent = itemsShown*100/maxResults at or
// above 10, so it grows quadratically as percent rises past 10; below
// 10 percent factor is 1.
func ReissueInterval(reissueTimeout time.Duration, itemsShown, maxResults int) time.Duration {
	base := reissueTimeout
	if base < SearchMinRetry {
		base = SearchMinRetry
	}

	factor := 1.0
	if maxResults > 0 {
		percent := float64(itemsShown) * 100 / float64(maxResults)
		if percent >= 10 {
			d := percent - 10
			factor = 1 + (d*d)/550
		}
	}

	return time.Duration(math.Round(float64(base) * factor))
}
