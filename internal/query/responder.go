package query

import (
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/gnutella-core/servent/internal/ggep"
	"github.com/gnutella-core/servent/internal/hostlist"
	"github.com/gnutella-core/servent/internal/localindex"
	"github.com/gnutella-core/servent/pkg/guid"
	"github.com/gnutella-core/servent/pkg/sha1urn"
)

// DropReason labels why QueryResponder refused to process or answer a
// query (§4.D, §7). The zero value is never used as a real reason.
type DropReason int

const (
	_ DropReason = iota
	DropNotTerminated
	DropSentinelConnection
	DropTooShort
	DropMalformedUTF8
	DropOverheadExtension
	DropMalformedSHA1URN
	DropDuplicateLeaf
	DropThrottled
	DropHostileReturnAddress
	DropReturnAddressMismatch
)

func (r DropReason) String() string {
	switch r {
	case DropNotTerminated:
		return "query_string not NUL-terminated"
	case DropSentinelConnection:
		return "QTRAX2_CONNECTION sentinel"
	case DropTooShort:
		return "query too short to be useful"
	case DropMalformedUTF8:
		return "malformed UTF-8 after BOM strip"
	case DropOverheadExtension:
		return "GGEP Overhead extension present"
	case DropMalformedSHA1URN:
		return "malformed SHA-1 URN"
	case DropDuplicateLeaf:
		return "duplicate suppressed (leaf)"
	case DropThrottled:
		return "duplicate suppressed (relayer): Throttle"
	case DropHostileReturnAddress:
		return "OOB return address is hostile"
	case DropReturnAddressMismatch:
		return "OOB return address disagrees with neighbour's listening address"
	default:
		return "unknown drop reason"
	}
}

// DropError is returned by Respond when a query is refused outright
// rather than simply yielding zero hits.
type DropError struct{ Reason DropReason }

func (e DropError) Error() string { return "query: dropped: " + e.Reason.String() }

// sentinelConnectionQuery is the degenerate query text some legacy
// clients send as a connectivity probe; it is never worth matching.
const sentinelConnectionQuery = "QTRAX2_CONNECTION"

// RequestMeta carries everything about the inbound Query that the
// responder needs beyond the decoded Payload itself (§4.D).
type RequestMeta struct {
	Hops uint8
	TTL  uint8

	// NeighborAddr identifies the directly-connected peer that handed us
	// this packet -- the key for per-leaf duplicate suppression and for
	// validating any embedded OOB reply address.
	NeighborAddr netip.AddrPort
	// IsLeaf is true when NeighborAddr is one of our leaves (as opposed
	// to an ultrapeer we relay for).
	IsLeaf bool
	// IsImmediateNeighbor is true when NeighborAddr is a directly
	// connected peer (as opposed to hops away), required before the
	// listening-address-mismatch check applies.
	IsImmediateNeighbor bool
	// RequesterFirewalled is true when the handing-off leaf is known to
	// be firewalled; the OOB bit is then cleared even when the embedded
	// address is valid, unless the hostile or mismatch check drops the
	// query first.
	RequesterFirewalled bool

	Now time.Time
}

// Result is the outcome of successfully matching a query against the
// local index (§4.D).
type Result struct {
	Matches []localindex.Match
	// OOBCleared is true when the responder stripped the OOB-reply bit
	// from Payload.Flags because the embedded return address failed
	// validation; the caller must use the mutated Payload, not the
	// original wire bytes, when routing the query onward.
	OOBCleared bool
}

// Config bounds responder behavior (§4.D, §5).
type Config struct {
	MinWordLength   int
	MaxExtensions   int
	MaxReplies      int
	LeafDedupWindow time.Duration
	RelayerGenTTL   time.Duration

	// MaxTTL is max_ttl: the hops-vs-ttl threshold that decides whether
	// the 2-byte or the 5-byte minimum query length applies (§4.D).
	MaxTTL uint8
}

func DefaultConfig() Config {
	return Config{
		MinWordLength:   1,
		MaxExtensions:   8,
		MaxReplies:      255,
		LeafDedupWindow: 75 * time.Second,
		RelayerGenTTL:   90 * time.Second,
		MaxTTL:          7,
	}
}

// Minimum query text lengths: unconditionally 2 bytes, or 5 bytes once
// the query has travelled past the half-TTL point (§4.D).
const (
	minQueryLength         = 2
	minQueryLengthDeepHops = 5
)

// Responder implements QueryResponder: a pipeline of validators that
// either drop an inbound query outright or hand it to the local index
// for matching (§4.D, §9).
type Responder struct {
	cfg     Config
	index   localindex.Index
	hostile hostlist.Checker
	ourAddr netip.AddrPort

	mu       sync.Mutex
	leafSeen map[string]time.Time
	relayer  genCache
}

func NewResponder(cfg Config, index localindex.Index, hostile hostlist.Checker, ourAddr netip.AddrPort) *Responder {
	return &Responder{
		cfg:      cfg,
		index:    index,
		hostile:  hostile,
		ourAddr:  ourAddr,
		leafSeen: make(map[string]time.Time),
		relayer:  newGenCache(),
	}
}

// Respond runs the Query payload through the drop pipeline and, if it
// survives, matches it against the local index.
func (r *Responder) Respond(p *Payload, meta RequestMeta) (Result, error) {
	if reason, ok := r.validateShape(p, meta); !ok {
		return Result{}, DropError{Reason: reason}
	}

	oobCleared, dropReason, dropped := r.validateOOB(p, meta)
	if dropped {
		return Result{}, DropError{Reason: dropReason}
	}

	if reason, ok := r.checkDuplicate(p, meta); !ok {
		return Result{}, DropError{Reason: reason}
	}

	matches := r.match(p)
	return Result{Matches: matches, OOBCleared: oobCleared}, nil
}

// validateShape runs the structural/content validators that do not
// depend on dedup state: too-short, sentinel, malformed-UTF8 canonical
// form, Overhead extension presence, and malformed SHA-1 URN text.
func (r *Responder) validateShape(p *Payload, meta RequestMeta) (DropReason, bool) {
	if p.Text == sentinelConnectionQuery {
		return DropSentinelConnection, false
	}

	isURN := sha1urn.IsSHA1Query(p.Text) ||
		(len(p.Text) >= len("urn:sha1:") && p.Text[:len("urn:sha1:")] == "urn:sha1:")
	if isURN {
		if _, err := sha1urn.Parse(p.Text); err != nil {
			return DropMalformedSHA1URN, false
		}
	} else {
		threshold := minQueryLength
		if int(meta.Hops) > int(r.cfg.MaxTTL)/2 {
			threshold = minQueryLengthDeepHops
		}
		if len(p.Text) < threshold {
			return DropTooShort, false
		}
		if _, err := Canonicalize(p.Text, r.cfg.MinWordLength); err != nil {
			return DropMalformedUTF8, false
		}
	}

	for _, ext := range p.Extensions {
		if ext.Kind == ggep.KindOverhead {
			return DropOverheadExtension, false
		}
	}

	return 0, true
}

// validateOOB checks an OOB-flagged query's embedded reply address. A
// hostile address, or an immediate neighbour's listening address that
// disagrees with the embedded return address, drops the query outright.
// An invalid embedded address, or a firewalled leaf, instead clears the
// OOB-reply bit in place so downstream routing treats the query as a
// normal in-band request (§4.D).
func (r *Responder) validateOOB(p *Payload, meta RequestMeta) (cleared bool, reason DropReason, drop bool) {
	if !p.Flags.Has(FlagOOBReply) {
		return false, 0, false
	}

	addr := guid.DecodeOOB(p.MUID)
	valid := addr.IsValid() && !addr.Addr().IsUnspecified()

	if valid && r.hostile != nil && r.hostile.IsHostile(addr.Addr()) {
		return false, DropHostileReturnAddress, true
	}

	if valid && meta.IsImmediateNeighbor && meta.NeighborAddr.IsValid() &&
		addr.Addr() != meta.NeighborAddr.Addr() {
		return false, DropReturnAddressMismatch, true
	}

	if !valid || meta.RequesterFirewalled {
		p.Flags &^= FlagOOBReply
		return true, 0, false
	}

	return false, 0, false
}

// checkDuplicate applies per-leaf and per-relayer suppression. Leaves
// are tracked individually by address since each leaf's queries are
// independent; relayed traffic is deduplicated against a two-generation
// cache keyed on hops/ttl/text, since the relaying peer is not the
// query's origin and distinct hops/ttl combinations are distinct relay
// paths, not duplicates (§4.D, §5).
func (r *Responder) checkDuplicate(p *Payload, meta RequestMeta) (DropReason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if meta.IsLeaf && meta.NeighborAddr.IsValid() {
		key := meta.NeighborAddr.String() + "|" + p.Text
		if last, ok := r.leafSeen[key]; ok && meta.Now.Sub(last) < r.cfg.LeafDedupWindow {
			return DropDuplicateLeaf, false
		}
		r.leafSeen[key] = meta.Now
		if len(r.leafSeen) > 4096 {
			r.evictStaleLeafEntries(meta.Now)
		}
		return 0, true
	}

	key := relayerKey(meta.Hops, meta.TTL, p.Text)
	if r.relayer.contains(key) {
		return DropThrottled, false
	}
	r.relayer.put(key, meta.Now, r.cfg.RelayerGenTTL)
	return 0, true
}

// relayerKey builds the per-relayer dedup key "<hops>/<ttl><query>"
// (§4.D) -- distinct hops/ttl combinations of an otherwise identical
// query are treated as different relay paths, not duplicates, since the
// relaying peer (not the query's origin) is what's being throttled.
func relayerKey(hops, ttl uint8, text string) string {
	return strconv.Itoa(int(hops)) + "/" + strconv.Itoa(int(ttl)) + text
}

func (r *Responder) evictStaleLeafEntries(now time.Time) {
	for k, t := range r.leafSeen {
		if now.Sub(t) > r.cfg.LeafDedupWindow {
			delete(r.leafSeen, k)
		}
	}
}

// match looks the query up in the local index by SHA-1 when its text is
// a SHA-1 URN and by full text otherwise, deduplicates by file index, and
// caps the result set at MaxReplies (§4.D). SHA-1 URNs carried in the
// extension tail are not consulted, and a URN text that finds nothing
// does not fall back to a full-text search.
func (r *Responder) match(p *Payload) []localindex.Match {
	if r.index == nil {
		return nil
	}

	var raw []localindex.Match
	if sha1urn.IsSHA1Query(p.Text) {
		if sum, err := sha1urn.Parse(p.Text); err == nil {
			if m, ok := r.index.BySHA1(sum); ok {
				raw = append(raw, m)
			}
		}
	} else {
		canon, err := Canonicalize(p.Text, 1)
		if err != nil || canon == "" {
			return nil
		}
		raw = r.index.FullText(canon)
	}

	shown := lo.Filter(raw, func(m localindex.Match, _ int) bool {
		return !m.DontShow && !m.Ignored
	})
	deduped := lo.UniqBy(shown, func(m localindex.Match) uint32 { return m.FileIndex })
	if len(deduped) > r.cfg.MaxReplies {
		deduped = deduped[:r.cfg.MaxReplies]
	}
	return deduped
}

// genCache is a two-generation bounded duplicate cache: entries age out
// of "current" into "previous" on rotation rather than being swept
// individually, keeping lookups and inserts O(1) (§5).
type genCache struct {
	current   map[string]struct{}
	previous  map[string]struct{}
	rotatedAt time.Time
}

func newGenCache() genCache {
	return genCache{
		current:  make(map[string]struct{}),
		previous: make(map[string]struct{}),
	}
}

func (g *genCache) contains(key string) bool {
	if _, ok := g.current[key]; ok {
		return true
	}
	_, ok := g.previous[key]
	return ok
}

func (g *genCache) put(key string, now time.Time, genTTL time.Duration) {
	if g.rotatedAt.IsZero() {
		g.rotatedAt = now
	}
	if now.Sub(g.rotatedAt) > genTTL || len(g.current) > 16384 {
		g.previous = g.current
		g.current = make(map[string]struct{})
		g.rotatedAt = now
	}
	g.current[key] = struct{}{}
}
