// Package server implements ServerTable: the identity, indexing, and
// two-phase reclamation of remote DownloadServer records (§3, §4.G).
package server

import (
	"hash/fnv"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/gnutella-core/servent/pkg/guid"
)

// DHashSize is the bucket count for the by_time index (§4.G).
const DHashSize = 1024

// DownloadServerHold is the floor enforced on retry_after after any
// update (§4.G).
const DownloadServerHold = 15 * time.Second

// Key identifies a server by (GUID, addr, port), the by_host primary key
// (§4.G).
type Key struct {
	GUID guid.GUID
	Addr netip.Addr
	Port uint16
}

// DownloadList is one of a Server's two download-reference lists
// (Waiting/Running); it is opaque to this package beyond length
// and membership, since Download itself lives in package download.
type DownloadList struct {
	ids map[uint64]struct{}
}

func newDownloadList() DownloadList { return DownloadList{ids: make(map[uint64]struct{})} }

func (d *DownloadList) Add(id uint64)    { d.ids[id] = struct{}{} }
func (d *DownloadList) Remove(id uint64) { delete(d.ids, id) }
func (d *DownloadList) Len() int         { return len(d.ids) }
func (d *DownloadList) Has(id uint64) bool {
	_, ok := d.ids[id]
	return ok
}
func (d *DownloadList) IDs() []uint64 {
	out := make([]uint64, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	return out
}

// Server is one remote peer's DownloadServer record (§3).
type Server struct {
	Key Key

	RetryAfter time.Time
	Removed    bool
	RefCount   int

	Waiting DownloadList
	Running DownloadList

	// Attributes observed from prior exchanges with this peer (§3).
	PushIgnored bool
	AlwaysPush  bool
	Banning     bool
	NoHTTP11    bool
	Hostname    string

	PushProxies []netip.AddrPort
	Retries     int

	bucket int
}

func newServer(key Key) *Server {
	return &Server{Key: key, Waiting: newDownloadList(), Running: newDownloadList()}
}

func (s *Server) addrValid() bool {
	return s.Key.Addr.IsValid() && !s.Key.Addr.IsUnspecified() && s.Key.Port != 0
}

// Table indexes Servers by host, by addr, and bucketed by retry_after
// (§4.G).
type Table struct {
	mu sync.Mutex

	byHost map[Key]*Server
	byAddr map[netip.AddrPort]*Server

	buckets     [DHashSize][]*Server
	bucketGen   [DHashSize]uint64
	removedList []*Server

	now func() time.Time
}

func NewTable() *Table {
	return &Table{
		byHost: make(map[Key]*Server),
		byAddr: make(map[netip.AddrPort]*Server),
		now:    time.Now,
	}
}

func bucketFor(t time.Time) int {
	h := fnv.New64a()
	var buf [8]byte
	ts := t.UnixNano()
	for i := 0; i < 8; i++ {
		buf[i] = byte(ts >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum64() % DHashSize)
}

// GetOrCreate looks up a server by its primary key, creating and
// indexing a fresh one (with retry_after floored at now+hold) if absent.
// If a prior server with this key was two-phase-deleted, this undeletes
// it instead of creating a duplicate (§4.G).
func (t *Table) GetOrCreate(key Key) *Server {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.byHost[key]; ok {
		if s.Removed {
			s.Removed = false
			t.removeFromRemovedList(s)
		}
		return s
	}

	s := newServer(key)
	t.insertLocked(s)
	return s
}

func (t *Table) insertLocked(s *Server) {
	t.byHost[s.Key] = s
	if s.addrValid() {
		ap := netip.AddrPortFrom(s.Key.Addr, s.Key.Port)
		// Newest server owns the by_addr key; the displaced server stays
		// reachable only via by_host.
		t.byAddr[ap] = s
	}
	t.setRetryAfterLocked(s, t.now().Add(DownloadServerHold))
}

// SetRetryAfter updates a server's retry_after, enforcing the
// DownloadServerHold floor and re-bucketing it in by_time (§4.G).
func (t *Table) SetRetryAfter(s *Server, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRetryAfterLocked(s, when)
}

func (t *Table) setRetryAfterLocked(s *Server, when time.Time) {
	floor := t.now().Add(DownloadServerHold)
	if when.Before(floor) {
		when = floor
	}

	t.removeFromBucketLocked(s)
	s.RetryAfter = when
	s.bucket = bucketFor(when)
	t.buckets[s.bucket] = append(t.buckets[s.bucket], s)
	sort.Slice(t.buckets[s.bucket], func(i, j int) bool {
		return t.buckets[s.bucket][i].RetryAfter.Before(t.buckets[s.bucket][j].RetryAfter)
	})
	t.bucketGen[s.bucket]++
}

func (t *Table) removeFromBucketLocked(s *Server) {
	b := t.buckets[s.bucket]
	for i, cand := range b {
		if cand == s {
			t.buckets[s.bucket] = append(b[:i], b[i+1:]...)
			t.bucketGen[s.bucket]++
			break
		}
	}
}

// BucketSnapshot returns bucket i's servers and its current generation
// counter, for change-during-iteration detection (§4.G).
func (t *Table) BucketSnapshot(i int) ([]*Server, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Server, len(t.buckets[i]))
	copy(out, t.buckets[i])
	return out, t.bucketGen[i]
}

// BucketGeneration reports bucket i's current mutation counter.
func (t *Table) BucketGeneration(i int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bucketGen[i]
}

// ByAddr looks up the current owner of an (addr,port), if any (§4.G).
func (t *Table) ByAddr(ap netip.AddrPort) (*Server, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byAddr[ap]
	return s, ok
}

// ChangeAddr reassigns s's address, reparenting any displaced duplicate
// server's downloads onto s and delay-reclaiming the duplicate (§4.G).
func (t *Table) ChangeAddr(s *Server, newAddr netip.Addr, newPort uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldKey := s.Key
	delete(t.byHost, oldKey)
	if s.addrValid() {
		oldAP := netip.AddrPortFrom(s.Key.Addr, s.Key.Port)
		if t.byAddr[oldAP] == s {
			delete(t.byAddr, oldAP)
		}
	}

	s.Key.Addr = newAddr
	s.Key.Port = newPort
	t.byHost[s.Key] = s

	var dup *Server
	for _, cand := range t.byHost {
		if cand == s {
			continue
		}
		sameGUIDAddr := cand.Key.GUID == s.Key.GUID && cand.Key.Addr == newAddr && cand.Key.Port == newPort
		sameAddr := cand.Key.Addr == newAddr && cand.Key.Port == newPort
		if sameGUIDAddr || sameAddr {
			dup = cand
			break
		}
	}

	if s.addrValid() {
		t.byAddr[netip.AddrPortFrom(newAddr, newPort)] = s
	}

	if dup == nil {
		return
	}

	// GUID precedence: a non-blank GUID wins over a blank one; between
	// two distinct non-blank GUIDs, the current server keeps its own and
	// the conflict is left for the caller to log.
	if s.Key.GUID.IsBlank() && !dup.Key.GUID.IsBlank() {
		s.Key.GUID = dup.Key.GUID
		delete(t.byHost, oldKeyForServer(s))
		t.byHost[s.Key] = s
	}

	for _, id := range dup.Waiting.IDs() {
		s.Waiting.Add(id)
	}
	for _, id := range dup.Running.IDs() {
		s.Running.Add(id)
	}
	dup.Waiting = newDownloadList()
	dup.Running = newDownloadList()

	t.deleteLocked(dup)
}

func oldKeyForServer(s *Server) Key { return s.Key }

// Delete marks s removed and queues it onto the removed list; the actual
// free only happens once it has zero downloads in every list and a zero
// refcount (§4.G).
func (t *Table) Delete(s *Server) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteLocked(s)
}

func (t *Table) deleteLocked(s *Server) {
	if s.Removed {
		return
	}
	s.Removed = true
	t.removedList = append(t.removedList, s)
}

// Reclaim sweeps the removed list, freeing any server with zero
// downloads across waiting/running and a zero refcount (§4.G).
func (t *Table) Reclaim() {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.removedList[:0]
	for _, s := range t.removedList {
		if s.RefCount == 0 && s.Waiting.Len() == 0 && s.Running.Len() == 0 {
			delete(t.byHost, s.Key)
			if s.addrValid() {
				ap := netip.AddrPortFrom(s.Key.Addr, s.Key.Port)
				if t.byAddr[ap] == s {
					delete(t.byAddr, ap)
				}
			}
			t.removeFromBucketLocked(s)
			continue
		}
		kept = append(kept, s)
	}
	t.removedList = kept
}

func (t *Table) removeFromRemovedList(s *Server) {
	for i, cand := range t.removedList {
		if cand == s {
			t.removedList = append(t.removedList[:i], t.removedList[i+1:]...)
			return
		}
	}
}
