package download

import "sync"

// Registry is the single authoritative map of every Download this
// servent currently knows about, keyed by its ID. It exists so the
// persistence layer (§4.L) has a real source of truth to snapshot at
// shutdown instead of reconstructing state from the server table's
// opaque id lists; grounded on the same mutex-guarded-map pattern
// search.Registry uses for its MUID-keyed sessions.
type Registry struct {
	mu        sync.Mutex
	downloads map[uint64]*Download
}

func NewRegistry() *Registry {
	return &Registry{downloads: make(map[uint64]*Download)}
}

// Add registers d, making it visible to Snapshot and All.
func (r *Registry) Add(d *Download) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads[d.ID] = d
}

// Remove drops a completed or abandoned download from the registry.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.downloads, id)
}

// All returns every tracked Download, in no particular order.
func (r *Registry) All() []*Download {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Download, 0, len(r.downloads))
	for _, d := range r.downloads {
		out = append(out, d)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.downloads)
}
