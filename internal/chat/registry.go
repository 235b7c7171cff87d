package chat

import (
	"sort"
	"sync"
	"time"
)

// Member is a copied-out registry entry.
type Member struct {
	Peer     *Peer
	Name     string
	JoinedAt time.Time
}

type entry struct {
	name     string
	joinedAt time.Time
	seq      uint64
}

// Registry maps live peers to display names. Every method takes the same
// lock and none of them performs network I/O while holding it.
type Registry struct {
	mu      sync.Mutex
	members map[*Peer]entry
	seq     uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[*Peer]entry),
	}
}

// Join inserts p under name. Duplicate names are allowed; joining an already
// registered peer renames it in place.
func (r *Registry) Join(p *Peer, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.members[p]; ok {
		existing.name = name
		r.members[p] = existing
		return
	}
	r.seq++
	r.members[p] = entry{name: name, joinedAt: time.Now(), seq: r.seq}
}

// Leave removes p and returns the name it was registered under. The second
// call for the same peer reports false.
func (r *Registry) Leave(p *Peer) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.members[p]
	if !ok {
		return "", false
	}
	delete(r.members, p)
	return existing.name, true
}

// FindByName returns the earliest-joined peer with the given name.
func (r *Registry) FindByName(name string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		found   *Peer
		bestSeq uint64
	)
	for p, e := range r.members {
		if e.name != name {
			continue
		}
		if found == nil || e.seq < bestSeq {
			found, bestSeq = p, e.seq
		}
	}
	return found, found != nil
}

// Snapshot copies all entries out in join order.
func (r *Registry) Snapshot() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// Clear empties the registry and returns what it held.
func (r *Registry) Clear() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.snapshotLocked()
	r.members = make(map[*Peer]entry)
	return members
}

// Len returns the number of joined members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Registry) snapshotLocked() []Member {
	type ordered struct {
		Member
		seq uint64
	}
	items := make([]ordered, 0, len(r.members))
	for p, e := range r.members {
		items = append(items, ordered{Member{Peer: p, Name: e.name, JoinedAt: e.joinedAt}, e.seq})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	members := make([]Member, len(items))
	for i, it := range items {
		members[i] = it.Member
	}
	return members
}
