package server

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the authoritative set of connections eligible to receive
// broadcasts. Each member is paired with an identifier reserved for
// addressed delivery.
//
// Mutations are O(1) under a write lock; Snapshot copies the members under a
// read lock so that concurrent broadcasts never block each other and no lock
// is held while sending.
type Registry struct {
	mu    sync.RWMutex
	peers map[Peer]uuid.UUID
}

// idAssigner is implemented by peers that keep their own copy of the
// identifier. assignID runs under the registry lock, before the peer becomes
// visible to Snapshot.
type idAssigner interface {
	assignID(id uuid.UUID)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[Peer]uuid.UUID),
	}
}

// Register adds peer with a fresh identifier and returns it. Registering a
// peer that is already a member returns its existing identifier.
func (r *Registry) Register(peer Peer) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.peers[peer]; ok {
		return id
	}
	id := uuid.New()
	if s, ok := peer.(idAssigner); ok {
		s.assignID(id)
	}
	r.peers[peer] = id
	return id
}

// Unregister removes peer and reports whether it was a member. Removing an
// absent peer is a no-op.
func (r *Registry) Unregister(peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peer]; !ok {
		return false
	}
	delete(r.peers, peer)
	return true
}

// Snapshot returns the current members. The slice is owned by the caller.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.peers))
	for peer := range r.peers {
		peers = append(peers, peer)
	}
	return peers
}

// ID returns the identifier assigned to peer.
func (r *Registry) ID(peer Peer) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.peers[peer]
	return id, ok
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
