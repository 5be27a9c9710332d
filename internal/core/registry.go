package core

import (
	"sort"
	"sync"
)

// Registry holds the participants seen in one session, keyed by identity.
// It is owned by a single orchestrator and shared by reference with its
// monitor; it is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]Participant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{participants: make(map[string]Participant)}
}

// Put records p, replacing any previous entry with the same identity.
func (r *Registry) Put(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.Identity] = p.Clone()
}

// PutAll records every participant in roster.
func (r *Registry) PutAll(roster []Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range roster {
		r.participants[p.Identity] = p.Clone()
	}
}

// Get returns the participant recorded under identity.
func (r *Registry) Get(identity string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[identity]
	if !ok {
		return Participant{}, false
	}
	return p.Clone(), true
}

// Remove forgets identity. Removing an unknown identity is a no-op.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, identity)
}

// Len returns the number of recorded participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Snapshot returns all recorded participants sorted by identity.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
