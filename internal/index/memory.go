package index

import (
	"context"
	"sync"

	"chatcore/internal/model"
)

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]map[string]model.ConversationEntry // owner -> peer -> entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]map[string]model.ConversationEntry)}
}

func (r *MemoryRepository) Upsert(_ context.Context, entry model.ConversationEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPeer := r.entries[entry.OwnerID]
	if byPeer == nil {
		byPeer = make(map[string]model.ConversationEntry)
		r.entries[entry.OwnerID] = byPeer
	}
	if current, ok := byPeer[entry.PeerID]; ok && !entry.Timestamp.After(current.Timestamp) {
		return false, nil
	}
	byPeer[entry.PeerID] = entry
	return true, nil
}

func (r *MemoryRepository) List(_ context.Context, ownerID string) ([]model.ConversationEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ConversationEntry, 0, len(r.entries[ownerID]))
	for _, e := range r.entries[ownerID] {
		out = append(out, e)
	}
	return out, nil
}
