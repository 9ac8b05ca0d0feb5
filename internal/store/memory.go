package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatcore/internal/model"
)

// MemoryRepository keeps views in process memory. Nothing survives a restart;
// it backs tests and STORE_BACKEND=memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	views map[model.View][]model.Message
	byID  map[string]map[string]model.Message // owner -> message id -> message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		views: make(map[model.View][]model.Message),
		byID:  make(map[string]map[string]model.Message),
	}
}

func (r *MemoryRepository) InsertView(_ context.Context, view model.View, msg model.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.byID[view.OwnerID]
	if existing, ok := owned[msg.ID]; ok {
		if messagesEqual(existing, msg) {
			return false, nil
		}
		return false, model.ErrMessageConflict
	}
	if owned == nil {
		owned = make(map[string]model.Message)
		r.byID[view.OwnerID] = owned
	}
	owned[msg.ID] = msg

	list := r.views[view]
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.After(msg.CreatedAt) })
	list = append(list, model.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	r.views[view] = list
	return true, nil
}

func (r *MemoryRepository) ListView(_ context.Context, view model.View, after time.Time, limit int) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.views[view]
	start := 0
	if !after.IsZero() {
		start = sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.After(after) })
	}
	list = list[start:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return append([]model.Message(nil), list...), nil
}

func (r *MemoryRepository) FindMessage(_ context.Context, messageID string) (model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, owned := range r.byID {
		if msg, ok := owned[messageID]; ok {
			return msg, nil
		}
	}
	return model.Message{}, model.ErrMessageNotFound
}

func (r *MemoryRepository) LatestTimestamp(_ context.Context, a, b string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest time.Time
	for _, v := range []model.View{{OwnerID: a, PeerID: b}, {OwnerID: b, PeerID: a}} {
		if list := r.views[v]; len(list) > 0 {
			if ts := list[len(list)-1].CreatedAt; ts.After(latest) {
				latest = ts
			}
		}
	}
	return latest, nil
}

func messagesEqual(a, b model.Message) bool {
	return a.ID == b.ID &&
		a.SenderID == b.SenderID &&
		a.RecipientID == b.RecipientID &&
		a.Text == b.Text &&
		a.CreatedAt.Equal(b.CreatedAt)
}
