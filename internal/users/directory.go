// Package users provides read access to accounts provisioned by the
// external identity provider.
package users

import (
	"context"
	"sort"
	"sync"

	"chatcore/internal/model"
)

// Directory looks up provisioned users. Get returns model.ErrNotFound for
// unknown ids.
type Directory interface {
	Get(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// MemoryDirectory is an in-process Directory for tests and local development.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryDirectory(users ...model.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]model.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put provisions or replaces a user.
func (d *MemoryDirectory) Put(u model.User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]model.User, error) {
	d.mu.RLock()
	out := make([]model.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
