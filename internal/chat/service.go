// Package chat composes the message store, conversation index and
// subscription hub into the public messaging API.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"chatcore/internal/hub"
	"chatcore/internal/index"
	"chatcore/internal/model"
	"chatcore/internal/store"
	"chatcore/internal/users"
)

type Service struct {
	store *store.Store
	index *index.Index
	hub   *hub.Hub
	users users.Directory
}

func New(st *store.Store, idx *index.Index, h *hub.Hub, dir users.Directory) *Service {
	return &Service{store: st, index: idx, hub: h, users: dir}
}

// SendMessage stores a message and updates both participants' conversation
// lists. Index updates are never applied if the append failed.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, text string) (model.Message, error) {
	msg, err := s.store.Append(ctx, senderID, recipientID, text, func(msg model.Message) error {
		return s.applyIndex(ctx, msg)
	})
	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return msg, err
		}
		return msg, &StageError{Stage: StageAppend, Err: err}
	}
	log.Printf("[chat] ✅ %s -> %s: message %s", senderID, recipientID, msg.ID)
	return msg, nil
}

// RepairMessage completes a message that SendMessage reported as a partial
// write and, once every view exists, applies the index updates SendMessage
// skipped. Only the original sender may repair it.
func (s *Service) RepairMessage(ctx context.Context, senderID, messageID string) (model.Message, error) {
	msg, err := s.store.Repair(ctx, senderID, messageID, func(msg model.Message) error {
		return s.applyIndex(ctx, msg)
	})
	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return msg, err
		}
		return msg, &StageError{Stage: StageAppend, Err: err}
	}
	return msg, nil
}

// applyIndex runs inside the pair's critical section.
func (s *Service) applyIndex(ctx context.Context, msg model.Message) error {
	for _, view := range msg.Views() {
		if _, err := s.index.Upsert(ctx, view.OwnerID, view.PeerID, msg); err != nil {
			return &StageError{Stage: StageIndex, Err: err}
		}
	}
	return nil
}

// GetConversationList returns ownerID's conversations, most recent first.
// Unknown owners get an empty list.
func (s *Service) GetConversationList(ctx context.Context, ownerID string) ([]model.ConversationEntry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, model.InvalidInput("owner is required")
	}
	return s.index.List(ctx, ownerID)
}

// GetConversationHistory returns ownerID's view of the conversation with
// peerID, oldest first, optionally limited to messages after since.
func (s *Service) GetConversationHistory(ctx context.Context, ownerID, peerID string, since *time.Time) ([]model.Message, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(peerID) == "" {
		return nil, model.InvalidInput("owner and peer are required")
	}
	messages := make([]model.Message, 0)
	for msg, err := range s.store.ListConversation(ctx, ownerID, peerID, since) {
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// StreamConversation returns the current history together with a live
// subscription. Subscribing and reading history happen under the pair's
// ordering token, so history followed by the live feed has no gap and no
// duplicate. A repaired view published later is still delivered even when it
// is older than the newest historical message.
func (s *Service) StreamConversation(ctx context.Context, ownerID, peerID string, handler hub.MessageHandler) ([]model.Message, *hub.Subscription, error) {
	if err := s.requireUser(ctx, ownerID); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(peerID) == "" {
		return nil, nil, model.InvalidInput("peer is required")
	}

	gate := &liveGate{next: handler, seen: make(map[string]struct{})}
	var history []model.Message
	var sub *hub.Subscription
	err := s.store.WithPairLock(ownerID, peerID, func() error {
		sub = s.hub.SubscribeConversation(ownerID, peerID, gate.deliver)
		h, err := s.GetConversationHistory(ctx, ownerID, peerID, nil)
		if err != nil {
			sub.Cancel()
			return err
		}
		gate.snapshot(h)
		history = h
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return history, sub, nil
}

// SubscribeConversationList delivers ownerID's conversation entry changes.
func (s *Service) SubscribeConversationList(ctx context.Context, ownerID string, handler hub.EntryHandler) (*hub.Subscription, error) {
	if err := s.requireUser(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.hub.SubscribeConversationList(ownerID, handler), nil
}

// GetUser returns a provisioned user or model.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.users.Get(ctx, id)
}

// ListUsers returns every user except exceptID, for starting new conversations.
func (s *Service) ListUsers(ctx context.Context, exceptID string) ([]model.User, error) {
	all, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(all))
	for _, u := range all {
		if u.ID != exceptID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) requireUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.InvalidInput("user is required")
	}
	_, err := s.users.Get(ctx, id)
	return err
}

// liveGate drops live messages already covered by the history snapshot. The
// cutoff is fixed at the newest historical timestamp; only messages at or
// before it that the snapshot actually holds are dropped.
type liveGate struct {
	mu     sync.Mutex
	cutoff time.Time
	seen   map[string]struct{}
	next   hub.MessageHandler
}

func (g *liveGate) snapshot(history []model.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, msg := range history {
		g.seen[msg.ID] = struct{}{}
	}
	if n := len(history); n > 0 {
		g.cutoff = history[n-1].CreatedAt
	}
}

func (g *liveGate) deliver(msg model.Message) error {
	g.mu.Lock()
	stale := false
	if !msg.CreatedAt.After(g.cutoff) {
		_, stale = g.seen[msg.ID]
	}
	g.mu.Unlock()
	if stale {
		return nil
	}
	return g.next(msg)
}
