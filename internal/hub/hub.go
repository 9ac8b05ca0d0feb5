// Package hub fans out appended messages and conversation list changes to
// live subscribers.
package hub

import (
	"log"
	"sync"

	"chatcore/internal/metrics"
	"chatcore/internal/model"
)

// MessageHandler receives messages of one conversation view.
type MessageHandler func(model.Message) error

// EntryHandler receives conversation list changes of one owner.
type EntryHandler func(model.ConversationEntry) error

type viewKey struct {
	owner string
	peer  string
}

// Hub is an observer registry keyed by conversation view and by owner.
type Hub struct {
	queueSize int

	mu            sync.RWMutex
	nextID        uint64
	conversations map[viewKey]map[uint64]*Subscription
	lists         map[string]map[uint64]*Subscription
	active        int
}

// New creates a hub whose subscriptions buffer up to queueSize pending events.
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		queueSize:     queueSize,
		conversations: make(map[viewKey]map[uint64]*Subscription),
		lists:         make(map[string]map[uint64]*Subscription),
	}
}

// SubscribeConversation delivers every message appended to ownerID's view of
// the conversation with peerID from now on. History is not replayed.
func (h *Hub) SubscribeConversation(ownerID, peerID string, handler MessageHandler) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := newSubscription(h, h.nextID, KindConversation, ownerID, peerID, h.queueSize)
	sub.onMessage = handler
	key := viewKey{owner: ownerID, peer: peerID}
	set := h.conversations[key]
	if set == nil {
		set = make(map[uint64]*Subscription)
		h.conversations[key] = set
	}
	set[sub.ID] = sub
	h.active++
	h.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues(string(KindConversation)).Inc()
	log.Printf("[hub] subscription %d: %s -> %s", sub.ID, ownerID, peerID)
	go sub.run()
	return sub
}

// SubscribeConversationList delivers every insert or update of ownerID's
// conversation entries from now on.
func (h *Hub) SubscribeConversationList(ownerID string, handler EntryHandler) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := newSubscription(h, h.nextID, KindConversationList, ownerID, "", h.queueSize)
	sub.onEntry = handler
	set := h.lists[ownerID]
	if set == nil {
		set = make(map[uint64]*Subscription)
		h.lists[ownerID] = set
	}
	set[sub.ID] = sub
	h.active++
	h.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues(string(KindConversationList)).Inc()
	log.Printf("[hub] list subscription %d: %s", sub.ID, ownerID)
	go sub.run()
	return sub
}

// Unsubscribe is an alias for sub.Cancel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

// PublishMessage enqueues msg for every subscriber of view. Enqueueing is
// synchronous; delivery happens on each subscription's goroutine.
func (h *Hub) PublishMessage(view model.View, msg model.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.conversations[viewKey{owner: view.OwnerID, peer: view.PeerID}] {
		handler := sub.onMessage
		sub.enqueue(func() error { return handler(msg) })
	}
}

// PublishEntry enqueues entry for every list subscriber of its owner.
func (h *Hub) PublishEntry(entry model.ConversationEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.lists[entry.OwnerID] {
		handler := sub.onEntry
		sub.enqueue(func() error { return handler(entry) })
	}
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, h.active)
	for _, set := range h.conversations {
		for _, sub := range set {
			subs = append(subs, sub)
		}
	}
	for _, set := range h.lists {
		for _, sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch sub.Kind {
	case KindConversation:
		key := viewKey{owner: sub.OwnerID, peer: sub.PeerID}
		set := h.conversations[key]
		if _, ok := set[sub.ID]; !ok {
			return
		}
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(h.conversations, key)
		}
	case KindConversationList:
		set := h.lists[sub.OwnerID]
		if _, ok := set[sub.ID]; !ok {
			return
		}
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(h.lists, sub.OwnerID)
		}
	}
	h.active--
	metrics.ActiveSubscriptions.WithLabelValues(string(sub.Kind)).Dec()
	log.Printf("[hub] subscription %d closed. Remaining: %d", sub.ID, h.active)
}
