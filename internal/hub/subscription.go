package hub

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"chatcore/internal/metrics"
	"chatcore/internal/model"
)

// Kind distinguishes conversation subscriptions from conversation list ones.
type Kind string

const (
	KindConversation     Kind = "conversation"
	KindConversationList Kind = "conversation_list"
)

// Subscription is a live, cancellable delivery channel. Events are queued by
// the publisher and handed to the handler by a dedicated goroutine, one at a
// time and in queue order.
type Subscription struct {
	ID      uint64
	Kind    Kind
	OwnerID string
	PeerID  string

	hub       *Hub
	onMessage MessageHandler
	onEntry   EntryHandler
	queue     chan func() error
	quit      chan struct{}
	done      chan struct{}
	stop      sync.Once
	mu        sync.Mutex
	stopped   bool
	err       error
	failed    atomic.Bool
}

func newSubscription(h *Hub, id uint64, kind Kind, ownerID, peerID string, size int) *Subscription {
	return &Subscription{
		ID:      id,
		Kind:    kind,
		OwnerID: ownerID,
		PeerID:  peerID,
		hub:     h,
		queue:   make(chan func() error, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Cancel stops delivery and detaches the subscription from its hub. It is
// idempotent and safe to call from any goroutine, including the handler.
// Once Cancel returns no further handler call starts.
func (s *Subscription) Cancel() {
	s.shutdown(nil)
}

// Done is closed when the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended. It is nil while running and after
// a plain Cancel.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) shutdown(cause error) {
	s.stop.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.err = cause
		s.mu.Unlock()
		close(s.quit)
		s.hub.remove(s)
	})
}

// enqueue is called by the hub with its lock held, so events from one
// publisher arrive in publication order.
func (s *Subscription) enqueue(deliver func() error) {
	select {
	case <-s.quit:
		return
	default:
	}

	select {
	case s.queue <- deliver:
	default:
		// 受信側が詰まっている: 購読を切断する
		if !s.fail("queue full") {
			return
		}
		// remove needs the hub lock, which the caller holds.
		go s.shutdown(fmt.Errorf("%w: queue full", model.ErrDeliveryFailure))
	}
}

// fail records a delivery failure once per subscription. Later failures,
// such as further publishes to a full queue, report false.
func (s *Subscription) fail(reason string) bool {
	if !s.failed.CompareAndSwap(false, true) {
		return false
	}
	log.Printf("[hub] ❌ %s subscription %d for %s: %s", s.Kind, s.ID, s.OwnerID, reason)
	metrics.DeliveryFailures.WithLabelValues(string(s.Kind)).Inc()
	return true
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case deliver := <-s.queue:
			if !s.begin() {
				return
			}
			if err := s.invoke(deliver); err != nil {
				s.fail(err.Error())
				s.shutdown(fmt.Errorf("%w: %v", model.ErrDeliveryFailure, err))
				return
			}
			metrics.Deliveries.WithLabelValues(string(s.Kind)).Inc()
		}
	}
}

// begin reports whether a dispatch may start. Cancel flips stopped under the
// same lock, so a dispatch never starts after Cancel has returned.
func (s *Subscription) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

func (s *Subscription) invoke(deliver func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return deliver()
}
