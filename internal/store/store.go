// Package store is the durable, append-only message store. Every message is
// written twice, once under each participant's view, so both sides can read
// their own ordered history.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/metrics"
	"chatcore/internal/model"
	"chatcore/internal/retry"
	"chatcore/internal/users"
)

// pageSize is how many rows ListConversation fetches per round trip.
const pageSize = 200

// Publisher receives every view as soon as it is persisted.
type Publisher interface {
	PublishMessage(view model.View, msg model.Message)
}

// CommitFunc runs inside the pair's critical section after both views of a
// message are stored.
type CommitFunc func(msg model.Message) error

// pairState is the ordering token of one unordered user pair.
type pairState struct {
	mu     sync.Mutex
	loaded bool
	last   time.Time
}

// Store appends messages and serves per-view history.
type Store struct {
	repo   Repository
	users  users.Directory
	pub    Publisher
	policy retry.Policy
	now    func() time.Time

	mu      sync.Mutex
	pairs   map[string]*pairState
	pending map[string]model.Message // partially written, by message id
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy bounds the retries of each view write.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(repo Repository, dir users.Directory, pub Publisher, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		users:  dir,
		pub:    pub,
		policy: retry.DefaultPolicy,
		now:    time.Now,
		pairs:   make(map[string]*pairState),
		pending: make(map[string]model.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append creates a message from senderID to recipientID and stores it under
// both views. Its timestamp is strictly greater than any earlier message of
// the pair. onCommit, if set, runs before the pair's token is released and
// only when both views were stored.
func (s *Store) Append(ctx context.Context, senderID, recipientID, text string, onCommit CommitFunc) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, model.InvalidInput("text is required")
	}
	if err := s.checkParticipants(ctx, senderID, recipientID); err != nil {
		return model.Message{}, err
	}

	p := s.pair(senderID, recipientID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := s.loadLast(ctx, p, senderID, recipientID); err != nil {
		return model.Message{}, err
	}

	msg := model.Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
		CreatedAt:   p.next(s.now()),
	}

	var missing []model.View
	var lastErr error
	for _, view := range msg.Views() {
		if _, err := s.writeView(ctx, view, msg); err != nil {
			log.Printf("[store] ❌ view %s of message %s: %v", view, msg.ID, err)
			missing = append(missing, view)
			lastErr = err
			continue
		}
		s.pub.PublishMessage(view, msg)
	}
	// 片側でも保存された可能性があるので時刻は常に進める
	p.last = msg.CreatedAt

	if len(missing) > 0 {
		metrics.PartialWrites.Inc()
		s.remember(msg)
		return msg, &model.PartialWriteError{Message: msg, Missing: missing, Err: lastErr}
	}
	metrics.MessagesAppended.Inc()

	if onCommit != nil {
		if err := onCommit(msg); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// Repair completes a message that an earlier Append left partially written.
// Content and timestamp come from the store, never from the caller: either the
// pending record kept since the failed Append or a view that did persist.
// Only the sender may repair; any other caller gets model.ErrMessageNotFound.
// Views that already exist are left untouched, so Repair can be retried
// freely. onCommit runs once every view is stored.
func (s *Store) Repair(ctx context.Context, senderID, messageID string, onCommit CommitFunc) (model.Message, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(messageID) == "" {
		return model.Message{}, model.InvalidInput("sender and message id are required")
	}
	msg, err := s.lookup(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if msg.SenderID != senderID {
		return model.Message{}, model.ErrMessageNotFound
	}

	p := s.pair(msg.SenderID, msg.RecipientID)
	p.mu.Lock()
	defer p.mu.Unlock()

	var missing []model.View
	var lastErr error
	for _, view := range msg.Views() {
		inserted, err := s.writeView(ctx, view, msg)
		if err != nil {
			if errors.Is(err, model.ErrMessageConflict) {
				return msg, err
			}
			missing = append(missing, view)
			lastErr = err
			continue
		}
		if inserted {
			s.pub.PublishMessage(view, msg)
		}
	}
	if len(missing) > 0 {
		metrics.PartialWrites.Inc()
		return msg, &model.PartialWriteError{Message: msg, Missing: missing, Err: lastErr}
	}
	s.forget(msg.ID)
	log.Printf("[store] ✅ repaired message %s", msg.ID)

	if onCommit != nil {
		return msg, onCommit(msg)
	}
	return msg, nil
}

// ListConversation yields ownerID's view of the conversation with peerID,
// oldest first, restricted to messages strictly after since when it is
// non-nil. The sequence is lazy and can be ranged over more than once; each
// pass starts from since again.
func (s *Store) ListConversation(ctx context.Context, ownerID, peerID string, since *time.Time) iter.Seq2[model.Message, error] {
	view := model.View{OwnerID: ownerID, PeerID: peerID}
	return func(yield func(model.Message, error) bool) {
		var cursor time.Time
		if since != nil {
			cursor = *since
		}
		for {
			page, err := s.repo.ListView(ctx, view, cursor, pageSize)
			if err != nil {
				yield(model.Message{}, err)
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			cursor = page[len(page)-1].CreatedAt
		}
	}
}

// WithPairLock runs fn while holding the ordering token of the pair (a, b).
// No message of the pair is appended or published while fn runs.
func (s *Store) WithPairLock(a, b string, fn func() error) error {
	p := s.pair(a, b)
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn()
}

func (s *Store) writeView(ctx context.Context, view model.View, msg model.Message) (bool, error) {
	var inserted bool
	err := s.policy.Do(ctx, func() error {
		var err error
		inserted, err = s.repo.InsertView(ctx, view, msg)
		return err
	}, func(err error) {
		metrics.ViewWriteRetries.Inc()
		log.Printf("[store] retrying view %s of message %s: %v", view, msg.ID, err)
	})
	return inserted, err
}

func (s *Store) checkParticipants(ctx context.Context, senderID, recipientID string) error {
	if senderID == "" || recipientID == "" {
		return model.InvalidInput("sender and recipient are required")
	}
	if senderID == recipientID {
		return model.InvalidInput("sender and recipient must differ")
	}
	for _, id := range []string{senderID, recipientID} {
		if _, err := s.users.Get(ctx, id); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.InvalidInput("unknown user " + id)
			}
			return fmt.Errorf("lookup user %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) pair(a, b string) *pairState {
	key := pairKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[key]
	if !ok {
		p = &pairState{}
		s.pairs[key] = p
	}
	return p
}

// loadLast seeds the pair's clock from storage the first time the pair is
// written in this process. Called with p.mu held.
func (s *Store) loadLast(ctx context.Context, p *pairState, a, b string) error {
	if p.loaded {
		return nil
	}
	last, err := s.repo.LatestTimestamp(ctx, a, b)
	if err != nil {
		return err
	}
	if last.After(p.last) {
		p.last = last
	}
	p.loaded = true
	return nil
}

// next returns a microsecond-precision timestamp strictly after the last one.
func (p *pairState) next(now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(p.last) {
		ts = p.last.Add(time.Microsecond)
	}
	return ts
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// lookup finds a message by id, preferring the in-process pending record.
func (s *Store) lookup(ctx context.Context, messageID string) (model.Message, error) {
	s.mu.Lock()
	msg, ok := s.pending[messageID]
	s.mu.Unlock()
	if ok {
		return msg, nil
	}
	return s.repo.FindMessage(ctx, messageID)
}

// remember keeps a partially written message so it can be repaired even when
// neither view persisted. Records do not survive a restart.
func (s *Store) remember(msg model.Message) {
	s.mu.Lock()
	s.pending[msg.ID] = msg
	s.mu.Unlock()
}

func (s *Store) forget(messageID string) {
	s.mu.Lock()
	delete(s.pending, messageID)
	s.mu.Unlock()
}
