// Package index maintains each user's conversation list: one entry per peer
// holding the latest message exchanged with that peer.
package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"chatcore/internal/metrics"
	"chatcore/internal/model"
	"chatcore/internal/retry"
	"chatcore/internal/users"
)

// Repository persists conversation entries.
type Repository interface {
	// Upsert replaces the (owner, peer) entry unless the stored one has a
	// newer timestamp. applied reports whether anything changed.
	Upsert(ctx context.Context, entry model.ConversationEntry) (applied bool, err error)
	List(ctx context.Context, ownerID string) ([]model.ConversationEntry, error)
}

// Publisher receives every applied entry change.
type Publisher interface {
	PublishEntry(entry model.ConversationEntry)
}

type Index struct {
	repo   Repository
	users  users.Directory
	pub    Publisher
	policy retry.Policy
}

func New(repo Repository, dir users.Directory, pub Publisher, policy retry.Policy) *Index {
	return &Index{repo: repo, users: dir, pub: pub, policy: policy}
}

// Upsert records msg as ownerID's latest message with peerID. The peer's
// display metadata is copied verbatim from the user directory.
func (x *Index) Upsert(ctx context.Context, ownerID, peerID string, msg model.Message) (model.ConversationEntry, error) {
	entry := model.ConversationEntry{
		OwnerID:   ownerID,
		PeerID:    peerID,
		SenderID:  msg.SenderID,
		MessageID: msg.ID,
		Text:      msg.Text,
		Timestamp: msg.CreatedAt,
	}

	peer, err := x.users.Get(ctx, peerID)
	switch {
	case err == nil:
		entry.PeerEmail = peer.Email
		entry.PeerUsername = peer.Username()
		entry.PeerProfileImageURL = peer.ProfileImageURL
	case errors.Is(err, model.ErrNotFound):
		// 表示情報なしでエントリは作成する
	default:
		return model.ConversationEntry{}, fmt.Errorf("lookup peer %s: %w", peerID, err)
	}

	var applied bool
	err = x.policy.Do(ctx, func() error {
		var err error
		applied, err = x.repo.Upsert(ctx, entry)
		return err
	}, func(err error) {
		log.Printf("[index] retrying entry %s -> %s: %v", ownerID, peerID, err)
	})
	if err != nil {
		metrics.IndexUpserts.WithLabelValues("failed").Inc()
		return model.ConversationEntry{}, fmt.Errorf("upsert entry %s -> %s: %w", ownerID, peerID, err)
	}
	if !applied {
		metrics.IndexUpserts.WithLabelValues("stale").Inc()
		return entry, nil
	}

	metrics.IndexUpserts.WithLabelValues("applied").Inc()
	x.pub.PublishEntry(entry)
	return entry, nil
}

// List returns ownerID's entries, most recent first. Entries sharing a
// timestamp are ordered by peer id.
func (x *Index) List(ctx context.Context, ownerID string) ([]model.ConversationEntry, error) {
	entries, err := x.repo.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", ownerID, err)
	}
	SortEntries(entries)
	return entries, nil
}

// SortEntries orders entries by timestamp descending, then peer id ascending.
func SortEntries(entries []model.ConversationEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].PeerID < entries[j].PeerID
	})
}
