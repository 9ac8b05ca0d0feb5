package index

import (
	"context"
	"database/sql"
	"fmt"

	"chatcore/internal/model"
)

// MySQLRepository stores entries in the conversation_entries table.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Upsert(ctx context.Context, e model.ConversationEntry) (bool, error) {
	// ts は最後に更新する。MySQL は左から順に代入するため、先に ts を書き換えると比較が壊れる
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_entries
			(owner_id, peer_id, sender_id, message_id, text, ts, peer_email, peer_profile_image_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			sender_id = IF(VALUES(ts) > ts, VALUES(sender_id), sender_id),
			message_id = IF(VALUES(ts) > ts, VALUES(message_id), message_id),
			text = IF(VALUES(ts) > ts, VALUES(text), text),
			peer_email = IF(VALUES(ts) > ts, VALUES(peer_email), peer_email),
			peer_profile_image_url = IF(VALUES(ts) > ts, VALUES(peer_profile_image_url), peer_profile_image_url),
			ts = GREATEST(ts, VALUES(ts))`,
		e.OwnerID, e.PeerID, e.SenderID, e.MessageID, e.Text, e.Timestamp.UTC(), e.PeerEmail, e.PeerProfileImageURL,
	)
	if err != nil {
		return false, err
	}
	// 1: 挿入, 2: 更新, 0: 変更なし
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLRepository) List(ctx context.Context, ownerID string) ([]model.ConversationEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner_id, peer_id, sender_id, message_id, text, ts, peer_email, peer_profile_image_url
		FROM conversation_entries
		WHERE owner_id = ?
		ORDER BY ts DESC, peer_id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.ConversationEntry, 0)
	for rows.Next() {
		var e model.ConversationEntry
		if err := rows.Scan(&e.OwnerID, &e.PeerID, &e.SenderID, &e.MessageID, &e.Text, &e.Timestamp, &e.PeerEmail, &e.PeerProfileImageURL); err != nil {
			return nil, err
		}
		e.PeerUsername = model.User{Email: e.PeerEmail}.Username()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
