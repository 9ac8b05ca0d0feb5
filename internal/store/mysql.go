package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/model"
)

// MySQLRepository stores views in the message_views table. A view is
// acknowledged only once its INSERT has committed.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) InsertView(ctx context.Context, view model.View, msg model.Message) (bool, error) {
	// 主キー (owner_id, message_id) が重複した場合は何も更新しない
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO message_views (owner_id, peer_id, message_id, sender_id, recipient_id, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE message_id = message_id`,
		view.OwnerID, view.PeerID, msg.ID, msg.SenderID, msg.RecipientID, msg.Text, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert view %s: %w", view, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert view %s: %w", view, err)
	}
	if affected > 0 {
		return true, nil
	}

	var existing model.Message
	err = r.db.QueryRowContext(ctx, `
		SELECT message_id, sender_id, recipient_id, text, created_at
		FROM message_views WHERE owner_id = ? AND message_id = ?`,
		view.OwnerID, msg.ID,
	).Scan(&existing.ID, &existing.SenderID, &existing.RecipientID, &existing.Text, &existing.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("insert view %s: row vanished after duplicate key", view)
	}
	if err != nil {
		return false, fmt.Errorf("verify view %s: %w", view, err)
	}
	if !messagesEqual(existing, msg) {
		return false, model.ErrMessageConflict
	}
	return false, nil
}

func (r *MySQLRepository) ListView(ctx context.Context, view model.View, after time.Time, limit int) ([]model.Message, error) {
	query := `
		SELECT message_id, sender_id, recipient_id, text, created_at
		FROM message_views
		WHERE owner_id = ? AND peer_id = ?`
	args := []any{view.OwnerID, view.PeerID}
	if !after.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, after.UTC())
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list view %s: %w", view, err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MySQLRepository) FindMessage(ctx context.Context, messageID string) (model.Message, error) {
	var msg model.Message
	err := r.db.QueryRowContext(ctx, `
		SELECT message_id, sender_id, recipient_id, text, created_at
		FROM message_views WHERE message_id = ? LIMIT 1`,
		messageID,
	).Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Text, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, model.ErrMessageNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("find message %s: %w", messageID, err)
	}
	return msg, nil
}

func (r *MySQLRepository) LatestTimestamp(ctx context.Context, a, b string) (time.Time, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM message_views
		WHERE (owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)`,
		a, b, b, a,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest timestamp %s/%s: %w", a, b, err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}
