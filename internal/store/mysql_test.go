package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/model"
	"chatcore/internal/users"
)

func TestMain(m *testing.M) {
	// プロジェクトルートの.envを読み込み
	_ = godotenv.Load("../../.env")
	os.Exit(m.Run())
}

// setupTestDB テスト用データベース接続をセットアップ
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if os.Getenv("DB_HOST") == "" {
		t.Skip("Skipping: DB_HOST not set")
	}

	db, err := database.Init(config.Load())
	if err != nil {
		t.Skipf("Skipping: could not connect to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

// seedUsers テストごとに一意なユーザーを作成
func seedUsers(t *testing.T, db *sql.DB, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := "test-" + uuid.NewString()
		if _, err := db.Exec("INSERT INTO users (id, email, profile_image_url) VALUES (?, ?, '')", id, id+"@example.com"); err != nil {
			t.Fatalf("Failed to seed user: %v", err)
		}
		ids = append(ids, id)
	}
	t.Cleanup(func() {
		for _, id := range ids {
			db.Exec("DELETE FROM message_views WHERE owner_id = ?", id)
			db.Exec("DELETE FROM users WHERE id = ?", id)
		}
	})
	return ids
}

// TestMySQL_AppendAndList MySQL上での追記と履歴取得
func TestMySQL_AppendAndList(t *testing.T) {
	db := setupTestDB(t)
	ids := seedUsers(t, db, 2)
	a, b := ids[0], ids[1]

	s := New(NewMySQLRepository(db), users.NewMySQLDirectory(db), &recordingPublisher{})
	ctx := context.Background()

	var sent []model.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := s.Append(ctx, a, b, text, nil)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		sent = append(sent, msg)
	}

	got := collect(t, s, b, a, nil)
	if len(got) != len(sent) {
		t.Fatalf("Expected %d messages, got %d", len(sent), len(got))
	}
	for i := range sent {
		if got[i].ID != sent[i].ID || !got[i].CreatedAt.Equal(sent[i].CreatedAt) {
			t.Errorf("Position %d: expected %+v, got %+v", i, sent[i], got[i])
		}
	}

	since := sent[0].CreatedAt
	if got := collect(t, s, a, b, &since); len(got) != 2 {
		t.Errorf("Expected 2 messages after since, got %d", len(got))
	}
}

// TestMySQL_InsertViewIdempotent 同一メッセージの再挿入は無視、内容違いは競合
func TestMySQL_InsertViewIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ids := seedUsers(t, db, 2)
	repo := NewMySQLRepository(db)
	ctx := context.Background()

	msg := model.Message{
		ID:          uuid.NewString(),
		SenderID:    ids[0],
		RecipientID: ids[1],
		Text:        "hello",
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	view := model.View{OwnerID: ids[0], PeerID: ids[1]}

	inserted, err := repo.InsertView(ctx, view, msg)
	if err != nil || !inserted {
		t.Fatalf("Expected first insert to succeed, got %v, %v", inserted, err)
	}
	inserted, err = repo.InsertView(ctx, view, msg)
	if err != nil || inserted {
		t.Errorf("Expected idempotent re-insert, got %v, %v", inserted, err)
	}

	msg.Text = "changed"
	if _, err := repo.InsertView(ctx, view, msg); !errors.Is(err, model.ErrMessageConflict) {
		t.Errorf("Expected ErrMessageConflict, got %v", err)
	}

	latest, err := repo.LatestTimestamp(ctx, ids[1], ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(msg.CreatedAt) {
		t.Errorf("Expected latest %v, got %v", msg.CreatedAt, latest)
	}
}

// TestMySQL_FindMessage 片側のビューだけでもメッセージを復元できる
func TestMySQL_FindMessage(t *testing.T) {
	db := setupTestDB(t)
	ids := seedUsers(t, db, 2)
	repo := NewMySQLRepository(db)
	ctx := context.Background()

	msg := model.Message{
		ID:          uuid.NewString(),
		SenderID:    ids[0],
		RecipientID: ids[1],
		Text:        "half written",
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if _, err := repo.InsertView(ctx, model.View{OwnerID: ids[1], PeerID: ids[0]}, msg); err != nil {
		t.Fatal(err)
	}

	found, err := repo.FindMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Expected message, got %v", err)
	}
	if found.SenderID != msg.SenderID || found.Text != msg.Text || !found.CreatedAt.Equal(msg.CreatedAt) {
		t.Errorf("Expected %+v, got %+v", msg, found)
	}

	if _, err := repo.FindMessage(ctx, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
