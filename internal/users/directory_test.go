package users

import (
	"context"
	"errors"
	"testing"

	"chatcore/internal/model"
)

// TestMemoryDirectory 取得・一覧・未登録ユーザー
func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory(
		model.User{ID: "2", Email: "zoe@example.com"},
		model.User{ID: "1", Email: "adam@example.com"},
	)
	d.Put(model.User{ID: "3", Email: "mia@example.com"})
	ctx := context.Background()

	u, err := d.Get(ctx, "3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if u.Username() != "mia" {
		t.Errorf("Expected username 'mia', got %q", u.Username())
	}

	if _, err := d.Get(ctx, "404"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	list, _ := d.List(ctx)
	want := []string{"1", "3", "2"}
	if len(list) != len(want) {
		t.Fatalf("Expected %d users, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}
