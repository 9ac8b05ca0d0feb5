package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatcore/internal/model"
)

var fast = Policy{Retries: 3, MaxInterval: time.Millisecond}

// TestDo_SucceedsAfterRetries 一時的なエラーはリトライされる
func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts, notified := 0, 0
	err := fast.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	}, func(error) { notified++ })

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if attempts != 3 || notified != 2 {
		t.Errorf("Expected 3 attempts and 2 notifications, got %d and %d", attempts, notified)
	}
}

// TestDo_GivesUp リトライ回数の上限
func TestDo_GivesUp(t *testing.T) {
	attempts := 0
	err := fast.Do(context.Background(), func() error {
		attempts++
		return errors.New("down")
	}, nil)

	if err == nil {
		t.Fatal("Expected an error")
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

// TestDo_PermanentErrors 入力エラーと競合はリトライしない
func TestDo_PermanentErrors(t *testing.T) {
	for _, want := range []error{model.InvalidInput("bad"), model.ErrMessageConflict} {
		attempts := 0
		err := fast.Do(context.Background(), func() error {
			attempts++
			return want
		}, nil)
		if !errors.Is(err, want) {
			t.Errorf("Expected %v, got %v", want, err)
		}
		if attempts != 1 {
			t.Errorf("Expected a single attempt for %v, got %d", want, attempts)
		}
	}
}

// TestDo_ContextCanceled キャンセル済みコンテキストでは打ち切る
func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Policy{Retries: 10, MaxInterval: time.Millisecond}.Do(ctx, func() error {
		attempts++
		return errors.New("down")
	}, nil)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if attempts > 1 {
		t.Errorf("Expected at most one attempt, got %d", attempts)
	}
}
