package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"chatcore/internal/metrics"
	"chatcore/internal/model"
)

const waitTimeout = 2 * time.Second

func message(i int) model.Message {
	return model.Message{
		ID:          fmt.Sprintf("m%d", i),
		SenderID:    "alice",
		RecipientID: "bob",
		Text:        fmt.Sprintf("text %d", i),
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, i*1000, time.UTC),
	}
}

var bobView = model.View{OwnerID: "bob", PeerID: "alice"}

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("subscription %d did not stop", sub.ID)
	}
}

// TestPublishMessage_InOrder 発行順に配信される
func TestPublishMessage_InOrder(t *testing.T) {
	h := New(16)
	defer h.Close()

	got := make(chan model.Message, 10)
	sub := h.SubscribeConversation("bob", "alice", func(msg model.Message) error {
		got <- msg
		return nil
	})
	defer sub.Cancel()

	for i := 0; i < 10; i++ {
		h.PublishMessage(bobView, message(i))
	}

	for i := 0; i < 10; i++ {
		select {
		case msg := <-got:
			if msg.ID != fmt.Sprintf("m%d", i) {
				t.Fatalf("Expected m%d, got %s", i, msg.ID)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("Timed out waiting for message %d", i)
		}
	}
}

// TestPublishMessage_OnlyMatchingView 他のビューには配信されない
func TestPublishMessage_OnlyMatchingView(t *testing.T) {
	h := New(16)
	defer h.Close()

	got := make(chan model.Message, 10)
	sub := h.SubscribeConversation("bob", "alice", func(msg model.Message) error {
		got <- msg
		return nil
	})
	defer sub.Cancel()

	h.PublishMessage(model.View{OwnerID: "alice", PeerID: "bob"}, message(1))
	h.PublishMessage(model.View{OwnerID: "bob", PeerID: "carol"}, message(2))
	h.PublishMessage(bobView, message(3))

	select {
	case msg := <-got:
		if msg.ID != "m3" {
			t.Errorf("Expected m3, got %s", msg.ID)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Timed out")
	}
	select {
	case msg := <-got:
		t.Errorf("Unexpected extra delivery: %s", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestSubscribe_NoReplay 購読前のメッセージは配信されない
func TestSubscribe_NoReplay(t *testing.T) {
	h := New(16)
	defer h.Close()

	h.PublishMessage(bobView, message(1))

	got := make(chan model.Message, 1)
	sub := h.SubscribeConversation("bob", "alice", func(msg model.Message) error {
		got <- msg
		return nil
	})
	defer sub.Cancel()

	select {
	case msg := <-got:
		t.Errorf("Expected no delivery, got %s", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestCancel_Idempotent 二重キャンセルしても問題ない
func TestCancel_Idempotent(t *testing.T) {
	h := New(16)
	defer h.Close()

	sub := h.SubscribeConversation("bob", "alice", func(model.Message) error { return nil })
	if h.Count() != 1 {
		t.Fatalf("Expected 1 subscription, got %d", h.Count())
	}

	sub.Cancel()
	sub.Cancel()
	h.Unsubscribe(sub)
	waitDone(t, sub)

	if h.Count() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", h.Count())
	}
	if sub.Err() != nil {
		t.Errorf("Plain cancel should leave no error, got %v", sub.Err())
	}
}

// TestCancel_StopsDelivery キャンセル後は配信されない
func TestCancel_StopsDelivery(t *testing.T) {
	h := New(16)
	defer h.Close()

	var mu sync.Mutex
	count := 0
	sub := h.SubscribeConversation("bob", "alice", func(model.Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	sub.Cancel()
	waitDone(t, sub)

	for i := 0; i < 5; i++ {
		h.PublishMessage(bobView, message(i))
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("Expected no deliveries after cancel, got %d", count)
	}
}

// TestCancel_FromHandler ハンドラ内からキャンセルできる
func TestCancel_FromHandler(t *testing.T) {
	h := New(16)
	defer h.Close()

	var sub *Subscription
	ready := make(chan struct{})
	calls := 0
	sub = h.SubscribeConversation("bob", "alice", func(model.Message) error {
		<-ready
		calls++
		sub.Cancel()
		return nil
	})
	close(ready)

	h.PublishMessage(bobView, message(1))
	h.PublishMessage(bobView, message(2))
	waitDone(t, sub)

	if calls != 1 {
		t.Errorf("Expected exactly one call, got %d", calls)
	}
	if h.Count() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", h.Count())
	}
}

// TestHandlerError_TearsDown ハンドラのエラーで購読が終了する
func TestHandlerError_TearsDown(t *testing.T) {
	h := New(16)
	defer h.Close()

	sub := h.SubscribeConversation("bob", "alice", func(model.Message) error {
		return errors.New("socket closed")
	})
	h.PublishMessage(bobView, message(1))
	waitDone(t, sub)

	if !errors.Is(sub.Err(), model.ErrDeliveryFailure) {
		t.Errorf("Expected ErrDeliveryFailure, got %v", sub.Err())
	}
	if h.Count() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", h.Count())
	}
}

// TestHandlerPanic_TearsDown パニックも配信失敗として扱う
func TestHandlerPanic_TearsDown(t *testing.T) {
	h := New(16)
	defer h.Close()

	sub := h.SubscribeConversationList("bob", func(model.ConversationEntry) error {
		panic("boom")
	})
	h.PublishEntry(model.ConversationEntry{OwnerID: "bob", PeerID: "alice"})
	waitDone(t, sub)

	if !errors.Is(sub.Err(), model.ErrDeliveryFailure) {
		t.Errorf("Expected ErrDeliveryFailure, got %v", sub.Err())
	}
}

// TestFailure_OtherSubscribersUnaffected 失敗した購読者以外は配信が続く
func TestFailure_OtherSubscribersUnaffected(t *testing.T) {
	h := New(16)
	defer h.Close()

	bad := h.SubscribeConversation("bob", "alice", func(model.Message) error {
		return errors.New("gone")
	})
	got := make(chan model.Message, 10)
	good := h.SubscribeConversation("bob", "alice", func(msg model.Message) error {
		got <- msg
		return nil
	})
	defer good.Cancel()

	h.PublishMessage(bobView, message(1))
	waitDone(t, bad)
	h.PublishMessage(bobView, message(2))

	for _, want := range []string{"m1", "m2"} {
		select {
		case msg := <-got:
			if msg.ID != want {
				t.Errorf("Expected %s, got %s", want, msg.ID)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
	if h.Count() != 1 {
		t.Errorf("Expected 1 subscription, got %d", h.Count())
	}
}

// TestQueueFull_TearsDown 詰まった購読者は切断される
func TestQueueFull_TearsDown(t *testing.T) {
	h := New(2)
	defer h.Close()

	block := make(chan struct{})
	defer close(block)
	sub := h.SubscribeConversation("bob", "alice", func(model.Message) error {
		<-block
		return nil
	})

	// 1件はハンドラ内、2件はキュー、残りで溢れる
	for i := 0; i < 6; i++ {
		h.PublishMessage(bobView, message(i))
	}

	waitStopped(t, sub)
	if !errors.Is(sub.Err(), model.ErrDeliveryFailure) {
		t.Errorf("Expected ErrDeliveryFailure, got %v", sub.Err())
	}
}

func deliveryFailures(t *testing.T, kind Kind) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.DeliveryFailures.WithLabelValues(string(kind)).Write(&m); err != nil {
		t.Fatalf("Failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestQueueFull_CountedOnce 溢れ続けても切断と失敗カウントは1回だけ
func TestQueueFull_CountedOnce(t *testing.T) {
	h := New(1)
	defer h.Close()

	before := deliveryFailures(t, KindConversation)

	block := make(chan struct{})
	defer close(block)
	sub := h.SubscribeConversation("bob", "alice", func(model.Message) error {
		<-block
		return nil
	})

	// 1件目がハンドラに入るまで待ってから溢れさせる
	h.PublishMessage(bobView, message(0))
	time.Sleep(20 * time.Millisecond)

	for i := 1; i < 50; i++ {
		h.PublishMessage(bobView, message(i))
	}
	waitStopped(t, sub)

	if got := deliveryFailures(t, KindConversation) - before; got != 1 {
		t.Errorf("Expected exactly 1 delivery failure, got %v", got)
	}
	deadline := time.After(waitTimeout)
	for h.Count() != 0 {
		select {
		case <-deadline:
			t.Fatalf("Expected subscription removed, got %d", h.Count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitStopped(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for sub.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("Expected the subscription to be torn down")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestPublishEntry_PerOwner 会話リストの購読はオーナー単位
func TestPublishEntry_PerOwner(t *testing.T) {
	h := New(16)
	defer h.Close()

	got := make(chan model.ConversationEntry, 4)
	sub := h.SubscribeConversationList("bob", func(e model.ConversationEntry) error {
		got <- e
		return nil
	})
	defer sub.Cancel()

	h.PublishEntry(model.ConversationEntry{OwnerID: "alice", PeerID: "bob", Text: "no"})
	h.PublishEntry(model.ConversationEntry{OwnerID: "bob", PeerID: "alice", Text: "yes"})

	select {
	case e := <-got:
		if e.Text != "yes" {
			t.Errorf("Expected bob's entry, got %+v", e)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Timed out")
	}
}

// TestClose_CancelsAll Closeで全購読が終了する
func TestClose_CancelsAll(t *testing.T) {
	h := New(16)
	subs := []*Subscription{
		h.SubscribeConversation("bob", "alice", func(model.Message) error { return nil }),
		h.SubscribeConversation("alice", "bob", func(model.Message) error { return nil }),
		h.SubscribeConversationList("bob", func(model.ConversationEntry) error { return nil }),
	}

	h.Close()
	for _, sub := range subs {
		waitDone(t, sub)
	}
	if h.Count() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", h.Count())
	}
}
