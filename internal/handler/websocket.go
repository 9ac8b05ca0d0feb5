package handler

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"chatcore/internal/hub"
	"chatcore/internal/model"
)

const pingPeriod = 30 * time.Second

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedMap[origin]
		},
	}
}

// socket serializes writes to one WebSocket connection. gorilla/websocket
// allows a single concurrent writer only.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       chan struct{}
}

func newSocket(conn *websocket.Conn, writeTimeout time.Duration) *socket {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &socket{conn: conn, writeTimeout: writeTimeout, closed: make(chan struct{})}
}

func (s *socket) writeEvent(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// keepalive pings the client until the socket closes.
func (s *socket) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.close()
				return
			}
		}
	}
}

// serve blocks reading client frames (keep-alive only) until the connection
// drops, then cancels the subscription. A subscription torn down by a
// delivery failure closes the socket.
func (s *socket) serve(route string, sub *hub.Subscription) {
	go s.keepalive()
	go func() {
		select {
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				s.writeEvent(model.Event{Type: model.EventError, Error: err.Error()})
			}
			s.close()
		case <-s.closed:
		}
	}()

	// クライアントからのメッセージを受信（キープアライブ用）
	for {
		var msg interface{}
		if err := s.conn.ReadJSON(&msg); err != nil {
			break
		}
	}
	sub.Cancel()
	s.close()
	log.Printf("[%s] Client disconnected", route)
}

// HandleConversationSocket handles GET /ws/conversations/{peerId}. The first
// frame carries the history, every later frame one new message.
func (h *Handler) HandleConversationSocket(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["peerId"]
	route := "WS /ws/conversations/" + peerID

	ownerID := callerID(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[%s] WebSocket upgrade error: %v", route, err)
		return
	}
	s := newSocket(conn, h.Config.WSWriteTimeout)

	// 履歴を送るまでライブ配信はここに溜める
	live := &liveBacklog{socket: s}
	history, sub, err := h.Chat.StreamConversation(r.Context(), ownerID, peerID, live.deliver)
	if err != nil {
		log.Printf("[%s] ❌ Subscribe failed: %v", route, err)
		s.writeEvent(model.Event{Type: model.EventError, Error: err.Error()})
		s.close()
		return
	}

	if err := s.writeEvent(model.Event{Type: model.EventHistory, Messages: history}); err != nil {
		log.Printf("[%s] ❌ History write failed: %v", route, err)
		sub.Cancel()
		s.close()
		return
	}
	if err := live.release(); err != nil {
		log.Printf("[%s] ❌ Live write failed: %v", route, err)
		sub.Cancel()
		s.close()
		return
	}

	log.Printf("[%s] New WebSocket subscription for %s (%d history messages)", route, ownerID, len(history))
	s.serve(route, sub)
}

// liveBacklog holds live messages that arrive while the history frame is
// being written. Holding them here instead of blocking the subscription keeps
// the hub queue drained, so a slow history write never overflows it.
type liveBacklog struct {
	socket *socket
	mu     sync.Mutex
	ready  bool
	held   []model.Message
}

func (b *liveBacklog) deliver(msg model.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		b.held = append(b.held, msg)
		return nil
	}
	return b.socket.writeEvent(model.Event{Type: model.EventMessage, Message: &msg})
}

// release writes the held messages in arrival order and switches to direct
// delivery.
func (b *liveBacklog) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.held {
		if err := b.socket.writeEvent(model.Event{Type: model.EventMessage, Message: &b.held[i]}); err != nil {
			return err
		}
	}
	b.held = nil
	b.ready = true
	return nil
}

// HandleConversationListSocket handles GET /ws/conversations. Every frame
// carries one inserted or updated conversation entry.
func (h *Handler) HandleConversationListSocket(w http.ResponseWriter, r *http.Request) {
	const route = "WS /ws/conversations"

	ownerID := callerID(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[%s] WebSocket upgrade error: %v", route, err)
		return
	}
	s := newSocket(conn, h.Config.WSWriteTimeout)

	sub, err := h.Chat.SubscribeConversationList(r.Context(), ownerID, func(entry model.ConversationEntry) error {
		return s.writeEvent(model.Event{Type: model.EventConversation, Entry: &entry})
	})
	if err != nil {
		log.Printf("[%s] ❌ Subscribe failed: %v", route, err)
		s.writeEvent(model.Event{Type: model.EventError, Error: err.Error()})
		s.close()
		return
	}

	log.Printf("[%s] New WebSocket subscription for %s", route, ownerID)
	s.serve(route, sub)
}
