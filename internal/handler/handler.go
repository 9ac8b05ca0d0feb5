package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatcore/internal/chat"
	"chatcore/internal/config"
	"chatcore/internal/ratelimit"
)

// Pinger reports backend health. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds application dependencies
type Handler struct {
	Chat     *chat.Service
	Config   config.Config
	Limiter  *ratelimit.SenderLimiter
	DB       Pinger
	validate *validator.Validate
}

// New creates a new Handler with the given dependencies. db may be nil when
// running on the in-memory backend.
func New(svc *chat.Service, cfg config.Config, db Pinger) *Handler {
	return &Handler{
		Chat:     svc,
		Config:   cfg,
		Limiter:  ratelimit.New(cfg.SendRateRPS, cfg.SendRateBurst, 0),
		DB:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	// REST API
	r.HandleFunc("/messages", h.SendMessage).Methods("POST")
	r.HandleFunc("/messages/repair", h.RepairMessage).Methods("POST")
	r.HandleFunc("/conversations", h.GetConversationList).Methods("GET")
	r.HandleFunc("/conversations/{peerId}/messages", h.GetConversationHistory).Methods("GET")
	r.HandleFunc("/users", h.ListUsers).Methods("GET")
	r.HandleFunc("/users/me", h.GetCurrentUser).Methods("GET")

	// WebSocket
	r.HandleFunc("/ws/conversations", h.HandleConversationListSocket).Methods("GET")
	r.HandleFunc("/ws/conversations/{peerId}", h.HandleConversationSocket).Methods("GET")

	// 運用
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	return r
}
