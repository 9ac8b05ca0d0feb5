package handler

import (
	"context"
	"log"
	"net/http"
	"time"
)

// GetConversationList handles GET /conversations
func (h *Handler) GetConversationList(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /conversations] Request received from %s", r.RemoteAddr)

	ownerID := callerID(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	entries, err := h.Chat.GetConversationList(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, "GET /conversations", err)
		return
	}

	log.Printf("[GET /conversations] ✅ Returned %d conversations", len(entries))
	writeJSON(w, http.StatusOK, entries)
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ownerID := callerID(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	list, err := h.Chat.ListUsers(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, "GET /users", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCurrentUser handles GET /users/me
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	ownerID := callerID(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	user, err := h.Chat.GetUser(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, "GET /users/me", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			log.Printf("[GET /healthz] ❌ Database error: %v", err)
			writeError(w, http.StatusServiceUnavailable, "Database error")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
