package handler

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatcore/internal/metrics"
)

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Text        string `json:"text" validate:"required"`
}

type repairMessageRequest struct {
	MessageID string `json:"message_id" validate:"required,uuid4"`
}

// SendMessage handles POST /messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /messages] Request received from %s", r.RemoteAddr)

	senderID := callerID(r)
	if senderID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	// リクエストボディサイズを制限
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[POST /messages] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Printf("[POST /messages] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "recipient_id and text are required")
		return
	}

	if !h.allowSend(w, "POST /messages", senderID) {
		return
	}

	msg, err := h.Chat.SendMessage(r.Context(), senderID, req.RecipientID, req.Text)
	if err != nil {
		writeServiceError(w, "POST /messages", err)
		return
	}

	log.Printf("[POST /messages] ✅ Created message: ID=%s, %s -> %s", msg.ID, msg.SenderID, msg.RecipientID)
	writeJSON(w, http.StatusCreated, msg)
}

// RepairMessage handles POST /messages/repair. It completes a message that a
// previous send reported as a partial write. Only the message id is taken from
// the client; content and timestamp come from the server's own records.
func (h *Handler) RepairMessage(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /messages/repair] Request received from %s", r.RemoteAddr)

	senderID := callerID(r)
	if senderID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)

	var req repairMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[POST /messages/repair] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "message_id must be a UUID")
		return
	}

	if !h.allowSend(w, "POST /messages/repair", senderID) {
		return
	}

	msg, err := h.Chat.RepairMessage(r.Context(), senderID, req.MessageID)
	if err != nil {
		writeServiceError(w, "POST /messages/repair", err)
		return
	}

	log.Printf("[POST /messages/repair] ✅ Repaired message: ID=%s", msg.ID)
	writeJSON(w, http.StatusOK, msg)
}

// allowSend applies the sender's rate limit and writes the 429 response.
func (h *Handler) allowSend(w http.ResponseWriter, route, senderID string) bool {
	ok, retryAfter := h.Limiter.Allow(senderID, time.Now())
	if ok {
		return true
	}
	metrics.RateLimited.Inc()
	log.Printf("[%s] ❌ Rate limited: %s", route, senderID)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// GetConversationHistory handles GET /conversations/{peerId}/messages
func (h *Handler) GetConversationHistory(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["peerId"]
	route := "GET /conversations/" + peerID + "/messages"
	log.Printf("[%s] Request received from %s", route, r.RemoteAddr)

	ownerID := callerID(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			log.Printf("[%s] ❌ Bad Request: %v", route, err)
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &ts
	}

	messages, err := h.Chat.GetConversationHistory(r.Context(), ownerID, peerID, since)
	if err != nil {
		writeServiceError(w, route, err)
		return
	}

	log.Printf("[%s] ✅ Returned %d messages", route, len(messages))
	writeJSON(w, http.StatusOK, messages)
}
