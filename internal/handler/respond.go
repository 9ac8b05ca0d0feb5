package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"chatcore/internal/model"
)

// callerID returns the user id supplied by the identity provider. Browsers
// cannot set headers on WebSocket upgrades, so the query string is accepted
// as a fallback.
func callerID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, route string, err error) {
	var partial *model.PartialWriteError
	switch {
	case errors.As(err, &partial):
		log.Printf("[%s] ❌ Partial write: %v", route, err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":         "message was not stored for every participant",
			"message":       partial.Message,
			"missing_views": partial.Missing,
		})
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrMessageConflict):
		log.Printf("[%s] ❌ Bad Request: %v", route, err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrMessageNotFound):
		log.Printf("[%s] ❌ Not Found: %v", route, err)
		writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, model.ErrNotFound):
		log.Printf("[%s] ❌ Not Found: %v", route, err)
		writeError(w, http.StatusNotFound, "User not found")
	default:
		log.Printf("[%s] ❌ Internal error: %v", route, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
