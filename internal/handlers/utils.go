package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

func emailFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorResponse is the error payload for every failure status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MessageResponse is a simple confirmation payload.
type MessageResponse struct {
	Message string `json:"message"`
}
