package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrInvalidRequestBody is returned when a JSON body cannot be decoded.
var ErrInvalidRequestBody = errors.New("invalid request body")

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
