// Package httputil writes JSON responses with a consistent error envelope.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// WriteJSON encodes v with the given status. Encoding failures after the
// header is written cannot be reported to the client and are dropped.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes body with status. Server errors never leak their
// description or suggestions.
func WriteError(w http.ResponseWriter, status int, body ErrorResponse) {
	if status >= http.StatusInternalServerError {
		body.Description = ""
		body.Suggestions = nil
	}
	WriteJSON(w, status, body)
}

// BadRequest is shorthand for a 400 with a description.
func BadRequest(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Description: description})
}

// InternalError is shorthand for an opaque 500.
func InternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
}
