package shared

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Envelope carries the fields every response includes. Endpoint DTOs embed it.
type Envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OK builds a success envelope stamped now.
func OK(message string) Envelope {
	return Envelope{Success: true, Message: message, Timestamp: time.Now().UTC()}
}

// ErrorBody is the wire shape of a failed request.
type ErrorBody struct {
	Envelope
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSON serializes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError translates a typed error into the envelope and status.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", slog.Any("error", err))
	}
	details := ""
	var typed *Error
	if errors.As(err, &typed) {
		details = typed.Details
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Do not leak internals to clients.
		message = "Error al procesar la solicitud"
		details = ""
	}
	WriteJSON(w, status, ErrorBody{
		Envelope: Envelope{Success: false, Message: message, Timestamp: time.Now().UTC()},
		Error:    Category(err),
		Details:  details,
	})
}
