package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data wrapped in the {"data": ...} envelope with status 200.
func JSON(w http.ResponseWriter, data any) {
	Write(w, http.StatusOK, envelope{Data: data})
}

// Error writes the {"error": {...}} envelope with the given status.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	Write(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Write encodes v as the whole response body, without an envelope.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
