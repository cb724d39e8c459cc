// Package httpx carries the JSON response conventions shared by every
// handler: a request id on each response and a single error envelope shape.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// maxBodyBytes caps mutating request bodies; every payload in this API is
// a small JSON object.
const maxBodyBytes = 1 << 20

// ErrorBody is the wire shape of every non-2xx response.
type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Err       ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a request body strictly: unknown fields and oversized
// payloads are errors.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	WriteJSON(w, status, ErrorBody{
		RequestID: NewRequestID(),
		Err:       ErrorDetail{Code: code, Message: message, Details: details},
	})
}
