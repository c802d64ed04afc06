package httpext

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snapncook/snapclient/pkg/logger"
)

// ErrorResponse is the backend's error envelope. Detail is either a string
// or a list of validation entries.
type ErrorResponse struct {
	Detail interface{} `json:"detail"`
}

// ValidationEntry is one item of a 422 validation detail list.
type ValidationEntry struct {
	Loc  []interface{} `json:"loc,omitempty"`
	Msg  string        `json:"msg"`
	Type string        `json:"type,omitempty"`
}

// JsonError writes {"detail": message} with the specified status code
func JsonError(w http.ResponseWriter, message string, code int) {
	JsonErrorWithDetails(w, code, ErrorResponse{Detail: message})
}

// JsonErrorWithDetails writes an arbitrary detail payload, e.g. a validation list
func JsonErrorWithDetails(w http.ResponseWriter, code int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(logger.HANDLER, "Failed to encode error response: %v", err)
		return
	}
}

// JsonResponse writes v as JSON with the given status code
func JsonResponse(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(logger.HANDLER, "Failed to encode response: %v", err)
	}
}

// DecodeDetail extracts a human readable message from an error body. It
// returns "" when the body carries no usable detail.
func DecodeDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var entries []ValidationEntry
	if err := json.Unmarshal(envelope.Detail, &entries); err == nil {
		msgs := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Msg != "" {
				msgs = append(msgs, e.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return string(envelope.Detail)
}
