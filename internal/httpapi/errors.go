package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/lockcoord/lockd/internal/log"
)

// apiError is the JSON object written under the "error" key of any 4xx/5xx
// response body. code is a short machine-readable token; message is
// human-readable detail.
type apiError struct {
	status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, Code: code, Message: message}
}

func writeError(w http.ResponseWriter, err *apiError) {
	logger := log.WithComponent("httpapi")
	logger.Warn().
		Str("code", err.Code).
		Str("message", err.Message).
		Msg("rejecting request")
	writeJSON(w, err.status, struct {
		Error apiError `json:"error"`
	}{Error: *err})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

var errBadBody = newAPIError(http.StatusBadRequest, "bad_request", "request body must be valid JSON")

func missingFieldError(requireFile bool) *apiError {
	if requireFile {
		return newAPIError(http.StatusBadRequest, "missing_field", "session and file are required")
	}
	return newAPIError(http.StatusBadRequest, "missing_field", "session is required")
}
