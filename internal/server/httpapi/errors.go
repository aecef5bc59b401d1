package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Matrix error codes.
const (
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeUnauthorized  = "M_UNAUTHORIZED"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeInvalidPepper = "M_INVALID_PEPPER"
	ErrCodeNotJSON       = "M_NOT_JSON"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeNotFound      = "M_NOT_FOUND"
)

type errorBody struct {
	ErrCode      string `json:"errcode"`
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{ErrCode: code, Error: msg})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Unrecognised access token")
}

func writeUnknown(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeUnknown, "Internal server error")
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	ms := retryAfter.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	secs := (ms + 999) / 1000
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		ErrCode:      ErrCodeLimitExceeded,
		Error:        "Too many requests",
		RetryAfterMs: ms,
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, "No resource was found for this request")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, ErrCodeUnrecognized, "Unrecognized request method")
}
