package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches API errors with HTTP status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the analytics API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analytics API returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("analytics API returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

const maxErrorBody = 512

// newAPIError builds an APIError from a response body, preferring a
// structured message field when the body is JSON.
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.Detail, payload.Message, payload.Error} {
			if m != "" {
				msg = m
				break
			}
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}
