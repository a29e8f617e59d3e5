package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NetworkError means the transport failed before any response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError is a response with a non-2xx status. Message is what the UI
// shows: the backend's detail text, the raw body, or "Request failed: N".
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

func newServerError(op string, status int, body []byte) *ServerError {
	return &ServerError{Op: op, StatusCode: status, Message: serverMessage(status, body)}
}

func serverMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("Request failed: %d", status)
	}

	var detail struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && len(detail.Detail) > 0 {
		var s string
		if err := json.Unmarshal(detail.Detail, &s); err == nil && s != "" {
			return s
		}
	}
	return text
}
