// Client-side interface for dealing with HTTP errors.
package rest

import (
	"fmt"
	"sort"
	"strings"
)

// Error is the decoded body of a non-2xx response from the order API:
// {"status": "ERROR"} plus either a single message or per-field reasons.
type Error struct {
	// "ERROR" for every body this type is decoded from.
	Status string `json:"status"`

	// A single human-readable message ("No entry found", ...).
	Message string `json:"message,omitempty"`

	// Validation reasons keyed by request field.
	Messages map[string][]string `json:"messages,omitempty"`

	// HTTP status code of the response, filled in by the client.
	StatusCode int `json:"-"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Messages) > 0 {
		fields := make([]string, 0, len(e.Messages))
		for field := range e.Messages {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		return fmt.Sprintf("Invalid request: %s", strings.Join(fields, ", "))
	}
	return fmt.Sprintf("Request failed with status %d", e.StatusCode)
}
