package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoCandidates indicates a reservation found no eligible order on the
// channel. Callers are expected to poll again with backoff.
var ErrNoCandidates = errors.New("No eligible order found")

// ErrReservationConflict indicates the candidate stopped being eligible
// between selection and update - another caller won the race, or the order
// and its latest lease are in a combination that must not be reserved.
var ErrReservationConflict = errors.New("Order/Worker is not in the right combination")

// ErrAlreadyReported indicates a duplicate or late result report for a
// lease that has already been closed. The first report stands; nothing is
// mutated.
var ErrAlreadyReported = errors.New("Worker already returned a result")

// A ValidationError reports malformed or missing input, keyed by field.
type ValidationError struct {
	Messages map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Messages))
	for field := range e.Messages {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fmt.Sprintf("Invalid request: %s", strings.Join(fields, ", "))
}

// Add appends a reason for the given field.
func (e *ValidationError) Add(field string, reason string) {
	if e.Messages == nil {
		e.Messages = make(map[string][]string)
	}
	e.Messages[field] = append(e.Messages[field], reason)
}

// Empty reports whether any field collected a reason.
func (e *ValidationError) Empty() bool {
	return len(e.Messages) == 0
}
