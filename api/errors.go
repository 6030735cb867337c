package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrTransport wraps failures where no HTTP response was received.
	ErrTransport = errors.New("backend transport failure")
	// ErrServiceUnavailable is wrapped by *Error for 5xx responses and failed pings.
	ErrServiceUnavailable = errors.New("backend service unavailable")
	// ErrAuthExpired is wrapped by *Error for 401 responses.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrRejected matches every *ValidationError.
	ErrRejected = errors.New("request rejected by backend")
	// ErrValidation matches a *ValidationError that carries field errors.
	ErrValidation = errors.New("validation failed")
	// ErrProofRequired matches a *ValidationError whose body set requires_proof.
	ErrProofRequired = errors.New("proof required")
	// ErrDecode wraps malformed success bodies.
	ErrDecode = errors.New("malformed backend response")
)

// Error is a non-structured failure: 401 or 5xx.
type Error struct {
	Status    int
	Message   string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Err, e.Status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError is a structured 4xx answer, or a request that failed local
// validation (Status 0). It never closes a session.
type ValidationError struct {
	Status        int
	Message       string
	Fields        map[string][]string
	RequiresProof bool
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(ErrRejected.Error())
	}
	if len(e.Fields) == 0 {
		return b.String()
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "; %s: %s", k, strings.Join(e.Fields[k], ", "))
	}
	return b.String()
}

// Is makes errors.Is match the sentinel classes.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrValidation:
		return len(e.Fields) > 0
	case ErrProofRequired:
		return e.RequiresProof
	default:
		return false
	}
}

// First returns the first message for field, if any.
func (e *ValidationError) First(field string) string {
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}
