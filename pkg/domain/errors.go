package domain

import (
	"context"
	"errors"
	"fmt"
)

// ReferentialIntegrityError reports a foreign key that does not resolve to an
// existing entity.
type ReferentialIntegrityError struct {
	Entity   EntityType
	ID       string
	Field    string
	Target   EntityType
	TargetID string
}

func (e ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s %q: %s references missing %s %q", e.Entity, e.ID, e.Field, e.Target, e.TargetID)
}

// InvalidTransitionError reports a status change the workflow does not allow.
type InvalidTransitionError struct {
	Entity EntityType
	ID     string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %q: invalid transition from %q to %q", e.Entity, e.ID, e.From, e.To)
}

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Entity  EntityType
	ID      string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s %s", e.Entity, e.Field, e.Message)
	}
	return fmt.Sprintf("%s %q: %s %s", e.Entity, e.ID, e.Field, e.Message)
}

// NotFoundError reports a lookup of an unknown entity.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// RemoteError reports a failed or timed out durable store call. The local
// mutation that triggered the call stays applied.
type RemoteError struct {
	Op     string
	Entity EntityType
	ID     string
	Err    error
}

func (e RemoteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("remote %s %s %q: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e RemoteError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed because its deadline expired.
func (e RemoteError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// RemoteErrors aggregates the failures of one sync pass.
type RemoteErrors []RemoteError

func (e RemoteErrors) Error() string {
	switch len(e) {
	case 0:
		return "no remote errors"
	case 1:
		return e[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
	}
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e RemoteErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i := range e {
		out[i] = e[i]
	}
	return out
}
