package models

import (
	"errors"
	"fmt"
)

// ConnectionError is a network or authentication failure talking to a mail server
type ConnectionError struct {
	Account string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s for %s: %v", e.Op, e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ClassificationError describes why the oracle result for a message was replaced
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// RelocationError is a failed step while moving a message
type RelocationError struct {
	UID    uint32
	Target string
	Op     string
	Err    error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("relocate uid %d to %q: %s: %v", e.UID, e.Target, e.Op, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }

// StateError is a durable store failure
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err wraps a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
