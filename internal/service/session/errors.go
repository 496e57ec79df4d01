package session

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrSessionActive    = errors.New("a session is already active")
	ErrConnectAborted   = errors.New("connect aborted by disconnect")
	ErrNoSession        = errors.New("no active session")
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// PermissionError reports that audio input was refused. The visitor has to
// grant access outside the widget before retrying.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if e.Err == nil || e.Err == ErrPermissionDenied {
		return ErrPermissionDenied.Error()
	}
	return fmt.Sprintf("%s: %v", ErrPermissionDenied, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPermissionDenied) hold for every PermissionError.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// TransportError reports a failed provider connect or send.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
