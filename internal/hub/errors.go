package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed is returned when the transport cannot be established
	ErrConnectionFailed = errors.New("connection failed")
	// ErrNotInitialized is returned when a session operation runs before Connect
	ErrNotInitialized = errors.New("hub client not initialized")
	// ErrNotInSession is returned when a chunk is sent without a joined session
	ErrNotInSession = errors.New("not in a session")
	// ErrTransmissionFailed is returned when an invocation is rejected or cannot be delivered
	ErrTransmissionFailed = errors.New("transmission failed")
	// ErrConnectionLost fails invocations pending when the transport drops
	ErrConnectionLost = errors.New("connection lost")
	// ErrConnectionClosed is returned by operations on a stopped connection
	ErrConnectionClosed = errors.New("connection closed")
)

// BackendError is a failure pushed by the backend, unrelated to any local call
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: %s", e.Message)
}

// InvocationError is a completion that carried an error
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Target, e.Message)
}
