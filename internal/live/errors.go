package live

import (
	"errors"
	"fmt"
)

// ErrAlreadyConnected is returned by Connect when a connection is open or opening.
var ErrAlreadyConnected = errors.New("session already connected")

// ConfigurationError reports a missing or invalid session parameter.
// Sessions are never created from an invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid session configuration: %s %s", e.Field, e.Reason)
}

// TransportError reports a failed dial, send or close on the live connection.
type TransportError struct {
	Op  string // dial, send, read or close
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedFrameError reports an inbound frame that is not valid JSON.
type MalformedFrameError struct {
	Size int
	Err  error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %v", e.Size, e.Err)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}
