package device

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned, without any I/O, when no transport is open.
var ErrNotConnected = errors.New("device: not connected")

// ConnectionError wraps an I/O failure on an open transport. Op names the
// session operation that failed.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
