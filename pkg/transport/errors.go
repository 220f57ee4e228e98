package transport

import "fmt"

// ConnectError is returned when no socket could be opened to the chosen endpoint
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("error connecting to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError is returned when a send fails. The connection must be disconnected.
type WriteError struct {
	Endpoint Endpoint
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("error writing to %s: %v", e.Endpoint, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is returned when fewer than the requested bytes could be read.
// The connection must be disconnected.
type ReadError struct {
	Endpoint Endpoint
	Want     int64
	Got      int64
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("error reading from %s: got %d of %d bytes: %v", e.Endpoint, e.Got, e.Want, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
