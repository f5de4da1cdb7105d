// Package liberrors contains errors returned by the library.
package liberrors

import (
	"fmt"
)

// ErrServerInvalidConfig is an error that can be returned by a server.
type ErrServerInvalidConfig struct {
	Reason string
}

// Error implements the error interface.
func (e ErrServerInvalidConfig) Error() string {
	return "invalid configuration: " + e.Reason
}

// ErrServerInvalidURL is an error that can be returned by a server.
type ErrServerInvalidURL struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e ErrServerInvalidURL) Error() string {
	return fmt.Sprintf("invalid URL '%s': %v", e.URL, e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrServerInvalidURL) Unwrap() error {
	return e.Err
}

// ErrServerErrored is an error that can be returned by a server.
type ErrServerErrored struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerErrored) Error() string {
	return fmt.Sprintf("server is in error state: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrServerErrored) Unwrap() error {
	return e.Err
}

// ErrServerAlreadyStarted is an error that can be returned by a server.
type ErrServerAlreadyStarted struct{}

// Error implements the error interface.
func (e ErrServerAlreadyStarted) Error() string {
	return "server is already started"
}

// ErrServerNotStarted is an error that can be returned by a server.
type ErrServerNotStarted struct{}

// Error implements the error interface.
func (e ErrServerNotStarted) Error() string {
	return "server is not started"
}

// ErrServerNoClients is an error that can be returned by a server.
type ErrServerNoClients struct{}

// Error implements the error interface.
func (e ErrServerNoClients) Error() string {
	return "no clients are connected"
}

// ErrServerTerminated is an error that can be returned by a server.
type ErrServerTerminated struct{}

// Error implements the error interface.
func (e ErrServerTerminated) Error() string {
	return "terminated"
}

// ErrServerInvalidFrameSize is an error that can be returned by a server.
type ErrServerInvalidFrameSize struct {
	Expected int
	Value    int
}

// Error implements the error interface.
func (e ErrServerInvalidFrameSize) Error() string {
	return fmt.Sprintf("frame buffer is %d bytes long, at least %d are needed", e.Value, e.Expected)
}

// ErrGridTooLarge is an error that can be returned by a server.
type ErrGridTooLarge struct {
	Columns int
	Rows    int
}

// Error implements the error interface.
func (e ErrGridTooLarge) Error() string {
	return fmt.Sprintf("tile grid %dx%d is too large", e.Columns, e.Rows)
}

// ErrTileEncode is an error that can be returned by a server.
type ErrTileEncode struct {
	Failed int
	Total  int
	Err    error
}

// Error implements the error interface.
func (e ErrTileEncode) Error() string {
	return fmt.Sprintf("%d of %d tiles failed to encode, batch discarded: %v", e.Failed, e.Total, e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrTileEncode) Unwrap() error {
	return e.Err
}
