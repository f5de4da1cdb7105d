package liberrors

import (
	"fmt"
)

// ErrCodecNotFound is an error that can be returned by an encoder.
type ErrCodecNotFound struct {
	Codec string
}

// Error implements the error interface.
func (e ErrCodecNotFound) Error() string {
	return fmt.Sprintf("codec not found: %s", e.Codec)
}

// ErrCodecOpenFailed is an error that can be returned by an encoder.
type ErrCodecOpenFailed struct {
	Codec string
	Err   error
}

// Error implements the error interface.
func (e ErrCodecOpenFailed) Error() string {
	return fmt.Sprintf("unable to open codec %s: %v", e.Codec, e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrCodecOpenFailed) Unwrap() error {
	return e.Err
}

// ErrUnsupportedCustomEncode is an error that can be returned by an encoder.
type ErrUnsupportedCustomEncode struct {
	Codec string
}

// Error implements the error interface.
func (e ErrUnsupportedCustomEncode) Error() string {
	return fmt.Sprintf("custom encoding is not implemented for codec %s", e.Codec)
}

// ErrEncoderNotInitialized is an error that can be returned by an encoder.
type ErrEncoderNotInitialized struct{}

// Error implements the error interface.
func (e ErrEncoderNotInitialized) Error() string {
	return "encoder is not initialized"
}
