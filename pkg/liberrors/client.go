package liberrors

// ErrClientQueueFull is an error that can be returned by a client.
type ErrClientQueueFull struct{}

// Error implements the error interface.
func (e ErrClientQueueFull) Error() string {
	return "write queue is full"
}

// ErrClientClosed is an error that can be returned by a client.
type ErrClientClosed struct{}

// Error implements the error interface.
func (e ErrClientClosed) Error() string {
	return "client is closed"
}
