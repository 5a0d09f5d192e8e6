package completion

import (
	"errors"
	"fmt"
)

// ErrMissingCredential indicates no API key was configured at call time.
var ErrMissingCredential = errors.New("completion: missing API credential")

// ErrInvalidRequest indicates a client-side precondition failed, such as an
// empty message set after filtering. No network attempt was made.
var ErrInvalidRequest = errors.New("completion: invalid request")

// ServerError indicates the endpoint responded with a non-2xx status.
// The response body is preserved for diagnostics.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("completion: server returned %d: %s", e.Status, e.Body)
}

// TransportError indicates a network-level failure (timeout, DNS, reset),
// distinct from a server-reported error.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("completion: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError indicates a 2xx response whose body did not match the
// expected shape, including a response with zero choices.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion: decode failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("completion: decode failure: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }
