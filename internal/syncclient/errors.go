package syncclient

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("no multiplayer server configured")
	ErrNotRegistered = errors.New("not registered to server")
)

// NetworkError is a transport or decoding failure talking to the server.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Code and Message come from the JSON error body when present.
type ServerError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
}
