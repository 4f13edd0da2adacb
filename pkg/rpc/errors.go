package rpc

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned whenever the daemon rejects our credentials.
//
var ErrUnauthorized = errors.New("unauthorized")

// ErrCookieUnavailable indicates that the cookie file could not be found.
// bitcoind removes it on shutdown, so its absence usually means the daemon
// is not running rather than that credentials are wrong.
//
var ErrCookieUnavailable = errors.New("cookie file unavailable")

// Error is the error object carried in a JSON-RPC response.
//
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// StatusError is returned when the daemon answers with a non-2xx status that
// does not carry a JSON-RPC envelope.
//
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %q", e.StatusCode, e.Body)
}

// DecodeError is returned when a response can't be decoded, either because
// the envelope is malformed or because the result doesn't fit the type it is
// being decoded into. Method is kept for inspection and left out of the
// message, which the caller prefixes with it already.
//
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
