// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies executor failures for retry decisions.
type ErrorKind string

const (
	// KindTimeout and KindConnection are transient network failures; the
	// queue retries them with backoff.
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	// KindAuth covers rejected tokens, PSKs and pairing keys. Never retried.
	KindAuth ErrorKind = "auth"
	// KindProtocol is a malformed or negative device response. Never retried.
	KindProtocol ErrorKind = "protocol"
	// KindUnsupported marks a command the executor cannot carry.
	KindUnsupported ErrorKind = "unsupported"
)

// Error is the rich failure type every executor returns. Retriable drives the
// queue's retry argument.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeoutf builds a retriable timeout error.
func Timeoutf(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Retriable: true}
}

// Connectionf builds a retriable connection error wrapping err.
func Connectionf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Retriable: true, Err: err}
}

// Authf builds a permanent authentication error.
func Authf(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// Protocolf builds a permanent protocol error.
func Protocolf(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

// Unsupportedf builds a permanent unsupported-operation error.
func Unsupportedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Message: fmt.Sprintf(format, args...)}
}

// Retriable reports whether the queue should retry after err. Unknown errors
// default to retriable; taxonomy errors carry the decision themselves, and
// raw network failures are classified here.
func Retriable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retriable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return true
}

// wrapNetErr classifies a transport error from a dial or round trip into the
// taxonomy, preserving the cause.
func wrapNetErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: op, Retriable: true, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: op, Retriable: true, Err: err}
	}
	return Connectionf(err, "%s", op)
}
