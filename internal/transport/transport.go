// Package transport implements the two ways logtap reaches a device: a local
// device-bridge subprocess and an interactive SSH shell.
//
// Transports report through an Events value. Callbacks run on transport
// goroutines; callers that need ordering with their own state must gate them.
package transport

import (
	"fmt"
)

// Kind classifies transport failures
type Kind string

const (
	LaunchFailure         Kind = "launch_failure"
	ProcessRuntimeError   Kind = "process_runtime_error"
	AuthenticationFailure Kind = "authentication_failure"
	ConnectionError       Kind = "connection_error"
	ChannelError          Kind = "channel_error"
)

// Error is a transport failure tagged with its kind
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the underlying error message without the kind prefix
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Events receives notifications from a running transport.
// Nil callbacks are skipped.
type Events struct {
	OnData  func(chunk []byte)
	OnError func(err error)
	OnClose func()
}

func (e Events) data(chunk []byte) {
	if e.OnData != nil {
		e.OnData(chunk)
	}
}

func (e Events) error(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

func (e Events) close() {
	if e.OnClose != nil {
		e.OnClose()
	}
}

// Handle is an owned reference to a running capture
type Handle interface {
	// Stop releases the underlying process or connection. It is idempotent,
	// best-effort and does not wait for the OS resource to disappear.
	Stop()
	// Done is closed once the transport has fully terminated.
	Done() <-chan struct{}
}
