package redis

import (
	"errors"
	"strings"
)

var (
	// ErrDisconnected matches every error delivered because the connection
	// failed or was closed.
	ErrDisconnected = errors.New("disconnected")

	// ErrClosed is the cause delivered after Close.
	ErrClosed = errors.New("connection closed")

	// ErrProtocol matches malformed or unexpected data on the wire.
	ErrProtocol = errors.New("protocol error")

	// ErrUnexpectedReply is returned by Reply helpers when a reply has the
	// wrong shape for the requested interpretation.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// ConnError is delivered to every pending completion when the connection
// fails. Err is the underlying cause.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string {
	return "backend connection: " + e.Err.Error()
}

func (e *ConnError) Unwrap() error { return e.Err }

func (e *ConnError) Is(target error) bool { return target == ErrDisconnected }

// ProtocolError reports a reply that could not be decoded. It is delivered
// to the command the reply belonged to. When Fatal is set the stream can no
// longer be framed and the connection is torn down after delivery.
type ProtocolError struct {
	Msg   string
	Fatal bool
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// ServerError is an error reply sent by the backend.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Code returns the leading upper-case word of the message, e.g. "WRONGTYPE".
func (e *ServerError) Code() string {
	code, _, _ := strings.Cut(e.Msg, " ")
	return code
}
