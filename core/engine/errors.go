package engine

import "errors"

// ErrClosed is returned for calls on a closed connection.
var ErrClosed = errors.New("engine connection closed")

// ErrProtocol is returned when the engine answers out of sequence or with a
// malformed line.
var ErrProtocol = errors.New("engine protocol error")

// ErrRejected is returned when the engine refuses an operation.
var ErrRejected = errors.New("engine rejected operation")
