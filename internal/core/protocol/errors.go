package protocol

import "errors"

var (
	ErrEmptyFrame      = errors.New("empty wire frame")
	ErrUnknownKind     = errors.New("unknown message kind")
	ErrTransportClosed = errors.New("transport closed")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
)
