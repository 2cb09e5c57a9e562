package protocol

import (
	"errors"
	"fmt"
)

var ErrMalformedMessage = errors.New("protocol: malformed message")

// Decode failure details. Every decode error matches ErrMalformedMessage and
// exactly one of these.
var (
	ErrTruncated        = errors.New("truncated header")
	ErrUnknownType      = errors.New("unknown message type")
	ErrInvalidOperation = errors.New("invalid operation for type")
	ErrInvalidSequence  = errors.New("sequence must be 0 or 1")
	ErrLengthMismatch   = errors.New("length does not match payload")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrUnexpectedBody   = errors.New("control message carries payload")
)

func malformed(detail error, format string, args ...any) error {
	if format == "" {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, detail)
	}
	return fmt.Errorf("%w: %w: %s", ErrMalformedMessage, detail, fmt.Sprintf(format, args...))
}
