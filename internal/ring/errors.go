package ring

import (
	"errors"
	"fmt"
)

// Frame decoding errors. Receivers never surface these; they count and drop.
var (
	ErrChecksum         = errors.New("ring: checksum mismatch")
	ErrTruncated        = errors.New("ring: truncated frame")
	ErrUnknownType      = errors.New("ring: unknown message type")
	ErrMalformedPayload = errors.New("ring: malformed payload")
	ErrPayloadTooLarge  = errors.New("ring: payload too large")
)

// Node and ring errors.
var (
	ErrNoToken       = errors.New("ring: token not held")
	ErrOutboxFull    = errors.New("ring: outbox full")
	ErrNodeDown      = errors.New("ring: node down")
	ErrInvalidConfig = errors.New("ring: invalid configuration")
	ErrUnknownNode   = errors.New("ring: unknown node")
)

// ErrorCode categorizes protocol errors.
type ErrorCode string

const (
	// CodeCorruption indicates a frame that failed integrity checks.
	CodeCorruption ErrorCode = "CORRUPTION"

	// CodeNoToken indicates origination without holding the token.
	CodeNoToken ErrorCode = "NO_TOKEN"

	// CodeOutboxFull indicates a submission the outbox could not hold.
	CodeOutboxFull ErrorCode = "OUTBOX_FULL"

	// CodeNodeDown indicates an operation on, or a send to, a failed node.
	CodeNodeDown ErrorCode = "NODE_DOWN"
)

// ProtocolError is a ring error with structured fields for diagnostics.
type ProtocolError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Node is the index of the node that reported the error.
	Node uint16

	// MessageID identifies the affected message, when there is one.
	MessageID uint64

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.MessageID != 0 {
		return fmt.Sprintf("%s: %s (node=%d, message=%#x)", e.Code, e.Message, e.Node, e.MessageID)
	}
	return fmt.Sprintf("%s: %s (node=%d)", e.Code, e.Message, e.Node)
}

// Unwrap exposes the sentinel so errors.Is(err, ErrNoToken) works.
func (e *ProtocolError) Unwrap() error { return e.Err }

// IsCorruption reports whether err is an integrity failure.
func IsCorruption(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) && pe.Code == CodeCorruption {
		return true
	}
	return errors.Is(err, ErrChecksum) || errors.Is(err, ErrTruncated)
}

// IsNoToken reports whether err was caused by originating without the token.
func IsNoToken(err error) bool {
	return errors.Is(err, ErrNoToken)
}

func newNoTokenError(node uint16) *ProtocolError {
	return &ProtocolError{
		Code:    CodeNoToken,
		Message: "origination requires the token",
		Node:    node,
		Err:     ErrNoToken,
	}
}

func newOutboxFullError(node uint16, size int) *ProtocolError {
	return &ProtocolError{
		Code:    CodeOutboxFull,
		Message: fmt.Sprintf("outbox holds %d pending messages", size),
		Node:    node,
		Err:     ErrOutboxFull,
	}
}

func newNodeDownError(node uint16) *ProtocolError {
	return &ProtocolError{
		Code:    CodeNodeDown,
		Message: "node is down",
		Node:    node,
		Err:     ErrNodeDown,
	}
}
