package deadline

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies the error conditions the core can produce. The
// comment on each kind gives the recovery policy associated with it.
type ErrorKind int

const (
	// ErrInvalidStreamID is returned synchronously, with no wire effect,
	// when a deadline is requested for a reserved stream ID (below
	// MinReservedStreamID). IDs are not checked against an upper
	// stream-ID limit.
	ErrInvalidStreamID ErrorKind = iota + 1

	// ErrResourceExhausted signals an allocation failure while creating
	// deadline state. Callers may surface this to the host as an internal
	// transport error if it cannot be recovered locally.
	ErrResourceExhausted

	// ErrFrameFormat signals a malformed DEADLINE_CONTROL or
	// STREAM_DATA_DROPPED frame. The host should close the connection
	// with a frame-format transport error citing FrameType.
	ErrFrameFormat

	// ErrFeatureNotNegotiated signals a deadline frame arriving on a
	// connection that never negotiated enable_deadline_aware_streams.
	// Treated the same as ErrFrameFormat by the host.
	ErrFeatureNotNegotiated
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidStreamID:
		return "invalid_stream_id"
	case ErrResourceExhausted:
		return "resource_exhausted"
	case ErrFrameFormat:
		return "frame_format"
	case ErrFeatureNotNegotiated:
		return "feature_not_negotiated"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every fallible operation in this
// package. FrameType is only meaningful for ErrFrameFormat and
// ErrFeatureNotNegotiated, naming the offending frame type.
type Error struct {
	Kind      ErrorKind
	FrameType uint64
	cause     error
}

func (e *Error) Error() string {
	if e.Kind == ErrFrameFormat || e.Kind == ErrFeatureNotNegotiated {
		return fmt.Sprintf("deadline: %s (frame type %#x): %v", e.Kind, e.FrameType, e.cause)
	}
	return fmt.Sprintf("deadline: %s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func frameFormatError(frameType uint64, msg string, args ...interface{}) *Error {
	return &Error{Kind: ErrFrameFormat, FrameType: frameType, cause: errors.Errorf(msg, args...)}
}

func featureNotNegotiatedError(frameType uint64) *Error {
	return &Error{Kind: ErrFeatureNotNegotiated, FrameType: frameType, cause: errors.New("peer did not negotiate enable_deadline_aware_streams")}
}
