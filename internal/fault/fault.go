// Package fault defines the error taxonomy shared by the reservation
// pipeline. Every failure that reaches a batch report is classified as one
// of these kinds so downstream sinks can aggregate without parsing message
// strings.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	AuthenticationFailed Kind = "authentication_failed"
	RouteNotFound        Kind = "route_not_found"
	TripNotFound         Kind = "trip_not_found"
	SeatMapUnavailable   Kind = "seat_map_unavailable"
	NoSeatAvailable      Kind = "no_seat_available"
	ReservationRejected  Kind = "reservation_rejected"
	TransportError       Kind = "transport_error"
	Timeout              Kind = "timeout"
)

// Error carries a taxonomy kind plus the remote message (verbatim where the
// remote service supplied one) and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with a remote/human message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil cause yields nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the taxonomy kind from err. Errors that were never
// classified (plain transport/json failures that escaped a boundary) are
// reported as TransportError so reports stay total.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return TransportError
}

// MessageOf returns the carried message, falling back to err.Error().
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Is supports errors.Is matching on kind sentinels created via New with an
// empty message.
func (e *Error) Is(target error) bool {
	var fe *Error
	if !errors.As(target, &fe) {
		return false
	}
	return e.Kind == fe.Kind
}
