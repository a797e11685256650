// Package errs defines the stable error taxonomy the streaming core uses to
// tell the application shell why a stream ended.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification. Values never
// change meaning once shipped — the UI switches on them.
type Code int

const (
	// Unknown is the zero value; never constructed deliberately.
	Unknown Code = iota
	// AuthInvalid: the JWT is missing or rejected.
	AuthInvalid
	// RegionUnsupported: server responded with REGION_NOT_SUPPORTED* for
	// this game/region pair.
	RegionUnsupported
	// SessionLimitExceeded: another session is active for this account.
	SessionLimitExceeded
	// QueueTimeout: the 5-minute ready-poll ceiling elapsed.
	QueueTimeout
	// SignalingClosed: the socket closed before the answer was sent.
	SignalingClosed
	// IceFailed: the peer connection entered "failed".
	IceFailed
	// InputHandshakeTimeout: the server never sent handshake bytes on
	// input_channel_v1 within 10 s of the pipeline being created.
	InputHandshakeTimeout
	// Transient: retryable; callers decide based on context.
	Transient
)

func (c Code) String() string {
	switch c {
	case AuthInvalid:
		return "AuthInvalid"
	case RegionUnsupported:
		return "RegionUnsupported"
	case SessionLimitExceeded:
		return "SessionLimitExceeded"
	case QueueTimeout:
		return "QueueTimeout"
	case SignalingClosed:
		return "SignalingClosed"
	case IceFailed:
		return "IceFailed"
	case InputHandshakeTimeout:
		return "InputHandshakeTimeout"
	case Transient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type attached to a terminated session. It
// carries a stable Code plus optional fields that diagnostics need:
// SignalingClosed carries the close code/reason, IceFailed carries a
// candidate-pair stats snapshot.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// CloseCode/CloseReason are populated for SignalingClosed.
	CloseCode   int
	CloseReason string

	// IceStats is populated for IceFailed.
	IceStats *IceCandidatePairStats
}

// IceCandidatePairStats is the diagnostic snapshot attached to IceFailed.
type IceCandidatePairStats struct {
	CurrentRoundTripTime float64
	RequestsSent         uint32
	ResponsesReceived    uint32
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func NewSignalingClosed(code int, reason string) *Error {
	return &Error{
		Code:        SignalingClosed,
		Message:     fmt.Sprintf("signaling socket closed before answer was sent (code=%d)", code),
		CloseCode:   code,
		CloseReason: reason,
	}
}

func NewIceFailed(stats *IceCandidatePairStats) *Error {
	return &Error{
		Code:     IceFailed,
		Message:  "peer connection entered failed state",
		IceStats: stats,
	}
}

// As reports whether err is itself an *Error and returns it; wrapped
// errors are not unwrapped.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// otherwise returns Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
