package relay

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes relay failures.
type ErrorCode string

const (
	// ErrCodeDialFailed indicates the websocket handshake failed.
	ErrCodeDialFailed ErrorCode = "DIAL_FAILED"

	// ErrCodeDisconnected indicates the connection dropped mid-subscription.
	ErrCodeDisconnected ErrorCode = "DISCONNECTED"

	// ErrCodeNotice carries a NOTICE message sent by the relay.
	ErrCodeNotice ErrorCode = "NOTICE"

	// ErrCodeClosed indicates the relay refused or ended a subscription with CLOSED.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeRateLimited indicates the local per-relay limiter gave up before
	// the request deadline.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// RelayError describes a failure talking to one relay.
//
// Relay errors never reach the thread loader; the pool logs them and moves on
// to the remaining relays.
type RelayError struct {
	Code    ErrorCode
	Relay   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (relay=%s): %v", e.Code, e.Message, e.Relay, e.Err)
	}
	return fmt.Sprintf("%s: %s (relay=%s)", e.Code, e.Message, e.Relay)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsRelayError reports whether err is a RelayError with the given code.
// Uses errors.As to handle wrapped errors.
func IsRelayError(err error, code ErrorCode) bool {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
