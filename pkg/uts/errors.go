package uts

import (
	"errors"
	"fmt"
)

// Configuration problems are fatal to the setup step that hit them.
var (
	ErrMissingBrokerInfo = errors.New("broker info not registered")
	ErrMalformedConfig   = errors.New("malformed configuration")
)

// ConfigError wraps a configuration failure with the offending subject.
type ConfigError struct {
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Subject, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoginFailure is the closed classification of gateway login rejections.
type LoginFailure int

const (
	LoginUnknown LoginFailure = iota
	LoginWrongCredentials
	LoginWeakPassword
	LoginFirstMustChangePassword
	LoginPasswordExpired
	LoginIPLimited
	LoginIPBanned
	LoginAuthorizationFailed
)

func (f LoginFailure) String() string {
	switch f {
	case LoginWrongCredentials:
		return "account number or password invalid"
	case LoginWeakPassword:
		return "password too weak"
	case LoginFirstMustChangePassword:
		return "password must be changed at first login"
	case LoginPasswordExpired:
		return "password expired"
	case LoginIPLimited:
		return "IP rate limited"
	case LoginIPBanned:
		return "IP banned"
	case LoginAuthorizationFailed:
		return "client authorization failed"
	default:
		return "unknown login failure"
	}
}

// LoginError reports a failed login for one account; it never aborts sibling
// account logins.
type LoginError struct {
	Account string
	Reason  LoginFailure
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("%s: login failed: %s", e.Account, e.Reason)
}

// NetworkError reports a request line that timed out waiting for a definitive
// gateway answer.
type NetworkError struct {
	Subject string
}

func (e *NetworkError) Error() string {
	return e.Subject + ": unable to reach server, check network connection and server address"
}

// Order error sentinels, matched with errors.Is through OrderError.
var (
	ErrOrderRejectedByGateway  = errors.New("order rejected by gateway")
	ErrOrderRejectedByExchange = errors.New("order rejected by exchange")
	ErrUnknownOrderRef         = errors.New("unknown order ref")
)

// OrderError reports an order that could not be placed, validated or canceled.
type OrderError struct {
	Account string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Account, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Account, e.Reason)
}

func (e *OrderError) Unwrap() error { return e.Err }

// NewOrderError builds a validation-style order error.
func NewOrderError(account, format string, args ...any) *OrderError {
	return &OrderError{Account: account, Reason: fmt.Sprintf(format, args...)}
}

// Usage errors: programming mistakes against the orchestrator, always surfaced.
var (
	ErrUnrecognizedGatewayData = errors.New("gateway returned unrecognized data")
)

// NotRegisteredError reports an operation against an account the system does
// not know.
type NotRegisteredError struct {
	Account AccountKey
}

func (e *NotRegisteredError) Error() string {
	return e.Account.String() + " is not registered in the system"
}

// NotLoggedInError reports an operation that requires a completed login.
type NotLoggedInError struct {
	Account AccountKey
}

func (e *NotLoggedInError) Error() string {
	return e.Account.String() + " is not logged in"
}
