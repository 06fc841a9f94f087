// Package blercuerr implements the client-facing error taxonomy from
// spec §7, grounded on the teacher repo's BluetoothError pattern
// (code + message + cause + structured context, Is/Unwrap support).
package blercuerr

import (
	"errors"
	"fmt"
	"time"
)

// Code categorizes a client-facing failure.
type Code int

const (
	// Rejected: the request was syntactically valid but refused by policy.
	Rejected Code = iota
	// Busy: conflicting state (pairing or scanning already active).
	Busy
	// General: adapter unavailable/unpowered, or any lower-level failure.
	General
	// FileNotFound: service path not found (service-path errors, modeled
	// but not exercised by the core — spec §7).
	FileNotFound
	// InvalidArg: invalid argument on a service path.
	InvalidArg
)

func (c Code) String() string {
	switch c {
	case Rejected:
		return "Rejected"
	case Busy:
		return "Busy"
	case General:
		return "General"
	case FileNotFound:
		return "FileNotFound"
	case InvalidArg:
		return "InvalidArg"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type surfaced across the Controller's public
// operations.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]any
}

// New creates an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithCause attaches the underlying error and returns e for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithContext attaches a key/value pair of diagnostic context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Code, so callers can do
// errors.Is(err, blercuerr.New(blercuerr.Busy, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, or General
// if it does not.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return General
}

// RetryConfig bounds RetryWithBackoff, grounded on the teacher's
// bluetooth.RetryConfig (attempt cap, initial/max delay, multiplier).
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig bounds a transient syscall-level retry (a handful of
// attempts over tens of milliseconds), distinct from the domain-level
// connection-parameter retry policy in internal/hci.ConnParamEnforcer,
// which re-arms a minute-scale timer rather than blocking a goroutine.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// RetryWithBackoff runs operation until it succeeds or cfg.MaxAttempts is
// exhausted, sleeping with exponential backoff between attempts. Grounded
// on the teacher's bluetooth.RetryWithBackoff; reused by
// internal/hci.Socket's command-submission path for transient write
// failures (e.g. EAGAIN/EINTR on the HCI socket).
func RetryWithBackoff(operation func() error, cfg RetryConfig) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < cfg.MaxAttempts-1 {
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return Newf(General, "operation failed after %d attempts", cfg.MaxAttempts).WithCause(lastErr)
}
