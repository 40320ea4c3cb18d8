package ports

import "errors"

// Standard application-level errors. Adapters wrap underlying infrastructure
// errors with these sentinels so callers can branch on errors.Is.
var (
	// ErrUnavailable means the terminal could not be reached or a connection
	// could not be established. Retryable; never substituted with synthetic
	// data.
	ErrUnavailable = errors.New("terminal unavailable")
	// ErrTimeout means an operation exceeded its bound. The in-flight native
	// call is not interrupted, only the wait is abandoned.
	ErrTimeout = errors.New("operation timed out")
	// ErrConnectionFailed means the transport to the bridge process failed.
	ErrConnectionFailed = errors.New("failed to connect to the terminal bridge")
	// ErrTerminalMismatch means the connected terminal does not match the
	// expected venue.
	ErrTerminalMismatch = errors.New("connected terminal does not match expected venue")

	ErrNotFound       = errors.New("resource not found")
	ErrInvalidRequest = errors.New("invalid request parameters or format")
	ErrQueryFailed    = errors.New("database query failed")
)
