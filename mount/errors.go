package mount

import "errors"

// Error kinds. Concrete errors wrap one of these so callers can test with errors.Is.
var (
	// ErrTransport covers read timeouts, write failures and port errors.
	ErrTransport = errors.New("transport error")
	// ErrProtocolMismatch is returned for a response of unexpected length or content.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrInvalidState is returned without any wire activity.
	ErrInvalidState = errors.New("invalid state")
	ErrOutOfRange   = errors.New("out of range")
	ErrNotSupported = errors.New("not supported")
	// ErrInitializationRequired is returned by Goto and Sync until time, location and mount initialization have completed.
	ErrInitializationRequired = errors.New("initialization required")
)
