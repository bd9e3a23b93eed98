package notifier

import "errors"

// Sentinel errors returned by the notifier and its channel senders. Callers
// should use errors.Is for comparison.
var (
	// ErrSendFailed is returned when a channel could not deliver a message.
	// It is non-fatal: each channel fails independently of the others.
	ErrSendFailed = errors.New("notifier: send failed")

	// ErrConfigNotFound is returned when a channel is not configured at all.
	ErrConfigNotFound = errors.New("notifier: configuration not found")

	// ErrInvalidConfig is returned when a channel is enabled but its
	// configuration is incomplete.
	ErrInvalidConfig = errors.New("notifier: invalid configuration")
)
