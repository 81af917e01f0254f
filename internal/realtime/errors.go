package realtime

import "errors"

var (
	// ErrAuthenticationFailed is fatal to a connection attempt; nothing is registered.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrDuplicateConnection should not happen given transport-generated ids.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrInvalidMembershipTransition classifies absorbed no-op transitions (logging only).
	ErrInvalidMembershipTransition = errors.New("invalid membership transition")
	// ErrDeliveryTargetGone classifies skipped deliveries (logging only).
	ErrDeliveryTargetGone = errors.New("delivery target gone")
	// ErrInvalidIntent is returned for frames that do not decode into a known intent.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrEngineStopped is returned by request/response calls once Run has exited.
	ErrEngineStopped = errors.New("engine stopped")
)
