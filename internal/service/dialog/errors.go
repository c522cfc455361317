package dialog

import "errors"

var (
	// ErrSessionCreationFailed means the persona lookup failed; nothing was registered.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrDeliveryFailed means the target session was stopping; a retry creates a fresh one.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrPersistenceFailed means an exchange could not be appended to the transcript.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrQueueFull means the session's inbound queue is at capacity.
	ErrQueueFull = errors.New("session queue full")
	// ErrRegistryClosed is returned once Shutdown has been called.
	ErrRegistryClosed = errors.New("registry closed")
	// ErrStopTimeout means a worker missed its stop grace period and was cancelled.
	ErrStopTimeout = errors.New("session stop timed out")
)
