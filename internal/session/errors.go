package session

import "errors"

// Session start and runtime failures. Callers classify with errors.Is; each
// maps to one distinct user-facing message at the transport boundary.
var (
	// ErrConfiguration means no usable model credential could be resolved.
	ErrConfiguration = errors.New("no usable model credential configured")

	// ErrShopClosed means the current time is outside working hours.
	ErrShopClosed = errors.New("shop is currently closed")

	// ErrUnsupportedEnvironment means the caller exposed no capture capability.
	ErrUnsupportedEnvironment = errors.New("client does not support audio capture")

	// ErrPermissionDenied means the caller declined microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrBanned means the caller is under an active policy ban.
	ErrBanned = errors.New("client is banned")

	// ErrConnectionTimeout means the live channel never reported open in time.
	ErrConnectionTimeout = errors.New("connection to voice service timed out")

	// ErrTransport wraps protocol errors after the channel was open.
	ErrTransport = errors.New("voice service connection failed")

	// ErrPolicyViolation means the model emitted the termination token.
	ErrPolicyViolation = errors.New("session terminated due to policy violation")

	// ErrSessionActive means a start was attempted while a session is live.
	ErrSessionActive = errors.New("a session is already active")
)
