package session

import "errors"

// Terminal session failures. Every session ends in exactly one of these (or
// in success); the orchestrator maps each to a single user-visible reply.
var (
	// admission
	ErrCapacityExceeded = errors.New("instance capacity exceeded")
	ErrUnauthorized     = errors.New("requester not authorized")

	// throttling
	ErrTooFrequent = errors.New("trigger rate limit active")

	// login subprocess
	ErrSpawnFailed  = errors.New("login process failed to start")
	ErrLoginTimeout = errors.New("login process ended without a credential")
	ErrQRExpired    = errors.New("login QR code expired")

	// credential
	ErrMalformedCredential = errors.New("credential has no parsable identity")

	// policy
	ErrCooldownActive = errors.New("identity is inside the re-login cooldown")

	// provisioning
	ErrTeardownFailed  = errors.New("previous instance could not be torn down")
	ErrProvisionFailed = errors.New("instance creation failed")

	// persistence; the instance exists but the record does not reflect it
	ErrCommitFailed = errors.New("record commit failed after instance creation")
)
