package services

import "errors"

// Domain error kinds returned by the services in this package. Handlers
// map these to HTTP statuses; none of the messages reveal whether a
// username exists.
var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("username must be 5-20 characters and contain only letters, numbers, or underscores")
	ErrWeakPassword       = errors.New("password must be at least 8 characters, include an uppercase letter, a number, and a special character")
	ErrPasswordTooLong    = errors.New("password must be at most 72 characters")
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrTotpRequired   = errors.New("totp code required")
	ErrTotpInvalid    = errors.New("invalid totp code")
	ErrNotProvisioned = errors.New("totp setup not initiated")

	ErrChallengeExpired      = errors.New("challenge not found or expired")
	ErrCredentialNotFound    = errors.New("credential not found")
	ErrCredentialExists      = errors.New("credential already registered")
	ErrVerificationFailed    = errors.New("verification failed")
	ErrPossibleCloneDetected = errors.New("possible cloned authenticator detected")
)
