package auth

import "errors"

var (
	// ErrInvalidInput marks user-correctable request problems.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken is returned when registering an existing address.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is the generic password login failure.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountLocked is returned after too many failed logins.
	ErrAccountLocked = errors.New("too many failed attempts")
	// ErrInvalidToken covers unknown, used and expired e-mail tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidMFA covers bad codes and bad or expired MFA tickets.
	ErrInvalidMFA = errors.New("invalid verification code")
	// ErrMFAAlreadyEnabled is returned when setup is requested twice.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled is returned when managing MFA that is off.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFANotPending is returned when confirming without a setup.
	ErrMFANotPending = errors.New("mfa setup not started")
	// ErrAuthenticationFailed is the generic passkey failure.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnauthorized is returned for missing or invalid sessions.
	ErrUnauthorized = errors.New("unauthorized")
)
