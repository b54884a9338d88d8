package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")

	// Switcher error taxonomy.
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingEnvironment = errors.New("missing required environment")
	ErrOracleDegraded     = errors.New("oracle degraded to fallback price")
	ErrSizingRejected     = errors.New("trade sizing rejected")
	ErrExecutionFailed    = errors.New("swap execution failed")
	ErrUnexpected         = errors.New("unexpected tick error")

	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotRunning     = errors.New("bot not running")
)
