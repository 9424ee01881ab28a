package models

import "errors"

var (
	// ErrNotFound is returned when a job, case or snapshot does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation is returned when a transition would break the job state machine
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidArgument is returned for out-of-range operation arguments
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidPhase is returned for an unknown phase name
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrCaptcha marks a failure of the automated CAPTCHA solve
	ErrCaptcha = errors.New("captcha failed")

	// ErrEmptyResponse marks a fetch that returned nothing usable
	ErrEmptyResponse = errors.New("empty response")

	// ErrRefreshFailed wraps failures to reach the external total
	ErrRefreshFailed = errors.New("external total refresh failed")
)
