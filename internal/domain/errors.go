package domain

import "errors"

var (
	// ErrFetchFailed covers network errors, timeouts and non-2xx upstream answers.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrBlocked marks an anti-bot or challenge page.
	ErrBlocked = errors.New("blocked by challenge page")
	// ErrParseEmpty means the payload parsed but produced no usable records.
	ErrParseEmpty = errors.New("payload yielded no records")
	// ErrScoringUnavailable means the scoring capability failed or timed out.
	ErrScoringUnavailable = errors.New("scoring unavailable")
	// ErrValidation rejects malformed input before any side effect.
	ErrValidation = errors.New("validation error")
	// ErrPersistence wraps storage write failures.
	ErrPersistence = errors.New("persistence error")
)
