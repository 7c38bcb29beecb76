package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("invalid input")
	ErrInvalidStatusKey = errors.New("invalid status key")
	// ErrConflict reports a concurrent write that lost; callers may retry.
	ErrConflict = errors.New("write conflict; reload and retry")

	ErrAlreadyClosed = errors.New("period already closed for team")
	// ErrPersistFailed means the close summary was not stored and nothing changed.
	ErrPersistFailed = errors.New("period close summary not persisted")
	// ErrAdvanceFailed means the summary exists but carry-over and the period
	// pointer advance did not complete; repair with a resume, not a new close.
	ErrAdvanceFailed = errors.New("period close summary persisted but period not advanced")
	ErrNotResumable  = errors.New("period close cannot be resumed")
)
