package store

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrClaimConflict   = errors.New("entry already claimed")
	ErrNoActiveWindow  = errors.New("no active window")
	ErrAlreadySkipped  = errors.New("entry already skipped")
	ErrTransientStore  = errors.New("store temporarily unavailable")
	ErrEntryNotFound   = errors.New("entry not found")
	ErrInvalidState    = errors.New("invalid entry state")
	ErrWindowNotFound  = errors.New("window not found")
	ErrSessionNotFound = errors.New("session not found")
)
