package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrNoSession is returned by operations that need an active wallet address.
	ErrNoSession = errors.New("no active address")

	// ErrSigningCancelled marks a wallet signing request the user declined.
	ErrSigningCancelled = errors.New("signing cancelled")
)
