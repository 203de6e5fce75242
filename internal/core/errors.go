package core

import "errors"

// Registry errors.
var (
	ErrDuplicateName = errors.New("api name already registered")
	ErrNotFound      = errors.New("api not found")
	ErrInvalidAPI    = errors.New("invalid api definition")
)

// Extraction errors.
var (
	ErrHeaderNotFound = errors.New("rate limit headers not found")
	ErrNotNumeric     = errors.New("rate limit header is not a non-negative integer")
)

// Cycle errors.
var (
	ErrInvalidSample = errors.New("invalid usage sample")
	ErrRequestFailed = errors.New("request failed")
	ErrNotify        = errors.New("notification failed")
)
