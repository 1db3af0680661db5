package models

import "errors"

// Sentinel errors shared across storage, stream, index and service packages.
var (
	// ErrConfiguration reports invalid input detected before any I/O: an empty
	// provider alias, a malformed range set, an unknown digest algorithm or a
	// path that would escape its repository root.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound reports a missing provider, storage, repository or path.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports an operation that would break a uniqueness rule.
	ErrConflict = errors.New("conflict")
)
