package graphsync

import "errors"

// Errors returned by Store implementations and surfaced by Synchronizer.
var (
	// ErrNotFound is returned by a Store when a requested hash is absent.
	ErrNotFound = errors.New("not_found")
	// ErrIntegrityViolation means a fetched block's hash did not match its
	// advertised hash. Fatal: aborts the traversal.
	ErrIntegrityViolation = errors.New("integrity_violation")
)
