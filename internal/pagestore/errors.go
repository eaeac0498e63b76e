package pagestore

import "errors"

// Package-local sentinels. internal/pagestore cannot import the root
// lattice package (it would cycle back through lattice -> pagestore), so
// these are plain errors; the root facade wraps them into a CodedError
// via errors.Is at the point a call crosses out of internal/.
var (
	ErrInvalidDatabase        = errors.New("pagestore: invalid database file")
	ErrMaximumFileSizeExceeded = errors.New("pagestore: maximum file size exceeded")
	ErrAddressSpaceExhausted  = errors.New("pagestore: address space exhausted")
	ErrDecryptionFailed       = errors.New("pagestore: decryption failed")

	// ErrRetry signals a transient race with a concurrent writer during
	// open (spec.md §9): a non-session-initiator attaching a file whose
	// size doesn't land on a section boundary cannot proceed and must
	// back off and retry instead of treating the file as corrupt.
	ErrRetry = errors.New("pagestore: attach raced a concurrent writer, retry")
)
