package slab

import "errors"

// Package-local sentinels, mirrored into CodedError at the root facade
// (internal/slab cannot import the root package without cycling).
var (
	ErrMaximumFileSizeExceeded = errors.New("slab: maximum file size exceeded")
	ErrInvalidFreeSpace        = errors.New("slab: free space tracking is invalid")
	ErrLogicError              = errors.New("slab: logic error")
)
