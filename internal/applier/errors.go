package applier

import "errors"

// ErrBadChangeset mirrors spec.md §7's BadChangeset kind: a path, type,
// or size check failed while applying an instruction.
var ErrBadChangeset = errors.New("applier: bad changeset")
