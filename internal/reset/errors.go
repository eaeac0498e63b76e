package reset

import "errors"

// ErrClientResetFailed mirrors spec.md §7's ClientResetFailed kind:
// destructive schema diff, cycle detected, or recovery disallowed.
var ErrClientResetFailed = errors.New("reset: client reset failed")
