package txn

import "errors"

// ErrLogicError mirrors spec.md §7's LogicError kind for API misuse
// (e.g. writing through a frozen transaction, beginning a write on a
// closed guard).
var ErrLogicError = errors.New("txn: logic error")
