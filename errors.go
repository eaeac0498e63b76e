package lattice

import "errors"

// Kind is a stable, switchable error classification mirroring the
// taxonomy in §7: every CodedError carries one, so callers that need to
// branch on error category don't have to string-match.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidDatabase
	KindDecryptionFailed
	KindMaximumFileSizeExceeded
	KindInvalidFreeSpace
	KindAddressSpaceExhausted
	KindMismatchedConfig
	KindMismatchedSchema
	KindBadChangeset
	KindClientResetFailed
	KindRetry
	KindLogicError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidDatabase:
		return "InvalidDatabase"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindMaximumFileSizeExceeded:
		return "MaximumFileSizeExceeded"
	case KindInvalidFreeSpace:
		return "InvalidFreeSpace"
	case KindAddressSpaceExhausted:
		return "AddressSpaceExhausted"
	case KindMismatchedConfig:
		return "MismatchedConfig"
	case KindMismatchedSchema:
		return "MismatchedSchema"
	case KindBadChangeset:
		return "BadChangeset"
	case KindClientResetFailed:
		return "ClientResetFailed"
	case KindRetry:
		return "Retry"
	case KindLogicError:
		return "LogicError"
	default:
		return "Unknown"
	}
}

// CodedError pairs a stable Kind with a human-readable message and an
// optional wrapped cause, the way the original engine pairs a numeric
// ErrorCodes value with a string (see realm.h in original_source/).
type CodedError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *CodedError) Unwrap() error { return e.Err }

func newErr(k Kind, msg string) error {
	return &CodedError{Kind: k, Msg: msg}
}

func wrapErr(k Kind, msg string, cause error) error {
	return &CodedError{Kind: k, Msg: msg, Err: cause}
}

// Sentinel errors for errors.Is comparisons, one flat var block in the
// usual Go style. Each is a CodedError of the matching Kind with a fixed
// message, so errors.Is(err, ErrRetry) works regardless of the attached
// message.
var (
	ErrInvalidDatabase        = newErr(KindInvalidDatabase, "invalid database file")
	ErrDecryptionFailed       = newErr(KindDecryptionFailed, "decryption failed")
	ErrMaximumFileSizeExceeded = newErr(KindMaximumFileSizeExceeded, "maximum file size exceeded")
	ErrInvalidFreeSpace       = newErr(KindInvalidFreeSpace, "free space tracking is invalid")
	ErrAddressSpaceExhausted  = newErr(KindAddressSpaceExhausted, "address space exhausted")
	ErrMismatchedConfig       = newErr(KindMismatchedConfig, "mismatched realm configuration")
	ErrMismatchedSchema       = newErr(KindMismatchedSchema, "mismatched cached schema")
	ErrBadChangeset           = newErr(KindBadChangeset, "bad changeset")
	ErrClientResetFailed      = newErr(KindClientResetFailed, "client reset failed")
	ErrRetry                  = newErr(KindRetry, "transient open race, retry")
	ErrLogicError             = newErr(KindLogicError, "API misuse")
)

// errors.Is support: two *CodedError values are equal for Is purposes
// when their Kind matches, regardless of Msg/Err — this lets call sites
// do errors.Is(err, ErrRetry) without needing the exact sentinel instance.
func (e *CodedError) Is(target error) bool {
	t, ok := target.(*CodedError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
