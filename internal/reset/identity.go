// Client file identity, spec.md §3/GLOSSARY: the (ident, salt) pair a
// sync server assigns on first bind. The client refuses to mix
// identities across sessions, the same "one reserved metadata row"
// discipline metadata.go uses for PendingReset.
package reset

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// ClientFileIdent is the identity a sync server assigns to one local
// file on first bind. UUID-typed primary keys are applier.TypeUUID
// values and do not use this package's uuid import.
type ClientFileIdent struct {
	Ident uuid.UUID
	Salt  [32]byte
}

// IdentityStore persists at most one ClientFileIdent row, the sync
// metadata table's identity entry.
type IdentityStore interface {
	LoadIdent() (ClientFileIdent, bool, error)
	SaveIdent(ClientFileIdent) error
}

// EnsureClientFileIdent returns store's persisted identity, generating
// and persisting a fresh one (random UUID, random 32-byte salt) on
// first bind if none exists yet.
func EnsureClientFileIdent(store IdentityStore) (ClientFileIdent, error) {
	existing, ok, err := store.LoadIdent()
	if err != nil {
		return ClientFileIdent{}, err
	}
	if ok {
		return existing, nil
	}

	ident := ClientFileIdent{Ident: uuid.New()}
	if _, err := rand.Read(ident.Salt[:]); err != nil {
		return ClientFileIdent{}, err
	}
	if err := store.SaveIdent(ident); err != nil {
		return ClientFileIdent{}, err
	}
	return ident, nil
}

// ValidateClientFileIdent enforces "the client refuses to mix
// identities across sessions": serverIdent must match store's
// persisted identity exactly, or binding fails.
func ValidateClientFileIdent(store IdentityStore, serverIdent ClientFileIdent) error {
	existing, ok, err := store.LoadIdent()
	if err != nil {
		return err
	}
	if !ok {
		return store.SaveIdent(serverIdent)
	}
	if existing.Ident != serverIdent.Ident || existing.Salt != serverIdent.Salt {
		return fmt.Errorf("%w: server identity %s does not match the identity %s this file was bound to", ErrClientResetFailed, serverIdent.Ident, existing.Ident)
	}
	return nil
}
