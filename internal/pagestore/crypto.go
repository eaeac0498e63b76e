// Mapped-file encryption: pulls chacha20poly1305 from
// golang.org/x/crypto. Each page is its own AEAD sealed box so that
// partial writes never corrupt pages outside the one being written —
// the nonce is derived from the page index so no per-page nonce needs
// storing.
package pagestore

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// PageCipher seals/opens individual pages with ChaCha20-Poly1305 keyed
// by the first 32 bytes of a 64-byte encryption_key (spec.md §8), per
// SPEC_FULL.md §8.
type PageCipher struct {
	aead cipher.AEAD
}

// NewPageCipher builds a cipher from a 64-byte encryption key. Only the
// first 32 bytes are used as the ChaCha20-Poly1305 key; the remaining 32
// are reserved for a future integrity-check extension per spec.md §8's
// "encryption_key is 64 bytes" note.
func NewPageCipher(key [64]byte) (*PageCipher, error) {
	aead, err := chacha20poly1305.New(key[:32])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return &PageCipher{aead: aead}, nil
}

// pageNonce derives a deterministic 12-byte nonce from a page index by
// hashing it; this avoids persisting a nonce alongside every page while
// still guaranteeing nonce uniqueness across the file (ChaCha20Poly1305
// requires a 12-byte nonce, never reused under the same key).
func pageNonce(pageIndex uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], pageIndex)
	sum := sha256.Sum256(buf[:])
	return sum[:chacha20poly1305.NonceSize]
}

// SealPage encrypts plaintext (one page's worth of bytes) for storage at
// pageIndex, returning ciphertext with an appended 16-byte auth tag.
func (c *PageCipher) SealPage(pageIndex uint64, plaintext []byte) []byte {
	nonce := pageNonce(pageIndex)
	return c.aead.Seal(nil, nonce, plaintext, nil)
}

// OpenPage decrypts and authenticates a sealed page. Returns
// ErrDecryptionFailed if the tag doesn't verify — spec.md §7's
// DecryptionFailed case, typically caused by a wrong key or a page torn
// by a crash mid-write.
func (c *PageCipher) OpenPage(pageIndex uint64, ciphertext []byte) ([]byte, error) {
	nonce := pageNonce(pageIndex)
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
