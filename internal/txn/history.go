// History log: per-commit changeset storage used for MVCC refresh and
// sync replication, a per-label chronological version collection —
// generalized from "decompress a string field" to "decode a changeset
// blob" — with changeset bytes zstd-compressed via
// klauspost/compress/zstd and then ascii85-encoded.
package txn

import (
	"bytes"
	"cmp"
	"encoding/ascii85"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Shared encoder/decoder, built once: zstd state-table construction is
// expensive relative to compressing a single changeset, and both types
// are documented safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Changeset is one commit's worth of instructions, opaque to the
// history log itself (internal/applier decodes its contents).
type Changeset struct {
	Version uint64
	Payload []byte
}

// History is the append-only, in-memory changeset log for one realm.
// The coordinator is responsible for trimming entries older than the
// oldest pinned frozen version.
type History struct {
	mu      sync.RWMutex
	entries []Changeset
}

// NewHistory returns an empty history log.
func NewHistory() *History {
	return &History{}
}

// Append records a new commit's changeset, compressing it for storage.
func (h *History) Append(version uint64, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Changeset{Version: version, Payload: compress(payload)})
}

// Since returns every changeset strictly newer than fromVersion, in
// commit order, decompressed — used for both MVCC refresh (C5) and sync
// replication (C9's upstream).
func (h *History) Since(fromVersion uint64) ([]Changeset, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Changeset
	for _, e := range h.entries {
		if e.Version <= fromVersion {
			continue
		}
		raw, err := decompress(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		out = append(out, Changeset{Version: e.Version, Payload: raw})
	}
	slices.SortFunc(out, func(a, b Changeset) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// TrimBefore discards changesets older than keepFrom, never removing
// entries a still-live frozen transaction might need — the coordinator
// computes keepFrom as the oldest pinned version across all frozen
// transactions before calling this.
func (h *History) TrimBefore(keepFrom uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := 0
	for i < len(h.entries) && h.entries[i].Version < keepFrom {
		i++
	}
	h.entries = h.entries[i:]
}

// compress zstd-compresses then ascii85-encodes data, a newline-safe
// inline-snapshot encoding.
func compress(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	compressed := zstdEncoder.EncodeAll(data, nil)

	var encoded bytes.Buffer
	enc := ascii85.NewEncoder(&encoded)
	_, _ = enc.Write(compressed)
	_ = enc.Close()
	return encoded.Bytes()
}

func decompress(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	dec := ascii85.NewDecoder(bytes.NewReader(encoded))
	compressed, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("ascii85: %w", err)
	}
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
