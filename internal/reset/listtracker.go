// ListTracker implements spec.md §4.6's per-list index translation:
// recovery replays local list operations against a list whose remote
// contents may have shifted underneath it. Grounded directly on
// original_source's client_reset_recovery.cpp `ListTracker` struct
// (CrossListIndex, requires_manual_copy/queue_for_manual_copy), ported
// from a vector-of-pairs to a Go slice keyed the same way.
package reset

// CrossIndex is one known (local, remote) index pairing: an element
// inserted by recovery itself, and therefore safe to address again by
// later recovery instructions.
type CrossIndex struct {
	Local  int
	Remote int
}

// ListTracker tracks which list indices are "known" (inserted by
// recovery so far) for one list addressed by a ListPath. Any operation
// on an unknown index flips the list into requires-manual-copy, after
// which further operations on it are ignored until the list is copied
// verbatim and cleared.
type ListTracker struct {
	known            []CrossIndex
	requiresManual   bool
	manuallyCopied   bool
}

// NewListTracker returns an empty tracker.
func NewListTracker() *ListTracker { return &ListTracker{} }

// RequiresManualCopy reports whether this list has fallen out of
// index-translation tracking and must be copied verbatim.
func (lt *ListTracker) RequiresManualCopy() bool { return lt.requiresManual }

// QueueForManualCopy forces the list into the manual-copy state, e.g.
// because an instruction acted on an index the tracker never saw
// inserted.
func (lt *ListTracker) QueueForManualCopy() { lt.requiresManual = true }

// MarkAsCopied records that the pending manual copy has happened,
// clearing the pending flag without un-setting requiresManual (the
// list stays ignored for the remainder of this recovery pass).
func (lt *ListTracker) MarkAsCopied() { lt.manuallyCopied = true }

// Insert translates a local insert(localIndex, ...) against a remote
// list of size remoteSize, per spec.md §8 scenario #4 ("Index
// translation example (insert)"): clamp the remote index to
// min(localIndex, remoteSize), shift every known index >= localIndex
// up by one on both axes, then record the new mapping. Returns the
// remote index the insert instruction was translated to.
func (lt *ListTracker) Insert(localIndex, remoteSize int) (remoteIndex int, ok bool) {
	if lt.requiresManual {
		return 0, false
	}
	remoteIndex = localIndex
	if remoteIndex > remoteSize {
		remoteIndex = remoteSize
	}
	for i := range lt.known {
		if lt.known[i].Local >= localIndex {
			lt.known[i].Local++
		}
		if lt.known[i].Remote >= remoteIndex {
			lt.known[i].Remote++
		}
	}
	lt.known = append(lt.known, CrossIndex{Local: localIndex, Remote: remoteIndex})
	return remoteIndex, true
}

// translate finds the remote index a known local index maps to.
func (lt *ListTracker) translate(localIndex int) (int, bool) {
	for _, c := range lt.known {
		if c.Local == localIndex {
			return c.Remote, true
		}
	}
	return 0, false
}

// Update translates a local update(index) to its remote index. An
// unknown index forces manual copy and returns ok=false.
func (lt *ListTracker) Update(localIndex int) (remoteIndex int, ok bool) {
	if lt.requiresManual {
		return 0, false
	}
	remoteIndex, ok = lt.translate(localIndex)
	if !ok {
		lt.requiresManual = true
	}
	return remoteIndex, ok
}

// Remove translates and forgets a local erase(index); every remaining
// known index above it shifts down by one on both axes, mirroring
// Insert's shift in reverse.
func (lt *ListTracker) Remove(localIndex int) (remoteIndex int, ok bool) {
	if lt.requiresManual {
		return 0, false
	}
	pos := -1
	for i, c := range lt.known {
		if c.Local == localIndex {
			pos = i
			remoteIndex = c.Remote
			ok = true
			break
		}
	}
	if !ok {
		lt.requiresManual = true
		return 0, false
	}
	lt.known = append(lt.known[:pos], lt.known[pos+1:]...)
	for i := range lt.known {
		if lt.known[i].Local > localIndex {
			lt.known[i].Local--
		}
		if lt.known[i].Remote > remoteIndex {
			lt.known[i].Remote--
		}
	}
	return remoteIndex, true
}

// Move translates a local move(from, to); both endpoints must be
// known, else the list is queued for manual copy.
func (lt *ListTracker) Move(localFrom, localTo int) (remoteFrom, remoteTo int, ok bool) {
	if lt.requiresManual {
		return 0, 0, false
	}
	remoteFrom, fromOK := lt.translate(localFrom)
	remoteTo, toOK := lt.translate(localTo)
	if !fromOK || !toOK {
		lt.requiresManual = true
		return 0, 0, false
	}
	for i := range lt.known {
		if lt.known[i].Local == localFrom {
			lt.known[i].Local = localTo
			lt.known[i].Remote = remoteTo
		}
	}
	return remoteFrom, remoteTo, true
}

// Clear drops all known index mappings, e.g. after an Update whose
// path clears the whole list.
func (lt *ListTracker) Clear() {
	lt.known = nil
	lt.requiresManual = false
	lt.manuallyCopied = false
}
