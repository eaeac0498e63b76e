package pagestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeRawHeaderFile(t *testing.T, path string, h *Header, totalSize int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("create raw file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(h.Encode(), 0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := f.Truncate(totalSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestAttachCreatesFreshHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	mf, err := Attach(path, AttachOptions{SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer mf.Detach()

	top, err := mf.TopRef()
	if err != nil {
		t.Fatalf("TopRef: %v", err)
	}
	if top != 0 {
		t.Fatalf("expected a fresh file's top-ref to be 0, got %d", top)
	}
	if !mf.Sections().MatchesBoundary(mf.FileSize()) {
		t.Fatalf("expected a fresh file's size to land on a section boundary, got %d", mf.FileSize())
	}
}

func TestAttachNoCreateFailsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Attach(path, AttachOptions{NoCreate: true})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist with NoCreate on a missing file, got %v", err)
	}
}

func TestAttachIsSharedAcquiresAndReleasesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	mf, err := Attach(path, AttachOptions{IsShared: true, SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := mf.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
}

func TestAttachClearFileRequiresSessionInitiator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clear.db")
	_, err := Attach(path, AttachOptions{ClearFile: true})
	if err != ErrInvalidDatabase {
		t.Fatalf("expected ErrInvalidDatabase for clear_file without session_initiator, got %v", err)
	}
}

func TestAttachClearFileReinitializesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reinit.db")

	mf, err := Attach(path, AttachOptions{SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := mf.CommitTopRef(55); err != nil {
		t.Fatalf("CommitTopRef: %v", err)
	}
	if err := mf.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	mf2, err := Attach(path, AttachOptions{ClearFile: true, SessionInitiator: true})
	if err != nil {
		t.Fatalf("re-Attach with ClearFile: %v", err)
	}
	defer mf2.Detach()

	top, err := mf2.TopRef()
	if err != nil {
		t.Fatalf("TopRef: %v", err)
	}
	if top != 0 {
		t.Fatalf("expected clear_file to reset top-ref to 0, got %d", top)
	}
}

func TestAttachSkipValidateBypassesHeaderCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip.db")
	garbage := bytes.Repeat([]byte{0xAA}, HeaderSize)
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	mf, err := Attach(path, AttachOptions{SkipValidate: true, SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach with SkipValidate: %v", err)
	}
	defer mf.Detach()
}

// TestAttachNonInitiatorRetriesOnBoundaryMismatch is spec.md §9's
// resolved open question: a non-session-initiator attaching a file
// whose size doesn't land on a section boundary must back off, not
// treat the file as corrupt.
func TestAttachNonInitiatorRetriesOnBoundaryMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.db")
	writeRawHeaderFile(t, path, &Header{}, HeaderSize+10)

	_, err := Attach(path, AttachOptions{SessionInitiator: false})
	if err != ErrRetry {
		t.Fatalf("expected ErrRetry for a non-initiator on a boundary mismatch, got %v", err)
	}
}

func TestAttachInitiatorExtendsToBoundaryOnMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extend.db")
	writeRawHeaderFile(t, path, &Header{}, HeaderSize+10)

	mf, err := Attach(path, AttachOptions{SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer mf.Detach()

	if !mf.Sections().MatchesBoundary(mf.FileSize()) {
		t.Fatalf("expected the session initiator to extend the file to a section boundary, got size %d", mf.FileSize())
	}
}

// TestAttachPromotesStreamingFormForSessionInitiator is spec.md §8 seed
// scenario #2: a streaming-form file promotes to two-slot form, and (since
// the crafted file's size also lands short of a boundary) a session
// initiator extends it in the same Attach call.
func TestAttachPromotesStreamingFormForSessionInitiator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streaming.db")

	h := &Header{TopRef: [2]uint64{StreamingSentinel, 0}}
	writeRawHeaderFile(t, path, h, HeaderSize+FooterSize)

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	footer := &StreamingFooter{Magic: FooterMagic, TopRef: 777}
	if _, err := f.WriteAt(footer.Encode(), HeaderSize); err != nil {
		t.Fatalf("write footer: %v", err)
	}
	f.Close()

	mf, err := Attach(path, AttachOptions{SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer mf.Detach()

	top, err := mf.TopRef()
	if err != nil {
		t.Fatalf("TopRef: %v", err)
	}
	if top != 777 {
		t.Fatalf("expected the promoted top-ref 777, got %d", top)
	}
	if !mf.Sections().MatchesBoundary(mf.FileSize()) {
		t.Fatalf("expected the promoted file to also be extended to a section boundary, got %d", mf.FileSize())
	}
}

func TestAttachNonInitiatorRetriesOnStreamingForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streaming-retry.db")

	h := &Header{TopRef: [2]uint64{StreamingSentinel, 0}}
	writeRawHeaderFile(t, path, h, HeaderSize+FooterSize)

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	footer := &StreamingFooter{Magic: FooterMagic, TopRef: 777}
	if _, err := f.WriteAt(footer.Encode(), HeaderSize); err != nil {
		t.Fatalf("write footer: %v", err)
	}
	f.Close()

	_, err = Attach(path, AttachOptions{SessionInitiator: false})
	if err != ErrRetry {
		t.Fatalf("expected ErrRetry for a non-initiator opening a streaming-form file, got %v", err)
	}
}

func TestWriteBytesSpansSectionBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "write.db")
	mf, err := Attach(path, AttachOptions{SessionInitiator: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer mf.Detach()

	pageSize := mf.Sections().PageSize()
	if err := mf.GrowTo(mf.Sections().SectionBase(3)); err != nil {
		t.Fatalf("GrowTo: %v", err)
	}

	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i + 1)
	}
	pos := pageSize - 8 // the write crosses from section 0 into section 1

	if err := mf.WriteBytes(pos, data); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	firstHalf, err := mf.GetAddr(pos, 8)
	if err != nil {
		t.Fatalf("GetAddr (section 0 tail): %v", err)
	}
	if !bytes.Equal(firstHalf, data[:8]) {
		t.Fatalf("section 0 tail mismatch: got %v, want %v", firstHalf, data[:8])
	}

	secondHalf, err := mf.GetAddr(pageSize, 8)
	if err != nil {
		t.Fatalf("GetAddr (section 1 head): %v", err)
	}
	if !bytes.Equal(secondHalf, data[8:]) {
		t.Fatalf("section 1 head mismatch: got %v, want %v", secondHalf, data[8:])
	}
}
