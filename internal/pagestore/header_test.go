package pagestore

import (
	"os"
	"path/filepath"
	"testing"
)

func openTempHeaderFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "header.db")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// TestHeaderEncodeDecodeRoundTrip is spec.md §8 seed scenario #1's basic
// shape: the 24-byte layout survives an encode/decode cycle unchanged.
func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &Header{
		TopRef:     [2]uint64{0x1122, 0x3344},
		FileFormat: [2]uint8{1, 0},
		Flags:      selectBitMask,
	}
	got, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if *got != *h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", *got, *h)
	}
}

func TestDecodeHeaderRejectsBadMnemonic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := DecodeHeader(buf); err != ErrInvalidDatabase {
		t.Fatalf("expected ErrInvalidDatabase for all-zero buffer, got %v", err)
	}
}

// TestWriteSelectBitSequenceTogglesSlot is spec.md §8 seed scenario #1:
// a commit's select-bit toggle leaves the previously authoritative slot
// untouched and flips which one SelectedTopRef reports.
func TestWriteSelectBitSequenceTogglesSlot(t *testing.T) {
	f := openTempHeaderFile(t)
	h := &Header{}
	if err := WriteSelectBitSequence(f, h, 100); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if h.SelectedSlot() != 1 {
		t.Fatalf("expected slot 1 selected after first commit, got %d", h.SelectedSlot())
	}
	if h.SelectedTopRef() != 100 {
		t.Fatalf("expected top-ref 100, got %d", h.SelectedTopRef())
	}
	if h.TopRef[0] != 0 {
		t.Fatalf("expected the previously authoritative slot 0 untouched, got %d", h.TopRef[0])
	}

	if err := WriteSelectBitSequence(f, h, 200); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if h.SelectedSlot() != 0 {
		t.Fatalf("expected slot 0 selected after second commit, got %d", h.SelectedSlot())
	}
	if h.SelectedTopRef() != 200 {
		t.Fatalf("expected top-ref 200, got %d", h.SelectedTopRef())
	}
	if h.TopRef[1] != 100 {
		t.Fatalf("expected slot 1 to retain the prior top-ref 100, got %d", h.TopRef[1])
	}

	reread, err := ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if reread.SelectedTopRef() != 200 {
		t.Fatalf("expected the on-disk header to agree, got top-ref %d", reread.SelectedTopRef())
	}
}

// TestPromoteStreamingFormWritesTwoSlotHeader is half of spec.md §8 seed
// scenario #2: a streaming-form header plus trailing footer promotes to
// a two-slot header carrying the footer's top-ref.
func TestPromoteStreamingFormWritesTwoSlotHeader(t *testing.T) {
	f := openTempHeaderFile(t)

	h := &Header{TopRef: [2]uint64{StreamingSentinel, 0}}
	if _, err := f.WriteAt(h.Encode(), 0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	footer := &StreamingFooter{Magic: FooterMagic, TopRef: 777}
	if _, err := f.WriteAt(footer.Encode(), HeaderSize); err != nil {
		t.Fatalf("write footer: %v", err)
	}
	fileSize := int64(HeaderSize + FooterSize)

	if !h.IsStreamingForm() {
		t.Fatal("expected streaming-form header before promotion")
	}

	promoted, err := PromoteStreamingForm(f, h, fileSize)
	if err != nil {
		t.Fatalf("PromoteStreamingForm: %v", err)
	}
	if promoted.IsStreamingForm() {
		t.Fatal("expected a two-slot header after promotion")
	}
	if promoted.SelectedTopRef() != 777 {
		t.Fatalf("expected promoted top-ref 777, got %d", promoted.SelectedTopRef())
	}

	reread, err := ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader after promotion: %v", err)
	}
	if reread.IsStreamingForm() || reread.SelectedTopRef() != 777 {
		t.Fatalf("expected on-disk header to reflect the promotion, got %+v", *reread)
	}
}

func TestReadStreamingFooterRejectsBadMagic(t *testing.T) {
	f := openTempHeaderFile(t)
	footer := &StreamingFooter{Magic: 0xdead, TopRef: 1}
	if _, err := f.WriteAt(footer.Encode(), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadStreamingFooter(f, FooterSize); err != ErrInvalidDatabase {
		t.Fatalf("expected ErrInvalidDatabase for bad magic, got %v", err)
	}
}
