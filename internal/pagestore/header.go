// File header and streaming-form footer.
//
// This format fixes an exact 24-byte little-endian binary layout with a
// 4-byte mnemonic and a flags byte — a JSON envelope can't produce that
// byte-for-byte, so this uses encoding/binary directly. The dirty-bit
// helper pattern (flip one byte in place, fsync) matches the convention
// used elsewhere in this package.
package pagestore

import (
	"encoding/binary"
	"errors"
	"os"
)

// HeaderSize is the fixed 24-byte prefix every database file begins
// with, per spec.md §6.
const HeaderSize = 24

// StreamingSentinel marks slot 0 as "streaming form": the real top-ref
// lives in a StreamingFooter at end-of-file instead.
const StreamingSentinel uint64 = 0xFFFF_FFFF_FFFF_FFFF

// FooterMagic is the engine-specific cookie preceding the streaming
// footer's top-ref.
const FooterMagic uint64 = 0x5245_414C_4D2D_4442 // "REALM-DB" in ASCII hex

// FooterSize is the fixed size of the streaming-form footer.
const FooterSize = 16

var mnemonic = [4]byte{'T', '-', 'D', 'B'}

const (
	selectBitMask byte = 1 << 0
)

// Header is the 24-byte file prefix: two top-ref slots, a mnemonic, a
// two-byte file-format version pair, a reserved byte, and a flags byte
// whose LSB (the select bit) names which top-ref slot is authoritative.
type Header struct {
	TopRef     [2]uint64
	FileFormat [2]uint8
	Flags      uint8
}

// SelectedSlot returns which of TopRef[0]/TopRef[1] is authoritative.
func (h *Header) SelectedSlot() int {
	if h.Flags&selectBitMask != 0 {
		return 1
	}
	return 0
}

// SelectedTopRef returns the authoritative top-ref per the select bit.
func (h *Header) SelectedTopRef() uint64 {
	return h.TopRef[h.SelectedSlot()]
}

// IsStreamingForm reports whether slot 0 carries the streaming sentinel
// while the select bit still names slot 0, meaning the real top-ref is in
// a StreamingFooter at EOF. After promotion the select bit names slot 1,
// so the sentinel left behind in slot 0 no longer counts.
func (h *Header) IsStreamingForm() bool {
	return h.TopRef[0] == StreamingSentinel && h.Flags&selectBitMask == 0
}

// Encode serialises the header to exactly HeaderSize bytes.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.TopRef[0])
	binary.LittleEndian.PutUint64(buf[8:16], h.TopRef[1])
	copy(buf[16:20], mnemonic[:])
	buf[20] = h.FileFormat[0]
	buf[21] = h.FileFormat[1]
	buf[22] = 0 // reserved
	buf[23] = h.Flags
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer, validating the mnemonic.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrInvalidDatabase
	}
	if buf[16] != mnemonic[0] || buf[17] != mnemonic[1] || buf[18] != mnemonic[2] || buf[19] != mnemonic[3] {
		return nil, ErrInvalidDatabase
	}
	h := &Header{
		TopRef:     [2]uint64{binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])},
		FileFormat: [2]uint8{buf[20], buf[21]},
		Flags:      buf[23],
	}
	return h, nil
}

// ReadHeader reads and validates the header from f at offset 0.
func ReadHeader(f *os.File) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, errors.Join(ErrInvalidDatabase, err)
	}
	return DecodeHeader(buf)
}

// WriteSelectBitSequence performs spec.md §4.2's promotion write
// protocol: write the new top-ref into the *inactive* slot, sync, flip
// the select bit to make it authoritative, sync again. This two-sync
// sequence is what makes a torn write during either step leave the
// previously-committed top-ref intact.
func WriteSelectBitSequence(f *os.File, h *Header, newTopRef uint64) error {
	inactive := 1 - h.SelectedSlot()
	h.TopRef[inactive] = newTopRef

	if err := writeHeaderAt(f, h); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	if inactive == 1 {
		h.Flags |= selectBitMask
	} else {
		h.Flags &^= selectBitMask
	}
	if err := writeHeaderAt(f, h); err != nil {
		return err
	}
	return f.Sync()
}

func writeHeaderAt(f *os.File, h *Header) error {
	_, err := f.WriteAt(h.Encode(), 0)
	return err
}

// StreamingFooter is the trailer of a streaming-form file: an
// engine-specific magic cookie followed by the real top-ref.
type StreamingFooter struct {
	Magic  uint64
	TopRef uint64
}

// Encode serialises the footer to exactly FooterSize bytes.
func (f *StreamingFooter) Encode() []byte {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.Magic)
	binary.LittleEndian.PutUint64(buf[8:16], f.TopRef)
	return buf
}

// ReadStreamingFooter reads the footer from the last FooterSize bytes of
// a file of size fileSize, validating the magic cookie.
func ReadStreamingFooter(f *os.File, fileSize int64) (*StreamingFooter, error) {
	if fileSize < FooterSize {
		return nil, ErrInvalidDatabase
	}
	buf := make([]byte, FooterSize)
	if _, err := f.ReadAt(buf, fileSize-FooterSize); err != nil {
		return nil, errors.Join(ErrInvalidDatabase, err)
	}
	magic := binary.LittleEndian.Uint64(buf[0:8])
	if magic != FooterMagic {
		return nil, ErrInvalidDatabase
	}
	return &StreamingFooter{Magic: magic, TopRef: binary.LittleEndian.Uint64(buf[8:16])}, nil
}

// PromoteStreamingForm converts a streaming-form file into two-slot form
// before any mapping is returned to a session initiator, per spec.md
// §4.2: write slot 1 with the footer's top-ref, sync, flip the select
// bit, sync. Returns the promoted header.
func PromoteStreamingForm(f *os.File, h *Header, fileSize int64) (*Header, error) {
	footer, err := ReadStreamingFooter(f, fileSize)
	if err != nil {
		return nil, err
	}
	if err := WriteSelectBitSequence(f, h, footer.TopRef); err != nil {
		return nil, err
	}
	return h, nil
}
