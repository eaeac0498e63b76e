// MappedFile: the process-global, refcounted owner of one database
// file's OS handle and section mappings. The Open/Close state machine
// and file-lock pairing are generalized from a single whole-file lock
// to a per-absolute-path table so that multiple Attach calls within one
// process share the same underlying mapping set instead of mmap'ing the
// file twice.
package pagestore

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/latticedb/lattice/internal/telemetry"
)

var log = telemetry.Component("pagestore")

// registry is the process-wide table of open MappedFiles keyed by
// absolute path, mirroring spec.md §9's note that attach/detach must be
// coordinated process-wide, not per *MappedFile value.
var (
	registryMu sync.Mutex
	registry   = map[string]*MappedFile{}
)

// MappedFile owns the os.File handle, the growable list of section
// mappings backing it, and a refcount of live Attach callers.
type MappedFile struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	lock     fileLock
	sections *SectionMap
	mappings [][]byte // one slice per live section, index-aligned
	fileSize int64
	refs     int
	readOnly bool
	shared   bool
	cipher   *PageCipher
}

// AttachOptions configures Attach, per spec.md §4.2's Attach option
// table.
type AttachOptions struct {
	ReadOnly      bool
	EncryptionKey *[64]byte

	// NoCreate refuses to create the file if it doesn't already exist.
	NoCreate bool
	// IsShared opens the file under lock-file discipline so concurrent
	// processes on the same path don't corrupt each other's writes.
	IsShared bool
	// SessionInitiator marks this process as the first opener: only a
	// session initiator may promote a streaming-form file to two-slot
	// form or extend the file to a section boundary. A non-initiator
	// that finds either condition gets ErrRetry instead.
	SessionInitiator bool
	// ClearFile truncates and reinitializes the header before any other
	// validation runs. Requires SessionInitiator.
	ClearFile bool
	// SkipValidate bypasses the header/footer and section-boundary
	// checks entirely.
	SkipValidate bool
}

// Attach opens (or joins an already-open) MappedFile for path, bumping
// its refcount. The first Attach for a path performs the real open;
// subsequent calls from the same process reuse the mapping set.
func Attach(path string, opts AttachOptions) (*MappedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if mf, ok := registry[abs]; ok {
		mf.mu.Lock()
		mf.refs++
		mf.mu.Unlock()
		return mf, nil
	}

	if opts.ClearFile && !opts.SessionInitiator {
		return nil, ErrInvalidDatabase
	}

	flag := os.O_RDWR
	if !opts.NoCreate {
		flag |= os.O_CREATE
	}
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(abs, flag, 0o644)
	if err != nil {
		return nil, err
	}

	mf := &MappedFile{
		path:     abs,
		f:        f,
		sections: NewSectionMap(int64(os.Getpagesize())),
		readOnly: opts.ReadOnly,
		shared:   opts.IsShared,
		refs:     1,
	}
	mf.lock.setFile(f)

	if opts.IsShared {
		mode := LockShared
		if !opts.ReadOnly {
			mode = LockExclusive
		}
		if err := mf.lock.Lock(mode); err != nil {
			f.Close()
			return nil, err
		}
	}

	if opts.EncryptionKey != nil {
		cipher, err := NewPageCipher(*opts.EncryptionKey)
		if err != nil {
			f.Close()
			return nil, err
		}
		mf.cipher = cipher
	}

	if err := mf.initOrValidate(opts); err != nil {
		if opts.IsShared {
			mf.lock.Unlock()
		}
		f.Close()
		return nil, err
	}

	registry[abs] = mf
	log.Debug().Str("path", abs).Msg("mapped file attached")
	return mf, nil
}

// initOrValidate handles the cases spec.md §4.2 lists for a fresh
// Attach: an explicit clear_file reinitialization, empty file (write a
// fresh header), existing two-slot file (validate mnemonic), or
// streaming-form file (promote to two-slot, when session_initiator).
func (mf *MappedFile) initOrValidate(opts AttachOptions) error {
	if opts.ClearFile {
		if err := mf.f.Truncate(0); err != nil {
			return err
		}
		mf.fileSize = 0
	} else {
		info, err := mf.f.Stat()
		if err != nil {
			return err
		}
		mf.fileSize = info.Size()
	}

	if mf.fileSize == 0 {
		if mf.readOnly {
			return ErrInvalidDatabase
		}
		h := &Header{}
		if _, err := mf.f.WriteAt(h.Encode(), 0); err != nil {
			return err
		}
		mf.fileSize = HeaderSize
		target := mf.sections.SectionBase(1)
		if err := mf.f.Truncate(target); err != nil {
			return err
		}
		mf.fileSize = target
		return nil
	}

	if opts.SkipValidate {
		return nil
	}

	h, err := ReadHeader(mf.f)
	if err != nil {
		return err
	}
	if h.IsStreamingForm() {
		if mf.readOnly {
			return ErrInvalidDatabase
		}
		if !opts.SessionInitiator {
			return ErrRetry
		}
		if _, err := PromoteStreamingForm(mf.f, h, mf.fileSize); err != nil {
			return err
		}
	}

	if !mf.readOnly && !mf.sections.MatchesBoundary(mf.fileSize) {
		if !opts.SessionInitiator {
			return ErrRetry
		}
		target := mf.sections.SectionBase(mf.sections.SectionCountFor(mf.fileSize))
		if err := mf.f.Truncate(target); err != nil {
			return err
		}
		mf.fileSize = target
	}
	return nil
}

// Detach releases one reference. The underlying handle and mappings are
// closed when the refcount reaches zero.
func (mf *MappedFile) Detach() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	mf.mu.Lock()
	mf.refs--
	remaining := mf.refs
	mf.mu.Unlock()

	if remaining > 0 {
		return nil
	}

	delete(registry, mf.path)
	return mf.close()
}

func (mf *MappedFile) close() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	for _, b := range mf.mappings {
		if b != nil {
			_ = munmapSection(b)
		}
	}
	mf.mappings = nil
	if mf.shared {
		_ = mf.lock.Unlock()
	}
	mf.lock.setFile(nil)
	return mf.f.Close()
}

// GrowTo extends the file so that it reaches at least size bytes,
// rounded up to the next section boundary per spec.md §4.1's geometry.
// Newly covered sections are not mapped here; each is mapped lazily on
// first access. Growth happens under mf.mu so
// concurrent writers within the process never race the truncate.
func (mf *MappedFile) GrowTo(size int64) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if size <= mf.fileSize {
		return nil
	}
	need := mf.sections.SectionCountFor(size)
	target := mf.sections.SectionBase(need)

	if err := mf.f.Truncate(target); err != nil {
		return err
	}
	mf.fileSize = target
	log.Debug().Int64("size", target).Msg("grew mapped file")
	return nil
}

// sectionFor returns the (possibly lazily created) mapping covering
// section i, growing mf.mappings as needed.
func (mf *MappedFile) sectionFor(i int) ([]byte, error) {
	for len(mf.mappings) <= i {
		mf.mappings = append(mf.mappings, nil)
	}
	if mf.mappings[i] != nil {
		return mf.mappings[i], nil
	}

	base := mf.sections.SectionBase(i)
	span := mf.sections.SectionBase(i+1) - base
	b, err := mmapSection(int(mf.f.Fd()), base, span, !mf.readOnly)
	if err != nil {
		return nil, err
	}
	mf.mappings[i] = b
	return b, nil
}

// GetAddr returns the byte slice of length n starting at file offset
// pos. pos..pos+n must not cross a section boundary (spec.md §4.1's
// "chunks never cross a slab boundary" invariant makes this safe for
// every caller in internal/slab).
func (mf *MappedFile) GetAddr(pos int64, n int64) ([]byte, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	idx := mf.sections.SectionIndexOf(pos)
	b, err := mf.sectionFor(idx)
	if err != nil {
		return nil, err
	}
	base := mf.sections.SectionBase(idx)
	off := pos - base
	if off+n > int64(len(b)) {
		return nil, ErrInvalidDatabase
	}
	return b[off : off+n], nil
}

// SectionRemainder returns the byte slice from file offset pos to the
// end of the section containing pos. Callers that don't yet know how
// many bytes they need (e.g. the slab allocator, which narrows the
// slice to the allocation's own size afterward) use this instead of
// GetAddr.
func (mf *MappedFile) SectionRemainder(pos int64) ([]byte, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	idx := mf.sections.SectionIndexOf(pos)
	b, err := mf.sectionFor(idx)
	if err != nil {
		return nil, err
	}
	base := mf.sections.SectionBase(idx)
	off := pos - base
	if off > int64(len(b)) {
		return nil, ErrInvalidDatabase
	}
	return b[off:], nil
}

// WriteBytes copies data into the file starting at byte offset pos,
// splitting the write across however many sections it spans. Used by the
// slab allocator to promote committed scratch-slab bytes into file
// sections (spec.md §3's "destroyed on detach or at commit, their
// contents promoted to file bytes" slab lifecycle).
func (mf *MappedFile) WriteBytes(pos int64, data []byte) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	for len(data) > 0 {
		idx := mf.sections.SectionIndexOf(pos)
		b, err := mf.sectionFor(idx)
		if err != nil {
			return err
		}
		base := mf.sections.SectionBase(idx)
		off := pos - base
		if off > int64(len(b)) {
			return ErrInvalidDatabase
		}
		n := copy(b[off:], data)
		data = data[n:]
		pos += int64(n)
	}
	return nil
}

// Sync flushes all live mappings and the file header to stable storage.
func (mf *MappedFile) Sync() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	for _, b := range mf.mappings {
		if b != nil {
			if err := msyncSection(b); err != nil {
				return err
			}
		}
	}
	return mf.f.Sync()
}

// TopRef returns the currently authoritative top-ref recorded in the
// file header.
func (mf *MappedFile) TopRef() (uint64, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	h, err := ReadHeader(mf.f)
	if err != nil {
		return 0, err
	}
	return h.SelectedTopRef(), nil
}

// CommitTopRef persists newTopRef as the new authoritative top-ref via
// the select-bit write sequence (spec.md §4.2), then fsyncs.
func (mf *MappedFile) CommitTopRef(newTopRef uint64) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	h, err := ReadHeader(mf.f)
	if err != nil {
		return err
	}
	return WriteSelectBitSequence(mf.f, h, newTopRef)
}

// Lock acquires the process-external advisory lock backing is_shared
// coordination (spec.md §4.2).
func (mf *MappedFile) Lock(mode LockMode) error { return mf.lock.Lock(mode) }

// Unlock releases the advisory lock acquired via Lock.
func (mf *MappedFile) Unlock() error { return mf.lock.Unlock() }

// FileSize returns the current file size in bytes.
func (mf *MappedFile) FileSize() int64 {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return mf.fileSize
}

// Sections returns the SectionMap this file was attached with.
func (mf *MappedFile) Sections() *SectionMap { return mf.sections }

// Cipher returns the page cipher for this file, or nil if the file was
// attached without an encryption key. MappedFile itself never applies
// the cipher: mapped sections are read and written as plaintext.
func (mf *MappedFile) Cipher() *PageCipher { return mf.cipher }

// WriteCopyTo exports the live file's current byte contents to dst,
// for spec.md §9/SPEC_FULL.md §11's write_copy (snapshot export): a
// point-in-time copy a caller can open as an independent database.
func (mf *MappedFile) WriteCopyTo(dst *os.File) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if err := mf.f.Sync(); err != nil {
		return err
	}
	if _, err := mf.f.Seek(0, 0); err != nil {
		return err
	}
	_, err := io.Copy(dst, io.LimitReader(mf.f, mf.fileSize))
	return err
}

// Truncate shrinks the file to newSize, invalidating any section
// mapping that covered the discarded tail. newSize must land on a
// section boundary. Compaction (coordinator.Compact) does not call it.
func (mf *MappedFile) Truncate(newSize int64) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if !mf.sections.MatchesBoundary(newSize) || newSize >= mf.fileSize {
		return ErrInvalidDatabase
	}
	keep := mf.sections.SectionCountFor(newSize)
	for i := keep; i < len(mf.mappings); i++ {
		if mf.mappings[i] != nil {
			_ = munmapSection(mf.mappings[i])
			mf.mappings[i] = nil
		}
	}
	if keep < len(mf.mappings) {
		mf.mappings = mf.mappings[:keep]
	}
	if err := mf.f.Truncate(newSize); err != nil {
		return err
	}
	mf.fileSize = newSize
	return nil
}
