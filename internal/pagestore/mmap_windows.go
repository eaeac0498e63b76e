//go:build windows

// mmap backend for Windows via CreateFileMapping/MapViewOfFile,
// paired with mmap_unix.go behind the same three-function contract
// mapped_file.go depends on (grounded on the lock_unix/lock_windows
// build-tag split convention).
package pagestore

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func mmapSection(fd int, offset, length int64, writable bool) ([]byte, error) {
	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	h := windows.Handle(fd)
	mapping, err := windows.CreateFileMapping(h, nil, prot, uint32(uint64(offset+length)>>32), uint32(uint64(offset+length)), nil)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(mapping)

	addr, err := windows.MapViewOfFile(mapping, access, uint32(uint64(offset)>>32), uint32(uint64(offset)), uintptr(length))
	if err != nil {
		return nil, err
	}

	var b []byte
	sh := (*struct {
		Data uintptr
		Len  int
		Cap  int
	})(unsafe.Pointer(&b))
	sh.Data = addr
	sh.Len = int(length)
	sh.Cap = int(length)
	return b, nil
}

func munmapSection(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b[0]))
	return windows.UnmapViewOfFile(addr)
}

func msyncSection(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b[0]))
	return windows.FlushViewOfFile(addr, uintptr(len(b)))
}
