//go:build unix || linux || darwin

// mmap backend for Unix, built on golang.org/x/sys/unix.
package pagestore

import "golang.org/x/sys/unix"

func mmapSection(fd int, offset, length int64, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(fd, offset, int(length), prot, unix.MAP_SHARED)
}

func munmapSection(b []byte) error {
	return unix.Munmap(b)
}

func msyncSection(b []byte) error {
	return unix.Msync(b, unix.MS_SYNC)
}
