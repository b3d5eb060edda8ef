//go:build unix

package heap

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mapMemory maps size bytes of zeroed, page-aligned anonymous memory outside the Go
// heap. The Go collector never scans this memory.
func mapMemory(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to map a chunk of %d bytes", size)
	}

	return data, nil
}

func unmapMemory(data []byte) error {
	err := unix.Munmap(data)
	if err != nil {
		return cerrors.Wrapf(err, "failed to unmap a chunk of %d bytes", len(data))
	}

	return nil
}
