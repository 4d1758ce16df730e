package sandbox

import (
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// addressOf returns the actual virtual address backing an mmap'd region,
// used as the LoaderSandbox's base since anonymous mmap cannot be pinned
// to a caller-chosen address portably.
func addressOf(region mmap.MMap) uint64 {
	if len(region) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&region[0])))
}

// unixProtect changes the protection of an mmap'd region in place,
// grounded on the same edsrzf/mmap-go + golang.org/x/sys/unix pairing
// saferwall-pe uses for its own mapped executable regions.
func unixProtect(region mmap.MMap, prot int) error {
	return unix.Mprotect(region, prot)
}
