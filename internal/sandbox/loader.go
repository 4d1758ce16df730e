package sandbox

import (
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LoaderSandbox is an in-memory, directly-executable address range (spec
// §4.5): "addresses are the actual runtime addresses". Backed by an
// anonymous mmap mapping, grounded on saferwall-pe and dolthub-dolt's use
// of edsrzf/mmap-go for mapped byte regions.
type LoaderSandbox struct {
	cursor
	region mmap.MMap
}

// NewLoaderSandbox maps size bytes of anonymous read-write memory
// (Finalize later makes it read+execute). It takes no base address:
// since anonymous mmap cannot be pinned to an arbitrary virtual address
// portably, the sandbox's base is the mapping's actual address, read back
// after mmap succeeds, and Links are resolved against it.
func NewLoaderSandbox(size int) (*LoaderSandbox, error) {
	region, err := mmap.MapRegion(nil, size, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: mmap anonymous region")
	}
	if err := region.Flush(); err != nil {
		region.Unmap()
		return nil, errors.Wrap(err, "sandbox: flush freshly mapped region")
	}
	base := addressOf(region)
	return &LoaderSandbox{cursor: cursor{base: base, cur: base}, region: region}, nil
}

func (s *LoaderSandbox) Write(addr uint64, buf []byte) error {
	off := addr - s.base
	if off+uint64(len(buf)) > uint64(len(s.region)) {
		return errors.Errorf("sandbox: write at 0x%x overruns loader sandbox of size %d", addr, len(s.region))
	}
	copy(s.region[off:], buf)
	return nil
}

// Finalize marks the mapped region executable, matching spec §4.5's
// "designed for direct execution post-rewrite": code motion is complete,
// so the region no longer needs to be writable.
func (s *LoaderSandbox) Finalize() error {
	if err := s.region.Flush(); err != nil {
		return errors.Wrap(err, "sandbox: flush loader sandbox before protecting")
	}
	if err := unixProtect(s.region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "sandbox: mark loader sandbox executable")
	}
	return nil
}

// Close releases the mapped region. Spec §5: "sandboxes acquire an
// address range on creation and release it on destruction".
func (s *LoaderSandbox) Close() error {
	return s.region.Unmap()
}

var _ Sandbox = (*LoaderSandbox)(nil)
