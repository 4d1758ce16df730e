package sandbox

import (
	"github.com/pkg/errors"
)

// FileSandbox assigns offsets within an in-memory output file image
// (spec §4.5: "FileSandbox — offsets within an output file image").
// Unlike LoaderSandbox, addresses here are plain byte offsets, not
// executable runtime addresses, so no mmap is involved.
type FileSandbox struct {
	cursor
	buf []byte
}

// NewFileSandbox creates a FileSandbox with offsets starting at base
// (typically 0, or a section's virtual-address base when the caller
// wants offsets that double as virtual addresses for a PT_LOAD segment).
func NewFileSandbox(base uint64, size int) *FileSandbox {
	return &FileSandbox{cursor: cursor{base: base, cur: base}, buf: make([]byte, size)}
}

func (s *FileSandbox) Write(addr uint64, buf []byte) error {
	off := addr - s.base
	if off+uint64(len(buf)) > uint64(len(s.buf)) {
		return errors.Errorf("sandbox: write at offset 0x%x overruns file sandbox of size %d", addr, len(s.buf))
	}
	copy(s.buf[off:], buf)
	return nil
}

// Finalize is a no-op for FileSandbox: the backing buffer is already the
// final image, handed to internal/generate for section emission.
func (s *FileSandbox) Finalize() error { return nil }

// Bytes returns the sandbox's backing buffer.
func (s *FileSandbox) Bytes() []byte { return s.buf }

var _ Sandbox = (*FileSandbox)(nil)
