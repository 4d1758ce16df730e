package generate

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/SleepyMug/egalito/internal/chunk"
)

// pltEntrySize is the fixed width of every PLT[1..n] stub this generator
// emits, matching the teacher's 16-byte PLT entries (plt_got.go).
const pltEntrySize = 16

// RebuildPLT regenerates a module's PLT and GOT from the PLTTrampolines
// that survive after layout, dropping entries for trampolines no call
// site still links to (SPEC_FULL.md SUPPLEMENTED FEATURES item 6: "dead
// PLT entries are dropped, not merely left stale"). Byte layout is
// grounded on the teacher's plt_got.go GeneratePLT/GenerateGOT.
//
// live reports, for a given trampoline, whether any surviving PLTLink
// still targets it; callers compute this by scanning the resolved
// Program's semantics (internal/conductor's resolvePLT phase is what
// creates PLTLinks in the first place).
func RebuildPLT(trampolines []*chunk.PLTTrampoline, live func(*chunk.PLTTrampoline) bool, gotBase, pltBase uint64) (plt, got []byte) {
	var survivors []*chunk.PLTTrampoline
	for _, t := range trampolines {
		if live(t) {
			survivors = append(survivors, t)
		}
	}

	var pltBuf bytes.Buffer
	// PLT[0]: special resolver stub (pushq GOT[1]; jmpq *GOT[2]; padding).
	pltBuf.Write([]byte{0xff, 0x35})
	binary.Write(&pltBuf, binary.LittleEndian, uint32(gotBase+8-pltBase-6))
	pltBuf.Write([]byte{0xff, 0x25})
	binary.Write(&pltBuf, binary.LittleEndian, uint32(gotBase+16-pltBase-12))
	pltBuf.Write([]byte{0x0f, 0x1f, 0x40, 0x00})

	for i := range survivors {
		pltOffset := pltBase + uint64(pltBuf.Len())
		gotOffset := gotBase + uint64(24+i*8)

		pltBuf.Write([]byte{0xff, 0x25})
		binary.Write(&pltBuf, binary.LittleEndian, int32(gotOffset-pltOffset-6))

		pltBuf.Write([]byte{0x68})
		binary.Write(&pltBuf, binary.LittleEndian, uint32(i))

		pltBuf.Write([]byte{0xe9})
		binary.Write(&pltBuf, binary.LittleEndian, int32(pltBase-pltOffset-16))
	}

	var gotBuf bytes.Buffer
	binary.Write(&gotBuf, binary.LittleEndian, gotBase) // GOT[0]: _DYNAMIC placeholder, patched by the linker
	binary.Write(&gotBuf, binary.LittleEndian, uint64(0))
	binary.Write(&gotBuf, binary.LittleEndian, uint64(0))
	for i := range survivors {
		pushAddr := pltBase + 16 + uint64(i*16) + 6
		binary.Write(&gotBuf, binary.LittleEndian, pushAddr)
	}

	return pltBuf.Bytes(), gotBuf.Bytes()
}

// PLTOffset returns a surviving trampoline's byte offset within the
// rebuilt PLT, or -1 if it did not survive (grounded on the teacher's
// GetPLTOffset).
func PLTOffset(survivors []*chunk.PLTTrampoline, name string) int {
	for i, t := range survivors {
		if t.Name() == name {
			return pltEntrySize + i*pltEntrySize
		}
	}
	return -1
}

// patchX86PLTCall overwrites a 5-byte x86-64 `call rel32` at currentAddr
// so it targets the PLT entry at pltBase+pltOffset (grounded on the
// teacher's elf_complete.go patchX86PLTCalls).
func patchX86PLTCall(w io.Writer, currentAddr, pltBase uint64, pltOffset int) (int64, error) {
	targetAddr := pltBase + uint64(pltOffset)
	nextInstr := currentAddr + 5
	disp := int32(int64(targetAddr) - int64(nextInstr))
	buf := make([]byte, 5)
	buf[0] = 0xe8
	binary.LittleEndian.PutUint32(buf[1:], uint32(disp))
	n, err := w.Write(buf)
	return int64(n), err
}

// patchARM64PLTCall overwrites a 4-byte AArch64 BL instruction so it
// targets the PLT entry at pltBase+pltOffset (grounded on the teacher's
// elf_complete.go patchARM64PLTCalls).
func patchARM64PLTCall(w io.Writer, currentAddr, pltBase uint64, pltOffset int) (int64, error) {
	targetAddr := pltBase + uint64(pltOffset)
	imm := (int64(targetAddr) - int64(currentAddr)) / 4
	word := uint32(0x94000000) | (uint32(imm) & 0x03ffffff)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	n, err := w.Write(buf)
	return int64(n), err
}
