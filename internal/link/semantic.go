package link

import (
	"encoding/binary"
	"fmt"

	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/isa"
)

// Resolver answers address and existence questions about chunkid.Refs
// during emission. A Program (internal/chunk) implements this; link
// itself never imports the tree package, keeping the weak-reference
// discipline spec §9 calls for.
type Resolver interface {
	// Address returns the current absolute address of the referenced
	// chunk, or ok=false if the reference no longer resolves.
	Address(chunkid.Ref) (addr uint64, ok bool)
}

// Semantic is the single payload an Instruction chunk owns (spec §3.2).
// Emitting a Semantic must reflect the link's *current* resolved target,
// never the address seen at parse time.
type Semantic interface {
	// Size returns the current encoded byte size. For a fixed encoding
	// this is constant; for a control-transfer it depends on the
	// currently committed Width (short vs long form).
	Size() int
	// WriteInto emits bytes for this semantic, given the address of the
	// instruction itself (not the target).
	WriteInto(out []byte, currentAddress uint64, r Resolver) error
	GetLink() Link
	SetLink(Link)
}

// RawBytes is a literal opcode sequence carrying no symbolic reference.
type RawBytes struct {
	Bytes []byte
	link  Link // normally nil; a pass may attach one to a previously-raw slot
}

func (s *RawBytes) Size() int    { return len(s.Bytes) }
func (s *RawBytes) GetLink() Link { return s.link }
func (s *RawBytes) SetLink(l Link) { s.link = l }
func (s *RawBytes) WriteInto(out []byte, _ uint64, _ Resolver) error {
	if len(out) < len(s.Bytes) {
		return fmt.Errorf("link: output buffer too small for raw bytes (%d < %d)", len(out), len(s.Bytes))
	}
	copy(out, s.Bytes)
	return nil
}

// Disassembled is a decoded instruction kept alongside its original bytes
// for inspection; it is not linked, so it emits its original encoding
// unmodified.
type Disassembled struct {
	Bytes   []byte
	Mnemonic string
	Operands string
	link    Link
}

func (s *Disassembled) Size() int    { return len(s.Bytes) }
func (s *Disassembled) GetLink() Link { return s.link }
func (s *Disassembled) SetLink(l Link) { s.link = l }
func (s *Disassembled) WriteInto(out []byte, _ uint64, _ Resolver) error {
	if len(out) < len(s.Bytes) {
		return fmt.Errorf("link: output buffer too small for disassembled instruction (%d < %d)", len(out), len(s.Bytes))
	}
	copy(out, s.Bytes)
	return nil
}

// BranchWidth selects between the short and long encodings of a
// control-transfer. The layout fixpoint (spec §4.5) only ever widens —
// never narrows — a chosen width, which is what guarantees convergence.
type BranchWidth uint8

const (
	WidthShort BranchWidth = iota
	WidthLong
)

// ControlKind distinguishes the control-transfer forms the core needs to
// re-encode after layout.
type ControlKind uint8

const (
	ControlCall ControlKind = iota
	ControlJump
	ControlJumpConditional
)

// LinkedControlFlow is a call, jump, or conditional branch whose target
// is a Link (spec §3.2). Size may be fixed (AArch64: branches are always
// 4 bytes, so Width is ignored) or range-bounded (x86-64: short Jcc is 2
// bytes, long Jcc is 6 bytes).
type LinkedControlFlow struct {
	Arch      isa.Arch
	Kind      ControlKind
	Width     BranchWidth
	Condition uint8 // x86-64 Jcc condition code; unused for Call/Jump
	link      Link
}

func (s *LinkedControlFlow) GetLink() Link   { return s.link }
func (s *LinkedControlFlow) SetLink(l Link) { s.link = l }

func (s *LinkedControlFlow) Size() int {
	switch s.Arch {
	case isa.ArchAArch64:
		return 4
	case isa.ArchX86_64:
		switch s.Kind {
		case ControlCall:
			return 5 // e8 rel32
		case ControlJump:
			if s.Width == WidthShort {
				return 2 // eb rel8
			}
			return 5 // e9 rel32
		case ControlJumpConditional:
			if s.Width == WidthShort {
				return 2 // 7x rel8
			}
			return 6 // 0f 8x rel32
		}
	}
	return 0
}

// Widen upgrades a short-form branch to its long form. It is a no-op for
// architectures with a single fixed branch size and for already-long
// encodings; it never shrinks, matching the monotonicity invariant of
// spec §8.
func (s *LinkedControlFlow) Widen() (changed bool) {
	if s.Arch == isa.ArchX86_64 && s.Width == WidthShort {
		s.Width = WidthLong
		return true
	}
	return false
}

// displacement computes the ISA-specific signed distance from this
// instruction to its resolved target, given the instruction's own
// address and final size.
func (s *LinkedControlFlow) displacement(currentAddress uint64, r Resolver) (int64, error) {
	if s.link == nil || !s.link.Resolved() {
		return 0, fmt.Errorf("link: emitting unresolved control-flow link at 0x%x", currentAddress)
	}
	target, ok := r.Address(s.link.Target())
	if !ok {
		return 0, fmt.Errorf("link: control-flow target at 0x%x no longer resolves", currentAddress)
	}
	return int64(target) - int64(currentAddress+uint64(s.Size())), nil
}

func (s *LinkedControlFlow) WriteInto(out []byte, currentAddress uint64, r Resolver) error {
	disp, err := s.displacement(currentAddress, r)
	if err != nil {
		return err
	}
	size := s.Size()
	if len(out) < size {
		return fmt.Errorf("link: output buffer too small for control-flow instruction (%d < %d)", len(out), size)
	}
	switch s.Arch {
	case isa.ArchAArch64:
		return encodeAArch64Branch(out, s.Kind, disp)
	case isa.ArchX86_64:
		return encodeX86Branch(out, s.Kind, s.Width, s.Condition, disp)
	default:
		return fmt.Errorf("link: unsupported architecture %v", s.Arch)
	}
}

func encodeX86Branch(out []byte, kind ControlKind, width BranchWidth, cond uint8, disp int64) error {
	switch kind {
	case ControlCall:
		out[0] = 0xe8
		binary.LittleEndian.PutUint32(out[1:5], uint32(int32(disp)))
	case ControlJump:
		if width == WidthShort {
			if disp < -128 || disp > 127 {
				return fmt.Errorf("link: short jump displacement %d out of range", disp)
			}
			out[0] = 0xeb
			out[1] = byte(int8(disp))
		} else {
			out[0] = 0xe9
			binary.LittleEndian.PutUint32(out[1:5], uint32(int32(disp)))
		}
	case ControlJumpConditional:
		if width == WidthShort {
			if disp < -128 || disp > 127 {
				return fmt.Errorf("link: short conditional jump displacement %d out of range", disp)
			}
			out[0] = 0x70 | cond
			out[1] = byte(int8(disp))
		} else {
			out[0] = 0x0f
			out[1] = 0x80 | cond
			binary.LittleEndian.PutUint32(out[2:6], uint32(int32(disp)))
		}
	default:
		return fmt.Errorf("link: unknown x86-64 control kind %d", kind)
	}
	return nil
}

func encodeAArch64Branch(out []byte, kind ControlKind, disp int64) error {
	if disp%4 != 0 {
		return fmt.Errorf("link: aarch64 branch displacement %d is not 4-byte aligned", disp)
	}
	imm := disp / 4
	var word uint32
	switch kind {
	case ControlCall:
		if imm < -(1<<25) || imm >= (1<<25) {
			return fmt.Errorf("link: aarch64 BL displacement out of range")
		}
		word = 0x94000000 | uint32(imm)&0x03ffffff
	case ControlJump:
		if imm < -(1<<25) || imm >= (1<<25) {
			return fmt.Errorf("link: aarch64 B displacement out of range")
		}
		word = 0x14000000 | uint32(imm)&0x03ffffff
	case ControlJumpConditional:
		if imm < -(1<<18) || imm >= (1<<18) {
			return fmt.Errorf("link: aarch64 B.cond displacement out of range")
		}
		word = 0x54000000 | (uint32(imm)&0x7ffff)<<5
	default:
		return fmt.Errorf("link: unknown aarch64 control kind %d", kind)
	}
	binary.LittleEndian.PutUint32(out, word)
	return nil
}

// LinkedDataReference is a memory operand whose displacement resolves via
// a Link to a DataVariable, Marker, or other chunk (spec §3.2).
type LinkedDataReference struct {
	Arch          isa.Arch
	InstrSize     int  // total instruction size, fixed once disassembled
	DisplacementAt int // byte offset within the instruction of the 4-byte displacement field
	RIPRelative   bool // x86-64 RIP-relative addressing; AArch64 uses PC-relative ADRP+ADD pairs, modeled as RIPRelative too
	Prefix        []byte
	link          Link
}

func (s *LinkedDataReference) Size() int    { return s.InstrSize }
func (s *LinkedDataReference) GetLink() Link { return s.link }
func (s *LinkedDataReference) SetLink(l Link) { s.link = l }

func (s *LinkedDataReference) WriteInto(out []byte, currentAddress uint64, r Resolver) error {
	if s.link == nil || !s.link.Resolved() {
		return fmt.Errorf("link: emitting unresolved data reference at 0x%x", currentAddress)
	}
	target, ok := r.Address(s.link.Target())
	if !ok {
		return fmt.Errorf("link: data reference target at 0x%x no longer resolves", currentAddress)
	}
	if len(out) < s.InstrSize {
		return fmt.Errorf("link: output buffer too small for data reference instruction")
	}
	copy(out, s.Prefix)
	var disp int64
	if s.RIPRelative {
		disp = int64(target) - int64(currentAddress+uint64(s.InstrSize))
	} else {
		disp = int64(target)
	}
	if s.DisplacementAt+4 > len(out) {
		return fmt.Errorf("link: displacement field out of bounds")
	}
	binary.LittleEndian.PutUint32(out[s.DisplacementAt:s.DisplacementAt+4], uint32(int32(disp)))
	return nil
}

var (
	_ Semantic = (*RawBytes)(nil)
	_ Semantic = (*Disassembled)(nil)
	_ Semantic = (*LinkedControlFlow)(nil)
	_ Semantic = (*LinkedDataReference)(nil)
)
