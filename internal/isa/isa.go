// Package isa carries the small, closed set of per-architecture facts the
// core needs without ever decoding or encoding a full instruction stream
// itself (that is the external disassembler/assembler's job, spec §6).
// Register tables are grounded on the teacher's reg.go, trimmed to the
// two architectures spec §1 scopes in.
package isa

// Arch is one of the two ISAs spec §1 scopes this system to.
type Arch uint8

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchAArch64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchAArch64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// Register describes one architectural register by name.
type Register struct {
	Name     string
	Bits     int
	Encoding uint8
}

// x86_64Registers mirrors the teacher's reg.go table (64-bit GP registers
// only; the core never needs 8/16-bit sub-registers).
var x86_64Registers = map[string]Register{
	"rax": {"rax", 64, 0}, "rcx": {"rcx", 64, 1}, "rdx": {"rdx", 64, 2},
	"rbx": {"rbx", 64, 3}, "rsp": {"rsp", 64, 4}, "rbp": {"rbp", 64, 5},
	"rsi": {"rsi", 64, 6}, "rdi": {"rdi", 64, 7}, "r8": {"r8", 64, 8},
	"r9": {"r9", 64, 9}, "r10": {"r10", 64, 10}, "r11": {"r11", 64, 11},
	"r12": {"r12", 64, 12}, "r13": {"r13", 64, 13}, "r14": {"r14", 64, 14},
	"r15": {"r15", 64, 15},
}

// aarch64Registers mirrors the teacher's reg.go arm64 table.
var aarch64Registers = map[string]Register{
	"x0": {"x0", 64, 0}, "x1": {"x1", 64, 1}, "x2": {"x2", 64, 2},
	"x3": {"x3", 64, 3}, "x4": {"x4", 64, 4}, "x5": {"x5", 64, 5},
	"x6": {"x6", 64, 6}, "x7": {"x7", 64, 7}, "x8": {"x8", 64, 8},
	"x9": {"x9", 64, 9}, "x10": {"x10", 64, 10}, "x11": {"x11", 64, 11},
	"x12": {"x12", 64, 12}, "x13": {"x13", 64, 13}, "x14": {"x14", 64, 14},
	"x15": {"x15", 64, 15}, "x16": {"x16", 64, 16}, "x17": {"x17", 64, 17},
	"x18": {"x18", 64, 18}, "x19": {"x19", 64, 19}, "x20": {"x20", 64, 20},
	"x21": {"x21", 64, 21}, "x22": {"x22", 64, 22}, "x23": {"x23", 64, 23},
	"x24": {"x24", 64, 24}, "x25": {"x25", 64, 25}, "x26": {"x26", 64, 26},
	"x27": {"x27", 64, 27}, "x28": {"x28", 64, 28},
	"x29": {"x29", 64, 29}, // frame pointer
	"x30": {"x30", 64, 30}, // link register
	"sp":  {"sp", 64, 31},
}

// Register looks up a register by name for the given architecture.
func (a Arch) Register(name string) (Register, bool) {
	switch a {
	case ArchX86_64:
		r, ok := x86_64Registers[name]
		return r, ok
	case ArchAArch64:
		r, ok := aarch64Registers[name]
		return r, ok
	default:
		return Register{}, false
	}
}

// CallerSaved is the register save-set used by the context-switch pass
// (SPEC_FULL.md SUPPLEMENTED FEATURES item 5, grounded on
// original_source/src/pass/switchcontext.h), listed in the fixed push
// order the pass must restore in reverse.
func (a Arch) CallerSaved() []string {
	switch a {
	case ArchX86_64:
		return []string{"rax", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11"}
	case ArchAArch64:
		return []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9",
			"x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17", "x30"}
	default:
		return nil
	}
}

// NOPSize returns the size in bytes of this architecture's canonical
// single-instruction no-op, used by the nop-insertion pass.
func (a Arch) NOPSize() int {
	switch a {
	case ArchX86_64:
		return 1 // 0x90
	case ArchAArch64:
		return 4 // d503201f
	default:
		return 0
	}
}

// NOPBytes returns the encoded bytes of a single no-op instruction.
func (a Arch) NOPBytes() []byte {
	switch a {
	case ArchX86_64:
		return []byte{0x90}
	case ArchAArch64:
		return []byte{0x1f, 0x20, 0x03, 0xd5}
	default:
		return nil
	}
}
