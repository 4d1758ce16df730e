// Package binfmt abstracts the (architecture, OS) pair a Program was
// loaded from, grounded on the teacher's target.go and trimmed to the
// ELF-only, x86-64/AArch64 world spec §1 scopes this system to (Mach-O,
// PE, and RISC-V branches present in the teacher are dropped — see
// DESIGN.md).
package binfmt

import "github.com/SleepyMug/egalito/internal/isa"

// OS is the operating system an ELF image targets. The core only ever
// emits ELF, so this exists to distinguish the small number of
// ELF-flavor differences (dynamic linker path, syscall ABI) rather than
// to select an output format.
type OS uint8

const (
	OSUnknown OS = iota
	OSLinux
	OSFreeBSD
)

func (o OS) String() string {
	switch o {
	case OSLinux:
		return "linux"
	case OSFreeBSD:
		return "freebsd"
	default:
		return "unknown"
	}
}

// Target pairs an isa.Arch with an OS and reports the ELF e_machine
// value the conductor and generator need.
type Target struct {
	Arch isa.Arch
	OS   OS
}

// ELFMachine returns the ELF64 header's e_machine constant for t.Arch.
func (t Target) ELFMachine() uint16 {
	switch t.Arch {
	case isa.ArchX86_64:
		return 0x3e
	case isa.ArchAArch64:
		return 0xb7
	default:
		return 0
	}
}

func (t Target) String() string {
	return t.Arch.String() + "-" + t.OS.String()
}

// Interpreter returns the path to this target's dynamic linker. The ELF
// generator does not call it: it writes only PT_LOAD program headers and
// emits no PT_INTERP header.
func (t Target) Interpreter() string {
	switch t.Arch {
	case isa.ArchX86_64:
		return "/lib64/ld-linux-x86-64.so.2"
	case isa.ArchAArch64:
		return "/lib/ld-linux-aarch64.so.1"
	default:
		return ""
	}
}
