// Package shell implements the cobra-rooted command surface spec §6 names
// ("representative, not exhaustive": disass, x/i, cfgdot, modules,
// functions/functions2/functions3, regions, markers, jumptables, reassign,
// generate, bin, plus one command per instrumentation pass), in the shape
// SPEC_FULL.md's AMBIENT STACK section fixes: a cobra command tree rather
// than the teacher's hand-rolled flag dispatch, grounded on the
// cobra-rooted binary-analysis tools named there.
//
// "Commands with no loaded Program print an error and return" (spec §6) is
// enforced by requireSession, called first by every subcommand that needs
// one.
package shell

import (
	stdelf "debug/elf"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SleepyMug/egalito/internal/binfmt"
	"github.com/SleepyMug/egalito/internal/conductor"
	"github.com/SleepyMug/egalito/internal/egerr"
	"github.com/SleepyMug/egalito/internal/elfmap"
	"github.com/SleepyMug/egalito/internal/isa"
)

// Session holds the one Conductor/Program a cobra invocation operates on,
// built from the --input flag in the root command's PersistentPreRunE
// (spec §5 "the Program and all its descendants are owned by one
// Conductor").
type Session struct {
	Conductor *conductor.Conductor
	Target    binfmt.Target
}

// NewSession opens path, infers its architecture from the ELF header, and
// loads it as the main module. Additional libraries named by DT_NEEDED are
// left unloaded; SPEC_FULL.md scopes automatic shared-library resolution
// out (no loader search path is specified anywhere in spec.md §6).
func NewSession(path string, includeFrameworkSelf bool) (*Session, error) {
	em, err := elfmap.Open(path)
	if err != nil {
		return nil, &egerr.ParseError{File: path, Err: err}
	}
	defer em.Close()

	arch, err := archOf(em.Machine())
	if err != nil {
		return nil, &egerr.ParseError{File: path, Err: err}
	}
	target := binfmt.Target{Arch: arch, OS: binfmt.OSLinux}
	c := conductor.New(target)

	if _, err := c.Load(em, arch, false); err != nil {
		return nil, &egerr.ParseError{File: path, Err: err}
	}
	c.Resolve()
	for _, diag := range c.Diagnostics() {
		logrus.WithError(diag).Warn("diagnostic recorded during load")
	}
	_ = includeFrameworkSelf // reserved for a future --include-framework-self toggle
	return &Session{Conductor: c, Target: target}, nil
}

func archOf(machine stdelf.Machine) (isa.Arch, error) {
	switch machine {
	case stdelf.EM_X86_64:
		return isa.ArchX86_64, nil
	case stdelf.EM_AARCH64:
		return isa.ArchAArch64, nil
	default:
		return isa.ArchUnknown, errors.Errorf("shell: unsupported ELF machine %v", machine)
	}
}

// requireSession enforces spec §6's "commands with no loaded Program print
// an error and return".
func requireSession(s *Session) error {
	if s == nil || s.Conductor == nil {
		return &egerr.UsageError{Command: "shell", Detail: "no program loaded; pass --input FILE"}
	}
	return nil
}
