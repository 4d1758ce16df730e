// Package egerr implements the closed set of error kinds from spec §7,
// each a distinct type so callers can type-switch on what went wrong
// rather than parse a message. Wrapping follows the teacher corpus's use
// of github.com/pkg/errors (grounded on nicolagi-muscle).
package egerr

import "github.com/pkg/errors"

// ParseError reports malformed ELF or relocation data. It is fatal for
// the affected Module only; other Modules may continue loading.
type ParseError struct {
	File   string
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return errors.Wrapf(e.Err, "parse error in %s at offset 0x%x", e.File, e.Offset).Error()
}
func (e *ParseError) Unwrap() error { return e.Err }

// ResolutionError reports a SymbolOnlyLink that could not be satisfied.
// It is only fatal if the link is reached during emission (spec §4.2).
type ResolutionError struct {
	ChunkPath string
	Symbol    string
	Err       error
}

func (e *ResolutionError) Error() string {
	return errors.Wrapf(e.Err, "unresolved symbol %q referenced from %s", e.Symbol, e.ChunkPath).Error()
}
func (e *ResolutionError) Unwrap() error { return e.Err }

// LayoutError reports that address assignment failed to converge. Spec
// §8 asserts this "should be impossible; indicates an ISA-encoding bug".
type LayoutError struct {
	Iterations int
	Err        error
}

func (e *LayoutError) Error() string {
	return errors.Wrapf(e.Err, "layout did not converge after %d iterations", e.Iterations).Error()
}
func (e *LayoutError) Unwrap() error { return e.Err }

// EmissionError reports a DeferredValue dependency cycle or an I/O
// failure while writing the output stream. Fatal for the current emit.
type EmissionError struct {
	Stage string
	Err   error
}

func (e *EmissionError) Error() string {
	return errors.Wrapf(e.Err, "emission failed during %s", e.Stage).Error()
}
func (e *EmissionError) Unwrap() error { return e.Err }

// QueryError reports a lookup by name or address that found nothing.
// Non-fatal; the shell surfaces it as a human-readable message.
type QueryError struct {
	Query string
}

func (e *QueryError) Error() string { return "not found: " + e.Query }

// UsageError reports a shell command invoked with the wrong argument
// count or format. Non-fatal.
type UsageError struct {
	Command string
	Detail  string
}

func (e *UsageError) Error() string { return "usage: " + e.Command + ": " + e.Detail }
