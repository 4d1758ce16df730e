// Package link implements the symbolic cross-chunk reference graph
// described in spec §3.3: Links are owned by the source Semantic,
// reference their target weakly (by chunkid.Ref, never by pointer), and
// come in a closed set of variants.
package link

import "github.com/SleepyMug/egalito/internal/chunkid"

// Link is a one-directional, symbolic edge from a source semantic to a
// target chunk, symbol, or data offset. Implementations are owned by
// exactly one Semantic; copying a Link to a second Semantic is a
// programming error (the conductor and passes never do this — they
// construct a fresh Link with the same target when two semantics must
// point at the same place).
type Link interface {
	// Target returns the weak reference to whatever this link points at.
	// SymbolOnlyLink and EgalitoLoaderLink have no chunk target yet and
	// return the zero Ref.
	Target() chunkid.Ref
	// Resolved reports whether the link is bound: for most links, whether
	// Target returns a valid chunk reference. EgalitoLoaderLink is bound
	// by name and reports true while Target is the zero Ref.
	Resolved() bool
}

// NormalLink points directly at a target chunk.
type NormalLink struct {
	To chunkid.Ref
}

func (l *NormalLink) Target() chunkid.Ref { return l.To }
func (l *NormalLink) Resolved() bool      { return l.To.Valid() }

// PLTLink points at a PLTTrampoline local to the calling module. The
// trampoline itself carries the outbound link to the dynamic symbol
// (spec §4.3 phase 1: "retain the trampoline's own outbound link").
type PLTLink struct {
	Trampoline chunkid.Ref
}

func (l *PLTLink) Target() chunkid.Ref { return l.Trampoline }
func (l *PLTLink) Resolved() bool      { return l.Trampoline.Valid() }

// JumpTableLink points at a JumpTable used to dispatch an indirect branch.
type JumpTableLink struct {
	Table chunkid.Ref
}

func (l *JumpTableLink) Target() chunkid.Ref { return l.Table }
func (l *JumpTableLink) Resolved() bool      { return l.Table.Valid() }

// SymbolOnlyLink is a pre-resolution placeholder naming an unresolved
// symbol. Spec §3.3 invariant: after resolution phases complete, none of
// these should remain in code or data regions of emitted modules, except
// where the symbol is deliberately external.
type SymbolOnlyLink struct {
	Symbol string
	// Weak marks a weak symbol reference (spec §4.3 phase 3).
	Weak bool
}

func (l *SymbolOnlyLink) Target() chunkid.Ref { return chunkid.Ref{} }
func (l *SymbolOnlyLink) Resolved() bool      { return false }

// DataOffsetLink resolves to (DataRegion, offset) at emission time.
type DataOffsetLink struct {
	Region chunkid.Ref
	Offset int64
}

func (l *DataOffsetLink) Target() chunkid.Ref { return l.Region }
func (l *DataOffsetLink) Resolved() bool      { return l.Region.Valid() }

// MarkerLink points at a synthetic named address.
type MarkerLink struct {
	Marker chunkid.Ref
}

func (l *MarkerLink) Target() chunkid.Ref { return l.Marker }
func (l *MarkerLink) Resolved() bool      { return l.Marker.Valid() }

// TLSDataOffsetLink points within a thread-local image at a known offset.
type TLSDataOffsetLink struct {
	Module chunkid.Ref
	Offset int64
}

func (l *TLSDataOffsetLink) Target() chunkid.Ref { return l.Module }
func (l *TLSDataOffsetLink) Resolved() bool      { return l.Module.Valid() }

// EgalitoLoaderLink names a symbol defined in the framework's own image
// (the loader bridge, spec §5 and SPEC_FULL.md "SUPPLEMENTED FEATURES"
// item 4), late-bound by name rather than by chunk reference.
type EgalitoLoaderLink struct {
	Symbol string
}

func (l *EgalitoLoaderLink) Target() chunkid.Ref { return chunkid.Ref{} }
func (l *EgalitoLoaderLink) Resolved() bool      { return true } // bound by name, never dangling

var (
	_ Link = (*NormalLink)(nil)
	_ Link = (*PLTLink)(nil)
	_ Link = (*JumpTableLink)(nil)
	_ Link = (*SymbolOnlyLink)(nil)
	_ Link = (*DataOffsetLink)(nil)
	_ Link = (*MarkerLink)(nil)
	_ Link = (*TLSDataOffsetLink)(nil)
	_ Link = (*EgalitoLoaderLink)(nil)
)
