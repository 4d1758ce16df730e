// Package chunkid defines the identity and variant-kind vocabulary shared
// by the chunk tree and the link graph, kept separate from both so that
// links can weakly reference chunks by id/kind without importing the tree
// package, and the tree package can hand out ids without importing the
// link package.
package chunkid

// ID is a stable, process-lifetime identity for a chunk. IDs are assigned
// once at chunk creation and never reused, even if the chunk is later
// removed from its parent.
type ID uint64

// Kind enumerates the closed set of chunk variants from spec §3.1.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindProgram
	KindModule
	KindFunctionList
	KindFunction
	KindBlock
	KindInstruction
	KindPLTList
	KindPLTTrampoline
	KindJumpTableList
	KindJumpTable
	KindJumpTableEntry
	KindDataRegionList
	KindDataRegion
	KindDataSection
	KindDataVariable
	KindMarkerList
	KindMarker
	KindLibraryList
	KindLibrary
)

func (k Kind) String() string {
	switch k {
	case KindProgram:
		return "Program"
	case KindModule:
		return "Module"
	case KindFunctionList:
		return "FunctionList"
	case KindFunction:
		return "Function"
	case KindBlock:
		return "Block"
	case KindInstruction:
		return "Instruction"
	case KindPLTList:
		return "PLTList"
	case KindPLTTrampoline:
		return "PLTTrampoline"
	case KindJumpTableList:
		return "JumpTableList"
	case KindJumpTable:
		return "JumpTable"
	case KindJumpTableEntry:
		return "JumpTableEntry"
	case KindDataRegionList:
		return "DataRegionList"
	case KindDataRegion:
		return "DataRegion"
	case KindDataSection:
		return "DataSection"
	case KindDataVariable:
		return "DataVariable"
	case KindMarkerList:
		return "MarkerList"
	case KindMarker:
		return "Marker"
	case KindLibraryList:
		return "LibraryList"
	case KindLibrary:
		return "Library"
	default:
		return "Invalid"
	}
}

// Ref is a weak reference to a chunk: enough to look it up in a Program's
// id index, never an owning pointer. Link targets are stored as Ref so
// that deleting the referenced chunk cannot leave a dangling pointer —
// only a Ref that no longer resolves.
type Ref struct {
	ID   ID
	Kind Kind
}

// Valid reports whether the reference was ever assigned a target.
func (r Ref) Valid() bool { return r.ID != 0 }

// generator hands out process-unique ids; a package-level counter is
// adequate because spec §5 fixes the core as single-threaded cooperative.
var next ID = 1

// Next returns a fresh, never-reused chunk id.
func Next() ID {
	id := next
	next++
	return id
}
