// Package find implements the two read-only chunk lookup interfaces of
// spec §4.7: FindInnermostContaining's range-narrowing descent and
// Resolve's name-or-address lookup. Neither mutates the tree they search
// (spec §4.7 "Both are pure queries; neither mutates"; spec.md line 85
// "Only passes and the conductor mutate the tree; queries... are
// read-only").
package find

import (
	"sort"
	"strconv"
	"strings"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/egerr"
)

// FindInnermostContaining descends from root, at each level choosing the
// child whose [address, address+size) range contains probe, and returns
// the deepest such chunk (spec §4.7: "descends the tree choosing, at each
// level, the child whose range contains the probe; returns the deepest
// such chunk or nothing"). Zero-size container chunks (FunctionList and
// the other per-Module lists, which span their children without owning
// an address range of their own) are transparent: descent passes through
// them whenever a descendant matches, without requiring their own
// address to equal the probe.
func FindInnermostContaining(root chunk.Node, probe uint64) (chunk.Node, bool) {
	best, ok := descendInto(root, probe)
	if !ok {
		return nil, false
	}
	return best, true
}

func descendInto(n chunk.Node, probe uint64) (chunk.Node, bool) {
	for _, c := range n.Children() {
		addr, err := c.Address()
		if err != nil {
			continue
		}
		size := c.Size()
		contains := size > 0 && probe >= addr && probe < addr+size
		isTransparentContainer := size == 0 && len(c.Children()) > 0
		if !contains && !isTransparentContainer {
			continue
		}
		if deeper, ok := descendInto(c, probe); ok {
			return deeper, true
		}
		if contains {
			return c, true
		}
	}
	return nil, false
}

// Resolve looks up query as either a bare or "0x"-prefixed hex address,
// or else a function/symbol name, against mod (spec §4.7 "ChunkFind2...
// resolve a name (function or symbol) or a hex address to a Function").
func Resolve(mod *chunk.Module, query string) (*chunk.Function, error) {
	if addr, ok := parseHexAddress(query); ok {
		fn, ok := ResolveByAddress(mod, addr)
		if !ok {
			return nil, &egerr.QueryError{Query: query}
		}
		return fn, nil
	}
	for _, fn := range mod.Functions().Functions() {
		if fn.Name() == query {
			return fn, nil
		}
	}
	return nil, &egerr.QueryError{Query: query}
}

func parseHexAddress(query string) (uint64, bool) {
	s := strings.TrimPrefix(strings.TrimPrefix(query, "0X"), "0x")
	if s == query && !isAllHexDigits(query) {
		return 0, false
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}

func isAllHexDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// ResolveByAddress finds the Function whose range contains addr, using
// binary search over the module's address-sorted function list (spec
// §4.7: "resolve-by-address uses binary search over the module's sorted
// function list"). Functions are kept address-ordered by FunctionList,
// so this never needs to sort.
func ResolveByAddress(mod *chunk.Module, addr uint64) (*chunk.Function, bool) {
	fns := mod.Functions().Functions()
	i := sort.Search(len(fns), func(i int) bool {
		a, err := fns[i].Address()
		if err != nil {
			return false
		}
		return a+fns[i].Size() > addr
	})
	if i >= len(fns) {
		return nil, false
	}
	a, err := fns[i].Address()
	if err != nil || addr < a {
		return nil, false
	}
	return fns[i], true
}
