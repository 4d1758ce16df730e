package chunk

import (
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/link"
)

var _ link.Resolver = (*Program)(nil)

// index is a Program-wide id→chunk map used to resolve the weak
// references Links carry (spec §9: "store weakly (target by index)").
// It is rebuilt on demand rather than maintained incrementally, since
// spec §3.4 deliberately keeps chunks ignorant of their inbound links —
// there is no per-insert hook to update it from.
type index struct {
	byID map[chunkid.ID]Node
}

func (p *Program) RebuildIndex() {
	idx := &index{byID: make(map[chunkid.ID]Node)}
	var walk func(n Node)
	walk = func(n Node) {
		idx.byID[n.ID()] = n
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(p)
	p.idx = idx
}

// Chunk resolves a weak reference to its Node, rebuilding the index on
// first use.
func (p *Program) Chunk(ref chunkid.Ref) (Node, bool) {
	if p.idx == nil {
		p.RebuildIndex()
	}
	n, ok := p.idx.byID[ref.ID]
	return n, ok
}

// Address implements link.Resolver: it resolves ref to a chunk and
// returns that chunk's current absolute address.
func (p *Program) Address(ref chunkid.Ref) (uint64, bool) {
	n, ok := p.Chunk(ref)
	if !ok {
		return 0, false
	}
	addr, err := n.Address()
	if err != nil {
		return 0, false
	}
	return addr, true
}
