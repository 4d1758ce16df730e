package chunk

import (
	"fmt"

	"github.com/SleepyMug/egalito/internal/chunkid"
)

// Node is the interface every chunk variant satisfies. The unexported
// methods restrict implementations to this package, which is what makes
// the variant set closed (spec §3.1: "Variants of Chunk (a closed set)").
type Node interface {
	ID() chunkid.ID
	Kind() chunkid.Kind
	Name() string
	SetName(string)

	Parent() Node
	Children() []Node
	ChildByName(name string) (Node, bool)
	InsertChild(c Node)
	InsertChildAt(i int, c Node)
	RemoveChild(c Node) bool

	Position() Position
	SetPosition(Position)
	Size() uint64
	SetSize(uint64)

	// Address walks toward the root until an absolute position is found,
	// recomputing lazily from a cache invalidated by generation counters
	// (spec §4.1 "lazy address recomputation").
	Address() (uint64, error)

	Accept(v Visitor) error

	setParent(Node)
	bumpGeneration()
	generation() uint64
}

// Visitor declares one method per chunk variant (spec §4.1, §4.4). A
// concrete visitor that wants default recursive descent for a variant it
// does not care about embeds visitor.DefaultVisitor (see internal/visitor)
// rather than implementing every method by hand.
type Visitor interface {
	VisitProgram(*Program) error
	VisitLibraryList(*LibraryList) error
	VisitLibrary(*Library) error
	VisitModule(*Module) error
	VisitFunctionList(*FunctionList) error
	VisitFunction(*Function) error
	VisitBlock(*Block) error
	VisitInstruction(*Instruction) error
	VisitPLTList(*PLTList) error
	VisitPLTTrampoline(*PLTTrampoline) error
	VisitJumpTableList(*JumpTableList) error
	VisitJumpTable(*JumpTable) error
	VisitJumpTableEntry(*JumpTableEntry) error
	VisitDataRegionList(*DataRegionList) error
	VisitDataRegion(*DataRegion) error
	VisitDataSection(*DataSection) error
	VisitDataVariable(*DataVariable) error
	VisitMarkerList(*MarkerList) error
	VisitMarker(*Marker) error
}

// Descend applies v to every child of n in order, using a mutation-safe
// snapshot (spec §4.4: "Mutations to a chunk's children while iterating
// that chunk's children must use the framework's mutation-safe iterator
// (snapshot at entry)"). It is the building block default Visit* methods
// call to get "default recursive descent unless overridden".
func Descend(n Node, v Visitor) error {
	children := n.Children()
	snapshot := make([]Node, len(children))
	copy(snapshot, children)
	for _, c := range snapshot {
		if err := c.Accept(v); err != nil {
			return err
		}
	}
	return nil
}

// Base is embedded by every concrete chunk type. It implements the whole
// of Node except Accept, which each concrete type supplies by dispatching
// to the matching Visit method (Kind returns the kind passed to Init).
type Base struct {
	self     Node // set once by Init; lets Base hand children the *outer* Node
	id       chunkid.ID
	kind     chunkid.Kind
	name     string
	parent   Node
	children []Node
	named    map[string]Node
	position Position
	size     uint64

	gen uint64 // bumped whenever a child is inserted/removed/resized

	cachedValid bool
	cachedAddr  uint64
	cachedAtGen uint64
}

// Init must be called by every constructor immediately after embedding
// Base, passing the outer value as self.
func (b *Base) Init(self Node, kind chunkid.Kind, name string) {
	b.self = self
	b.id = chunkid.Next()
	b.kind = kind
	b.name = name
	b.position = AfterPreviousSibling{}
}

func (b *Base) ID() chunkid.ID      { return b.id }
func (b *Base) Kind() chunkid.Kind  { return b.kind }
func (b *Base) Name() string        { return b.name }
func (b *Base) SetName(name string) { b.name = name }

func (b *Base) Parent() Node { return b.parent }
func (b *Base) setParent(p Node) {
	b.parent = p
	b.cachedValid = false
}

func (b *Base) Children() []Node { return b.children }

func (b *Base) ChildByName(name string) (Node, bool) {
	n, ok := b.named[name]
	return n, ok
}

func (b *Base) InsertChild(c Node) {
	b.InsertChildAt(len(b.children), c)
}

func (b *Base) InsertChildAt(i int, c Node) {
	if i < 0 || i > len(b.children) {
		i = len(b.children)
	}
	b.children = append(b.children, nil)
	copy(b.children[i+1:], b.children[i:])
	b.children[i] = c
	c.setParent(b.self)
	if c.Name() != "" {
		if b.named == nil {
			b.named = make(map[string]Node)
		}
		b.named[c.Name()] = c
	}
	b.bumpGeneration()
}

func (b *Base) RemoveChild(c Node) bool {
	for i, existing := range b.children {
		if existing.ID() == c.ID() {
			b.children = append(b.children[:i], b.children[i+1:]...)
			if c.Name() != "" {
				delete(b.named, c.Name())
			}
			b.bumpGeneration()
			return true
		}
	}
	return false
}

func (b *Base) Position() Position { return b.position }
func (b *Base) SetPosition(p Position) {
	b.position = p
	b.cachedValid = false
	if b.parent != nil {
		b.parent.bumpGeneration()
	}
}

func (b *Base) Size() uint64 { return b.size }
func (b *Base) SetSize(s uint64) {
	b.size = s
	if b.parent != nil {
		b.parent.bumpGeneration()
	}
}

func (b *Base) bumpGeneration() { b.gen++ }
func (b *Base) generation() uint64 { return b.gen }

// Address implements the three positioning strategies and the
// generation-gated cache (spec §4.1 "Key algorithmic detail").
func (b *Base) Address() (uint64, error) {
	switch pos := b.position.(type) {
	case Absolute:
		return pos.Addr, nil
	case RelativeToParent:
		if b.parent == nil {
			return 0, fmt.Errorf("chunk: %s %q has relative position but no parent", b.kind, b.name)
		}
		pg := b.parent.generation()
		if b.cachedValid && b.cachedAtGen == pg {
			return b.cachedAddr, nil
		}
		base, err := b.parent.Address()
		if err != nil {
			return 0, err
		}
		addr := uint64(int64(base) + pos.Offset)
		b.cachedAddr, b.cachedAtGen, b.cachedValid = addr, pg, true
		return addr, nil
	case AfterPreviousSibling:
		if b.parent == nil {
			return 0, fmt.Errorf("chunk: %s %q has after-previous-sibling position but no parent", b.kind, b.name)
		}
		pg := b.parent.generation()
		if b.cachedValid && b.cachedAtGen == pg {
			return b.cachedAddr, nil
		}
		addr, err := b.addressFromSiblings()
		if err != nil {
			return 0, err
		}
		b.cachedAddr, b.cachedAtGen, b.cachedValid = addr, pg, true
		return addr, nil
	default:
		return 0, fmt.Errorf("chunk: %s %q has unknown position type %T", b.kind, b.name, pos)
	}
}

func (b *Base) addressFromSiblings() (uint64, error) {
	siblings := b.parent.Children()
	idx := -1
	for i, s := range siblings {
		if s.ID() == b.id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("chunk: %s %q not found among its own parent's children", b.kind, b.name)
	}
	if idx == 0 {
		return b.parent.Address()
	}
	prev := siblings[idx-1]
	prevAddr, err := prev.Address()
	if err != nil {
		return 0, err
	}
	return prevAddr + prev.Size(), nil
}
