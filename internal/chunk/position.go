package chunk

// Position is one of the three placement strategies a chunk may use
// (spec §3.1). The address of any chunk is derivable by walking toward
// the root until an absolute base is found.
type Position interface {
	positionTag()
}

// Absolute fixes a chunk at a specific address, independent of its
// parent. Modules, and any chunk loaded at a known address before
// layout, use this.
type Absolute struct {
	Addr uint64
}

func (Absolute) positionTag() {}

// RelativeToParent places a chunk at a fixed byte offset within its
// parent's own address.
type RelativeToParent struct {
	Offset int64
}

func (RelativeToParent) positionTag() {}

// AfterPreviousSibling places a chunk immediately after the previous
// child of the same parent (or at the parent's own start address if it
// is the first child). This is how Blocks and Instructions are laid
// out by default, so that resizing one chunk shifts every later sibling.
type AfterPreviousSibling struct{}

func (AfterPreviousSibling) positionTag() {}
