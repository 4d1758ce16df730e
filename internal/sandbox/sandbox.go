// Package sandbox implements the output-address-range abstraction and
// the fixpoint layout algorithm of spec §4.5: align the cursor to a
// Function's alignment, set its position, advance the cursor by its
// current size, and repeat until no linked semantic's size changes.
//
// The bump-allocation cursor itself is grounded on the teacher's
// arena.go load-bump-store allocator, repurposed here from a runtime
// allocation primitive into a compile-time address-assignment cursor.
package sandbox

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/egerr"
	"github.com/SleepyMug/egalito/internal/link"
)

// maxFixpointIterations bounds the widening loop; convergence is
// guaranteed by the monotonic-widening invariant (spec §4.5), so hitting
// this cap indicates an ISA-encoding bug, not a legitimately slow case.
const maxFixpointIterations = 64

// Sandbox is an output address range a Program's Functions are assigned
// into (spec §4.5). Implementations bump cur and hand out addresses;
// Finalize writes each Function's bytes at its assigned address.
type Sandbox interface {
	// Base returns the address range's starting address.
	Base() uint64
	// Reserve aligns the cursor to align bytes, advances it by size, and
	// returns the (already-aligned) address the caller should place its
	// chunk at.
	Reserve(size, align uint64) uint64
	// Cursor returns the current bump-allocation pointer.
	Cursor() uint64
	// Write stores buf at addr within the sandbox's backing storage.
	Write(addr uint64, buf []byte) error
	// Finalize completes the range once every Function is written: a
	// no-op for FileSandbox; LoaderSandbox makes its mapping read+execute.
	// It does not release the range (LoaderSandbox.Close does that).
	Finalize() error
}

// cursor is the bump-allocation mechanics shared by both Sandbox
// variants (grounded on the teacher's arena.go load-bump-store shape).
type cursor struct {
	base uint64
	cur  uint64
}

func (c *cursor) Base() uint64   { return c.base }
func (c *cursor) Cursor() uint64 { return c.cur }

func (c *cursor) Reserve(size, align uint64) uint64 {
	if align > 1 {
		if rem := c.cur % align; rem != 0 {
			c.cur += align - rem
		}
	}
	addr := c.cur
	c.cur += size
	return addr
}

// AssignAddresses runs the fixpoint layout loop over fns, in the order
// given (spec §4.5: "typically: framework image first, then main
// module, then libraries, each module's functions in their original
// address order" — callers are responsible for handing fns in that
// order; AssignAddresses itself is order-preserving and does no
// reordering of its own).
func AssignAddresses(sb Sandbox, fns []*chunk.Function) error {
	log := logrus.WithField("component", "sandbox")
	for iter := 0; ; iter++ {
		if iter >= maxFixpointIterations {
			return &egerr.LayoutError{Iterations: iter, Err: errors.New("fixpoint layout did not converge")}
		}
		placeFunctions(sb, fns)
		if !widenAny(fns) {
			log.WithField("iterations", iter+1).Debug("layout converged")
			return nil
		}
	}
}

func placeFunctions(sb Sandbox, fns []*chunk.Function) {
	for _, fn := range fns {
		recomputeFunctionSize(fn)
		addr := sb.Reserve(fn.Size(), fn.Alignment)
		fn.SetPosition(chunk.Absolute{Addr: addr})
	}
}

// recomputeFunctionSize sums the current sizes of a Function's
// Instructions (across all Blocks) into the Function's own declared
// Size, so that a widened instruction's growth is reflected in how much
// room the next placement pass reserves for it. Functions with no
// disassembled body (symbol-table size only, no Blocks) keep their
// existing Size untouched.
func recomputeFunctionSize(fn *chunk.Function) {
	blocks := fn.Blocks()
	if len(blocks) == 0 {
		return
	}
	var total uint64
	for _, block := range blocks {
		for _, instr := range block.Instructions() {
			if sem := instr.Semantic(); sem != nil {
				total += uint64(sem.Size())
			}
		}
	}
	fn.SetSize(total)
}

// widenAny walks every Instruction's Semantic and asks linked
// control-flow semantics to widen; it returns true if anything grew,
// which forces another placement pass (spec §4.5 "recompute every
// affected linked semantic's size; if any size changed, repeat").
func widenAny(fns []*chunk.Function) bool {
	changed := false
	for _, fn := range fns {
		for _, block := range fn.Blocks() {
			for _, instr := range block.Instructions() {
				sem := instr.Semantic()
				if sem == nil {
					continue
				}
				lcf, ok := sem.(*link.LinkedControlFlow)
				if !ok {
					continue
				}
				if lcf.Widen() {
					instr.RefreshSize()
					changed = true
				}
			}
		}
	}
	return changed
}

// Finalize writes every Function's bytes into sb at its assigned
// address (spec §4.5 "each Function writes its bytes into the sandbox
// at its assigned address"). DeferredValue finalization for ELF section
// contents is a separate step, performed by internal/generate.
func Finalize(sb Sandbox, fns []*chunk.Function, resolver link.Resolver) error {
	for _, fn := range fns {
		addr, err := fn.Address()
		if err != nil {
			return errors.Wrapf(err, "sandbox: resolving address of function %q", fn.Name())
		}
		buf := make([]byte, fn.Size())
		cursorAddr := addr
		for _, block := range fn.Blocks() {
			for _, instr := range block.Instructions() {
				sem := instr.Semantic()
				if sem == nil {
					continue
				}
				instrAddr, err := instr.Address()
				if err != nil {
					return errors.Wrapf(err, "sandbox: resolving address of instruction in %q", fn.Name())
				}
				off := instrAddr - addr
				size := uint64(sem.Size())
				if off+size > uint64(len(buf)) {
					return errors.Errorf("sandbox: instruction in %q overruns its function's reserved size", fn.Name())
				}
				if err := sem.WriteInto(buf[off:off+size], instrAddr, resolver); err != nil {
					return errors.Wrapf(err, "sandbox: writing instruction in %q", fn.Name())
				}
			}
		}
		if err := sb.Write(cursorAddr, buf); err != nil {
			return errors.Wrapf(err, "sandbox: writing function %q", fn.Name())
		}
	}
	return sb.Finalize()
}
