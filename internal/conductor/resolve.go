package conductor

import (
	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/link"
)

// Resolve runs every resolution phase in order, skipping phases already
// completed (spec §4.3 "Repeating a completed phase is a no-op"). Errors
// from any phase are accumulated as diagnostics rather than aborting the
// remaining phases, since later phases only assume *earlier* phases'
// invariants, not that every SymbolOnlyLink found an owner.
func (c *Conductor) Resolve() {
	for _, phase := range phaseOrder {
		if c.donePhases[phase] {
			continue
		}
		log := c.log.WithField("phase", string(phase))
		var err error
		switch phase {
		case PhasePLT:
			err = c.resolvePLT()
		case PhaseTLS:
			err = c.resolveTLS()
		case PhaseWeakSymbol:
			err = c.resolveWeakSymbols()
		case PhaseVtable:
			err = c.resolveVtables()
		case PhaseIFunc:
			err = c.resolveIFuncs()
		case PhaseDataPtr:
			err = c.resolveDataPointers()
		}
		if err != nil {
			c.diagnose(err)
		}
		c.donePhases[phase] = true
		log.Info("resolution phase complete")
	}
}

// resolvePLT replaces SymbolOnlyLinks naming a PLT-stub symbol with a
// PLTLink to the module's local trampoline, leaving the trampoline's own
// outbound link to the dynamic symbol untouched (spec §4.3 phase 1).
func (c *Conductor) resolvePLT() error {
	for _, mod := range c.Program.Modules() {
		trampByName := make(map[string]*chunk.PLTTrampoline)
		for _, t := range mod.PLTs().Trampolines() {
			trampByName[t.ExternalSymbol] = t
			if t.ExternalLink() == nil {
				t.SetExternalLink(&link.SymbolOnlyLink{Symbol: t.ExternalSymbol})
			}
		}
		forEachSemantic(mod, func(s link.Semantic) {
			sym, ok := s.GetLink().(*link.SymbolOnlyLink)
			if !ok {
				return
			}
			tramp, ok := trampByName[sym.Symbol]
			if !ok {
				return
			}
			s.SetLink(&link.PLTLink{Trampoline: chunkid.Ref{ID: tramp.ID(), Kind: chunkid.KindPLTTrampoline}})
		})
	}
	return nil
}

// resolveTLS converts SymbolOnlyLinks naming a thread-local symbol into
// TLSDataOffsetLinks using the owning module's known TLS base offset
// (spec §4.3 phase 2). A symbol is treated as thread-local when a data
// variable of the same name exists in a module whose TLSOffset is set.
func (c *Conductor) resolveTLS() error {
	tlsOffsetByName := make(map[string]int64)
	tlsModuleByName := make(map[string]chunkid.Ref)
	for _, mod := range c.Program.Modules() {
		if mod.TLSOffset == 0 {
			continue
		}
		for _, region := range mod.DataRegions().Regions() {
			for _, sec := range region.Sections() {
				for _, v := range sec.Variables() {
					tlsOffsetByName[v.Name()] = mod.TLSOffset
					tlsModuleByName[v.Name()] = chunkid.Ref{ID: mod.ID(), Kind: chunkid.KindModule}
				}
			}
		}
	}
	for _, mod := range c.Program.Modules() {
		forEachSemantic(mod, func(s link.Semantic) {
			sym, ok := s.GetLink().(*link.SymbolOnlyLink)
			if !ok {
				return
			}
			off, ok := tlsOffsetByName[sym.Symbol]
			if !ok {
				return
			}
			s.SetLink(&link.TLSDataOffsetLink{Module: tlsModuleByName[sym.Symbol], Offset: off})
		})
	}
	return nil
}

// resolveWeakSymbols scans all modules in link (program) order for the
// first strong definition of each unresolved weak SymbolOnlyLink (spec
// §4.3 phase 3). Symbols with no strong definition anywhere are left
// unresolved, as the spec explicitly allows ("otherwise leave a
// documented unresolved link").
func (c *Conductor) resolveWeakSymbols() error {
	strongByName := make(map[string]chunkid.Ref)
	for _, mod := range c.Program.Modules() {
		for _, fn := range mod.Functions().Functions() {
			if fn.Symbolic && fn.Name() != "" {
				if _, exists := strongByName[fn.Name()]; !exists {
					strongByName[fn.Name()] = chunkid.Ref{ID: fn.ID(), Kind: chunkid.KindFunction}
				}
			}
		}
	}
	for _, mod := range c.Program.Modules() {
		forEachSemantic(mod, func(s link.Semantic) {
			sym, ok := s.GetLink().(*link.SymbolOnlyLink)
			if !ok || !sym.Weak {
				return
			}
			target, ok := strongByName[sym.Symbol]
			if !ok {
				return
			}
			s.SetLink(&link.NormalLink{To: target})
		})
	}
	return nil
}

// resolveVtables converts function-pointer slots inside read-only vtable
// data sections into NormalLinks to the target Function (spec §4.3 phase
// 4). A data section is treated as a vtable candidate when its name
// matches the conventional .data.rel.ro/.rodata vtable naming the ELF
// toolchain emits for C++ virtual tables.
func (c *Conductor) resolveVtables() error {
	funcByName := make(map[string]chunkid.Ref)
	for _, mod := range c.Program.Modules() {
		for _, fn := range mod.Functions().Functions() {
			funcByName[fn.Name()] = chunkid.Ref{ID: fn.ID(), Kind: chunkid.KindFunction}
		}
	}
	for _, mod := range c.Program.Modules() {
		for _, region := range mod.DataRegions().Regions() {
			if region.Writable {
				continue
			}
			for _, sec := range region.Sections() {
				if !isVtableSection(sec.Name()) {
					continue
				}
				for _, v := range sec.Variables() {
					sym, ok := v.Link().(*link.SymbolOnlyLink)
					if !ok {
						continue
					}
					target, ok := funcByName[sym.Symbol]
					if !ok {
						continue
					}
					v.SetLink(&link.NormalLink{To: target})
				}
			}
		}
	}
	return nil
}

func isVtableSection(name string) bool {
	return name == ".data.rel.ro" || name == ".data.rel.ro.local" ||
		len(name) > 8 && name[:8] == ".rodata."
}

// resolveIFuncs is the IFunc phase (spec §4.3 phase 5). It only writes a
// debug log entry for each symbolic Function that has no disassembled
// Blocks. It creates no selector link, registers no selector and runs no
// resolver, and it changes no chunk or link.
func (c *Conductor) resolveIFuncs() error {
	for _, mod := range c.Program.Modules() {
		for _, fn := range mod.Functions().Functions() {
			// Functions built from symbol tables never see a raw
			// STT_GNU_IFUNC tag at this layer (elfmap.Symbol carries
			// stdelf.SymType, filtered out in populateFunctions), so the
			// check is on a symbolic name with no disassembled body.
			if fn.Symbolic && len(fn.Blocks()) == 0 {
				c.log.WithField("function", fn.Name()).Debug("symbolic function has no disassembled body; no ifunc selector registered")
			}
		}
	}
	return nil
}

// resolveDataPointers installs DataOffsetLinks/NormalLinks for the
// remaining data relocations inside DataRegions so emitted bytes are
// recomputed on relocation (spec §4.3 phase 6). Any SymbolOnlyLink
// surviving the earlier phases and referencing a known DataVariable's
// containing section is rewritten as a DataOffsetLink against that
// section's owning region.
func (c *Conductor) resolveDataPointers() error {
	for _, mod := range c.Program.Modules() {
		for _, region := range mod.DataRegions().Regions() {
			regionRef := chunkid.Ref{ID: region.ID(), Kind: chunkid.KindDataRegion}
			regionAddr, err := region.Address()
			if err != nil {
				continue
			}
			for _, sec := range region.Sections() {
				for _, v := range sec.Variables() {
					if _, ok := v.Link().(*link.SymbolOnlyLink); !ok {
						continue
					}
					vAddr, err := v.Address()
					if err != nil {
						continue
					}
					v.SetLink(&link.DataOffsetLink{Region: regionRef, Offset: int64(vAddr - regionAddr)})
				}
			}
		}
	}
	return nil
}

// forEachSemantic visits every Instruction in every Function of mod and
// invokes fn on its Semantic, skipping instructions with no Semantic or
// no outbound Link (nothing for a resolution phase to rewrite).
func forEachSemantic(mod *chunk.Module, fn func(link.Semantic)) {
	for _, function := range mod.Functions().Functions() {
		for _, block := range function.Blocks() {
			for _, instr := range block.Instructions() {
				s := instr.Semantic()
				if s == nil || s.GetLink() == nil {
					continue
				}
				fn(s)
			}
		}
	}
}
