package generate

import (
	stdelf "debug/elf"
	"encoding/binary"
)

const symEntSize = 24

// SymbolEntry is one symbol to mirror into a regenerated image's symbol
// table: a function name at its post-layout address (spec §6 "a symbol
// table mirroring the original function names at new addresses").
type SymbolEntry struct {
	Name  string
	Value uint64
	Size  uint64
}

// BuildSymbolTable adds .strtab and .symtab sections to list, a null
// symbol followed by one STT_FUNC/STB_GLOBAL entry per sym, each with
// st_shndx set to textSectionName's index in list (0 if list has no such
// section); the .symtab header's sh_info is 1, the first global symbol.
// Grounded on elfmap's own Symbol decoding (internal/elfmap/elfmap.go)
// read in reverse: the same 24-byte Elf64_Sym layout, written instead of
// parsed, in the teacher's byte-at-a-time emission style.
func BuildSymbolTable(list *SectionList, textSectionName string, syms []SymbolEntry) {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.Name
	}
	strBuf, offsets := buildStringTable(names)
	strtab := NewSection2(".strtab", stdelf.SHT_STRTAB, 0, NewStaticValue(strBuf))
	list.Add(strtab)

	shndx := uint16(0)
	if idx, ok := list.IndexOf(textSectionName); ok {
		shndx = uint16(idx)
	}

	buf := make([]byte, symEntSize*(len(syms)+1))
	for i, sym := range syms {
		off := symEntSize * (i + 1)
		binary.LittleEndian.PutUint32(buf[off:off+4], offsets[sym.Name])
		buf[off+4] = uint8(stdelf.STT_FUNC) | uint8(stdelf.STB_GLOBAL)<<4
		binary.LittleEndian.PutUint16(buf[off+6:off+8], shndx)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], sym.Value)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], sym.Size)
	}
	symtab := NewSection2(".symtab", stdelf.SHT_SYMTAB, 0, NewStaticValue(buf))
	symtab.Header.Link = list.RefTo(".strtab")
	symtab.Header.Info = 1 // index of the first non-local (global) symbol: one null entry precedes it
	symtab.Header.EntSize = symEntSize
	list.Add(symtab)
}
