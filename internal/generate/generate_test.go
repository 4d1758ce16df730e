package generate

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SleepyMug/egalito/internal/binfmt"
	"github.com/SleepyMug/egalito/internal/elfmap"
	"github.com/SleepyMug/egalito/internal/isa"
)

func TestResolveOrderRunsDependenciesFirst(t *testing.T) {
	a := NewStaticValue([]byte("A"))
	b := NewStaticValue([]byte("B"), a)
	c := NewStaticValue([]byte("C"), b)

	order, err := ResolveOrder([]DeferredValue{c, a, b})
	if err != nil {
		t.Fatalf("ResolveOrder: %v", err)
	}
	pos := make(map[DeferredValue]int, len(order))
	for i, v := range order {
		pos[v] = i
	}
	if pos[a] > pos[b] || pos[b] > pos[c] {
		t.Fatalf("dependency order violated: a=%d b=%d c=%d", pos[a], pos[b], pos[c])
	}
}

func TestResolveOrderDetectsCycle(t *testing.T) {
	var x, y funcValue
	x = funcValue{
		size:  func() (int, error) { return 0, nil },
		write: func(w io.Writer) (int64, error) { return 0, nil },
		deps:  []DeferredValue{&y},
	}
	y = funcValue{
		size:  func() (int, error) { return 0, nil },
		write: func(w io.Writer) (int64, error) { return 0, nil },
		deps:  []DeferredValue{&x},
	}
	_, err := ResolveOrder([]DeferredValue{&x, &y})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestSectionListPreservesOrderAndResolvesRefs(t *testing.T) {
	list := NewSectionList()
	strtab := NewSection2(".strtab", stdelf.SHT_STRTAB, 0, NewStaticValue([]byte{0, 'a', 0}))
	symtab := NewSection2(".symtab", stdelf.SHT_SYMTAB, 0, NewStaticValue(make([]byte, 24)))
	symtab.Header.Link = list.RefTo(".strtab")

	list.Add(strtab)
	list.Add(symtab)

	idx, ok := list.IndexOf(".strtab")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, uint32(0), symtab.Header.Link.Index(), "symtab sh_link")

	got, ok := list.ByName(".symtab")
	require.True(t, ok)
	assert.Same(t, symtab, got)
}

func TestGeneratorEmitProducesValidELFHeader(t *testing.T) {
	list := NewSectionList()
	list.Add(NewSection2(".text", stdelf.SHT_PROGBITS, stdelf.SHF_ALLOC|stdelf.SHF_EXECINSTR,
		NewStaticValue([]byte{0x90, 0x90, 0xc3})))

	g := &Generator{
		Target: binfmt.Target{Arch: isa.ArchX86_64, OS: binfmt.OSLinux},
		Entry:  0x1000,
		Segments: []Segment{
			{Vaddr: 0x1000, Offset: 0, Filesz: 0x20, Memsz: 0x20, Flags: 5},
		},
		Sections: list,
	}

	var buf bytes.Buffer
	require.NoError(t, g.Emit(&buf))

	out := buf.Bytes()
	require.GreaterOrEqual(t, len(out), ehdrSize)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4], "ELF magic")
	assert.Equal(t, byte(2), out[4], "e_ident[EI_CLASS] should be ELFCLASS64")
}

// TestGeneratorEmitPopulatesSectionNamesAndShstrndx exercises the
// .shstrtab construction pass: every section's sh_name must resolve
// through it to the section's own name, and e_shstrndx must point at it.
func TestGeneratorEmitPopulatesSectionNamesAndShstrndx(t *testing.T) {
	list := NewSectionList()
	list.Add(NewSection2(".text", stdelf.SHT_PROGBITS, stdelf.SHF_ALLOC|stdelf.SHF_EXECINSTR,
		NewStaticValue([]byte{0x90, 0xc3})))
	list.Add(NewSection2(".data", stdelf.SHT_PROGBITS, stdelf.SHF_ALLOC|stdelf.SHF_WRITE,
		NewStaticValue([]byte{0x01, 0x02, 0x03, 0x04})))

	g := &Generator{
		Target:   binfmt.Target{Arch: isa.ArchX86_64, OS: binfmt.OSLinux},
		Segments: []Segment{{Vaddr: 0x1000, Filesz: 2, Memsz: 2, Flags: 5}},
		Sections: list,
	}

	var buf bytes.Buffer
	require.NoError(t, g.Emit(&buf))

	out := buf.Bytes()
	shnum := int(binary.LittleEndian.Uint16(out[60:62]))
	shoff := binary.LittleEndian.Uint64(out[40:48])
	shstrndx := int(binary.LittleEndian.Uint16(out[62:64]))
	require.Equal(t, 3, shnum, ".text, .data, .shstrtab")
	require.Less(t, shstrndx, shnum)

	strtabHdr := out[shoff+uint64(shstrndx)*shdrSize : shoff+uint64(shstrndx+1)*shdrSize]
	strtabOff := binary.LittleEndian.Uint64(strtabHdr[24:32])
	strtabSize := binary.LittleEndian.Uint64(strtabHdr[32:40])
	strtab := out[strtabOff : strtabOff+strtabSize]

	wantNames := map[string]bool{".text": false, ".data": false, ".shstrtab": false}
	for i := 0; i < shnum; i++ {
		hdr := out[shoff+uint64(i)*shdrSize : shoff+uint64(i+1)*shdrSize]
		nameIdx := binary.LittleEndian.Uint32(hdr[0:4])
		name := cString(strtab[nameIdx:])
		if _, ok := wantNames[name]; ok {
			wantNames[name] = true
		}
	}
	for name, seen := range wantNames {
		assert.True(t, seen, "section name %q not found via sh_name/.shstrtab", name)
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// TestEmissionIsDeterministic emits the same layout twice and requires
// byte-identical output, the property spec §8 calls "emission
// determinism".
func TestEmissionIsDeterministic(t *testing.T) {
	build := func() *Generator {
		list := NewSectionList()
		list.Add(NewSection2(".text", stdelf.SHT_PROGBITS, stdelf.SHF_ALLOC|stdelf.SHF_EXECINSTR,
			NewStaticValue([]byte{0x55, 0x48, 0x89, 0xe5, 0xc3})))
		return &Generator{
			Target:   binfmt.Target{Arch: isa.ArchX86_64, OS: binfmt.OSLinux},
			Entry:    0x1000,
			Segments: []Segment{{Vaddr: 0x1000, Filesz: 5, Memsz: 5, Flags: 5}},
			Sections: list,
		}
	}

	var first, second bytes.Buffer
	require.NoError(t, build().Emit(&first))
	require.NoError(t, build().Emit(&second))

	if diff := cmp.Diff(first.Bytes(), second.Bytes()); diff != "" {
		t.Fatalf("two emissions of the same layout diverged (-first +second):\n%s", diff)
	}
}

// TestRoundTripParseEmitParse emits a small image to a temp file, reads
// it back with elfmap, and checks the ELF collaborator recovers the same
// entry point, machine, and section/segment shape the Generator was
// given — spec §8's "round-trip identity" property.
func TestRoundTripParseEmitParse(t *testing.T) {
	list := NewSectionList()
	list.Add(NewSection2(".text", stdelf.SHT_PROGBITS, stdelf.SHF_ALLOC|stdelf.SHF_EXECINSTR,
		NewStaticValue([]byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0xc3})))

	g := &Generator{
		Target:   binfmt.Target{Arch: isa.ArchX86_64, OS: binfmt.OSLinux},
		Entry:    0x1000,
		Segments: []Segment{{Vaddr: 0x1000, Offset: 0, Filesz: 6, Memsz: 6, Flags: 5}},
		Sections: list,
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.elf")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, g.Emit(f))
	require.NoError(t, f.Close())

	em, err := elfmap.Open(path)
	require.NoError(t, err)
	defer em.Close()

	assert.Equal(t, g.Entry, em.Entry())
	assert.Equal(t, g.Target.ELFMachine(), uint16(em.Machine()))

	var names []string
	for _, s := range em.Sections() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{".text", ".shstrtab"}, names); diff != "" {
		t.Fatalf("section names after round trip (-want +got):\n%s", diff)
	}

	require.Len(t, em.Segments(), 1)
	assert.Equal(t, g.Segments[0].Vaddr, em.Segments()[0].Vaddr)
	assert.Equal(t, g.Segments[0].Memsz, em.Segments()[0].Memsz)
}

func TestBinGenEmitsZeroFilledGaps(t *testing.T) {
	list := NewSectionList()
	list.Add(&Section2{
		Header:  SectionHeader{Name: ".text", Addr: 0x1010},
		Content: NewStaticValue([]byte{0xc3}),
	})

	g := &BinGen{
		Segments: []Segment{{Vaddr: 0x1000, Memsz: 0x20}},
		Sections: list,
	}

	var buf bytes.Buffer
	if err := g.Emit(&buf); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out := buf.Bytes()
	if len(out) != 0x20 {
		t.Fatalf("len = %d; want 0x20", len(out))
	}
	for i := 0; i < 0x10; i++ {
		if out[i] != 0 {
			t.Fatalf("byte %d = %#x; want 0 (pre-section padding)", i, out[i])
		}
	}
	if out[0x10] != 0xc3 {
		t.Fatalf("byte 0x10 = %#x; want 0xc3", out[0x10])
	}
	for i := 0x11; i < 0x20; i++ {
		if out[i] != 0 {
			t.Fatalf("byte %d = %#x; want 0 (post-section padding)", i, out[i])
		}
	}
}
