package generate

import (
	stdelf "debug/elf"

	"github.com/pkg/errors"
)

// buildStringTable concatenates names into a string table buffer, index 0
// reserved for the empty name per the ELF convention that sh_name == 0
// means "no name" (spec §4.6's "pre-write pass" that populates sh_name
// from the section-name string table).
func buildStringTable(names []string) ([]byte, map[string]uint32) {
	offsets := make(map[string]uint32, len(names))
	buf := []byte{0}
	for _, name := range names {
		if _, ok := offsets[name]; ok {
			continue
		}
		offsets[name] = uint32(len(buf))
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return buf, offsets
}

// ensureShStrTab builds the .shstrtab section from every section name
// currently in list (including its own), adds it to list if not already
// present, and stamps every header's NameIndex from the resulting table.
// It returns .shstrtab's own index, for the ELF header's e_shstrndx.
func ensureShStrTab(list *SectionList) (int, error) {
	if _, ok := list.ByName(".shstrtab"); !ok {
		names := make([]string, 0, len(list.All())+1)
		for _, s := range list.All() {
			names = append(names, s.Header.Name)
		}
		names = append(names, ".shstrtab")

		buf, offsets := buildStringTable(names)
		strtab := NewSection2(".shstrtab", stdelf.SHT_STRTAB, 0, NewStaticValue(buf))
		list.Add(strtab)

		for _, s := range list.All() {
			s.Header.NameIndex = offsets[s.Header.Name]
		}
	}

	idx, ok := list.IndexOf(".shstrtab")
	if !ok {
		return 0, errors.New("generate: .shstrtab section missing after construction")
	}
	return idx, nil
}
