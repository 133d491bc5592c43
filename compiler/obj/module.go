package obj

import (
	"github.com/slowlang/xcc/compiler/asm"
)

type (
	Flags int

	Section struct {
		Name  string
		Seg   Seg
		Flags Flags

		Data []byte
		Size int64 // bss only

		Relocs Relocs

		Addr uint64 // assigned by layout
	}

	// Module is a unit of compilation: sections it owns
	// and a symbol table shared by them.
	Module struct {
		Name string
		Mode asm.Mode

		Text *Section
		Data *Section
		Bss  *Section

		Symbols Symbols
	}
)

const (
	FlagWrite Flags = 1 << iota
	FlagAlloc
	FlagExec
)

func NewModule(name string, m asm.Mode) *Module {
	return &Module{
		Name: name,
		Mode: m,
		Text: &Section{Name: ".text", Seg: Code, Flags: FlagAlloc | FlagExec},
		Data: &Section{Name: ".data", Seg: Data, Flags: FlagAlloc | FlagWrite},
		Bss:  &Section{Name: ".bss", Seg: Bss, Flags: FlagAlloc | FlagWrite},
	}
}

func (m *Module) Sections() []*Section {
	return []*Section{m.Text, m.Data, m.Bss}
}

func (m *Module) Section(seg Seg) *Section {
	switch seg {
	case Code:
		return m.Text
	case Data:
		return m.Data
	case Bss:
		return m.Bss
	}

	return nil
}

// Undefined returns relocation targets not defined in the module, in order of first reference.
func (m *Module) Undefined() (l []string) {
	seen := map[string]struct{}{}

	for _, s := range m.Sections() {
		for _, r := range s.Relocs {
			if _, ok := seen[r.Sym]; ok {
				continue
			}

			seen[r.Sym] = struct{}{}

			if _, ok := m.Symbols.Lookup(r.Sym); !ok {
				l = append(l, r.Sym)
			}
		}
	}

	return l
}

// Len is the memory size of the section.
func (s *Section) Len() int64 {
	if s.Seg == Bss {
		return s.Size
	}

	return int64(len(s.Data))
}

func (f Flags) String() string {
	b := []byte("---")

	if f&FlagAlloc != 0 {
		b[0] = 'a'
	}

	if f&FlagWrite != 0 {
		b[1] = 'w'
	}

	if f&FlagExec != 0 {
		b[2] = 'x'
	}

	return string(b)
}
