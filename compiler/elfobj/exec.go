package elfobj

import (
	"debug/elf"

	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/obj"
)

// Image is a linked program: sections with assigned addresses,
// symbols relative to Bases and the entry point.
type Image struct {
	Mode  asm.Mode
	Entry uint64

	Sections []*obj.Section
	Symbols  obj.Symbols
	Bases    obj.Bases
}

// Executable builds an executable container.
// Every non-empty loadable section gets its own PT_LOAD segment.
// .symtab and .strtab are added only if there are symbols.
func Executable(img Image) (f *File, err error) {
	class, machine, err := target(img.Mode)
	if err != nil {
		return nil, err
	}

	f = &File{
		Class:   class,
		Data:    elf.ELFDATA2LSB,
		Type:    elf.ET_EXEC,
		Machine: machine,
		Entry:   img.Entry,
	}

	segIndex := map[obj.Seg]elf.SectionIndex{}

	for i, s := range img.Sections {
		es := section(s, img.Mode)
		f.Sections = append(f.Sections, es)

		if _, ok := segIndex[s.Seg]; !ok {
			segIndex[s.Seg] = elf.SectionIndex(i + 1)
		}

		if !es.Loadable() || es.MemSize() == 0 {
			continue
		}

		if es.Addr%PageSize != 0 {
			return nil, errors.Wrap(ErrMisaligned, "section %v at %#x", s.Name, es.Addr)
		}

		flags := elf.PF_R

		if s.Flags&obj.FlagWrite != 0 {
			flags |= elf.PF_W
		}

		if s.Flags&obj.FlagExec != 0 {
			flags |= elf.PF_X
		}

		f.Progs = append(f.Progs, &Prog{
			Type:    elf.PT_LOAD,
			Flags:   flags,
			Align:   PageSize,
			Section: i + 1,
		})
	}

	if len(img.Symbols) == 0 {
		return f, nil
	}

	st := &symtab{index: map[string]int{}}

	for _, bind := range []obj.Bind{obj.Local, obj.Global} {
		for _, s := range img.Symbols {
			if s.Bind != bind || s.Seg == obj.Undef {
				continue
			}

			e, err := entry(s, segIndex, img.Bases)
			if err != nil {
				return nil, err
			}

			st.add(e)
		}
	}

	syms, strs, err := st.encode(img.Mode)
	if err != nil {
		return nil, errors.Wrap(err, "symtab")
	}

	f.Sections = append(f.Sections, syms, strs)
	syms.Link = uint32(len(f.Sections))

	return f, nil
}
