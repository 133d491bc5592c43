package elfobj

import (
	"debug/elf"
	"encoding/binary"

	"fortio.org/safecast"
	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/obj"
)

type (
	symEntry struct {
		name  string
		value uint64
		size  uint64
		bind  elf.SymBind
		typ   elf.SymType
		shndx elf.SectionIndex
	}

	// symtab collects symbol table entries.
	// index maps a name to the entry relocations refer to.
	symtab struct {
		ents  []symEntry
		index map[string]int
	}
)

// Object converts a module into a relocatable object.
//
// Sections are .text, .data and .bss, followed by relocation sections,
// .symtab and .strtab. Symbols are ordered null, locals, globals,
// then undefined references.
func Object(m *obj.Module) (f *File, err error) {
	class, machine, err := target(m.Mode)
	if err != nil {
		return nil, err
	}

	f = &File{
		Class:   class,
		Data:    elf.ELFDATA2LSB,
		Type:    elf.ET_REL,
		Machine: machine,
	}

	secs := m.Sections()
	segIndex := map[obj.Seg]elf.SectionIndex{}

	for i, s := range secs {
		f.Sections = append(f.Sections, section(s, m.Mode))
		segIndex[s.Seg] = elf.SectionIndex(i + 1)
	}

	st := &symtab{index: map[string]int{}}

	for _, bind := range []obj.Bind{obj.Local, obj.Global} {
		for _, s := range m.Symbols {
			if s.Bind != bind || s.Seg == obj.Undef && bind == obj.Local {
				continue
			}

			e, err := entry(s, segIndex, obj.Bases{})
			if err != nil {
				return nil, err
			}

			st.add(e)
		}
	}

	for _, name := range m.Undefined() {
		if _, ok := st.index[name]; ok {
			continue
		}

		st.add(symEntry{name: name, bind: elf.STB_GLOBAL, shndx: elf.SHN_UNDEF})
	}

	nrel := 0

	for _, s := range secs {
		if len(s.Relocs) != 0 {
			nrel++
		}
	}

	symIdx := len(secs) + nrel + 1

	for i, s := range secs {
		if len(s.Relocs) == 0 {
			continue
		}

		rs, err := relSection(s, uint32(i+1), uint32(symIdx), st, m.Mode)
		if err != nil {
			return nil, errors.Wrap(err, "section %v", s.Name)
		}

		f.Sections = append(f.Sections, rs)
	}

	syms, strs, err := st.encode(m.Mode)
	if err != nil {
		return nil, errors.Wrap(err, "symtab")
	}

	f.Sections = append(f.Sections, syms, strs)
	syms.Link = uint32(symIdx + 1)

	return f, nil
}

// Module converts a relocatable object back into a module.
// Symbol values are taken relative to their section address,
// so linked executables can be inspected too.
func Module(f *File, name string) (m *obj.Module, err error) {
	mode, err := modeOf(f)
	if err != nil {
		return nil, err
	}

	m = obj.NewModule(name, mode)

	segs := map[int]*obj.Section{}

	for i, s := range f.Sections {
		var dst *obj.Section

		switch s.Name {
		case ".text":
			dst = m.Text
		case ".data":
			dst = m.Data
		case ".bss":
			dst = m.Bss
		default:
			continue
		}

		dst.Flags = objFlags(s.Flags)
		dst.Addr = s.Addr

		if s.Type == elf.SHT_NOBITS {
			dst.Size = int64(s.Size)
		} else {
			dst.Data = s.Data
		}

		segs[i+1] = dst
	}

	var names []string
	symIdx := 0

	for i, s := range f.Sections {
		if s.Type != elf.SHT_SYMTAB {
			continue
		}

		symIdx = i + 1

		names, err = readSymtab(f, s, segs, m)
		if err != nil {
			return nil, errors.Wrap(err, "section %v", s.Name)
		}

		break
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_REL && s.Type != elf.SHT_RELA {
			continue
		}

		err = readRelocs(f, s, symIdx, names, segs)
		if err != nil {
			return nil, errors.Wrap(err, "section %v", s.Name)
		}
	}

	return m, nil
}

func section(s *obj.Section, mode asm.Mode) *Section {
	es := &Section{
		Name:  s.Name,
		Type:  elf.SHT_PROGBITS,
		Flags: sectionFlags(s.Flags),
		Addr:  s.Addr,
		Align: uint64(mode.Word()),
		Data:  s.Data,
	}

	if s.Seg == obj.Code {
		es.Align = 16
	}

	if s.Seg == obj.Bss {
		es.Type = elf.SHT_NOBITS
		es.Size = uint64(s.Size)
		es.Data = nil
	}

	return es
}

func entry(s obj.Symbol, segIndex map[obj.Seg]elf.SectionIndex, bases obj.Bases) (e symEntry, err error) {
	e = symEntry{
		name: s.Name,
		bind: elf.STB_LOCAL,
	}

	e.size, err = safecast.Conv[uint64](s.Size)
	if err != nil {
		return e, errors.Wrap(err, "symbol %v: size", s.Name)
	}

	if s.Bind == obj.Global {
		e.bind = elf.STB_GLOBAL
	}

	switch s.Type {
	case obj.Function:
		e.typ = elf.STT_FUNC
	case obj.Object:
		e.typ = elf.STT_OBJECT
	default:
		e.typ = elf.STT_NOTYPE
	}

	switch s.Seg {
	case obj.Undef:
		e.shndx = elf.SHN_UNDEF
		return e, nil
	case obj.Absolute:
		e.shndx = elf.SHN_ABS
	default:
		idx, ok := segIndex[s.Seg]
		if !ok {
			return e, errors.New("symbol %v: no section for %v", s.Name, s.Seg)
		}

		e.shndx = idx
	}

	e.value = bases.Addr(s)

	return e, nil
}

func (st *symtab) add(e symEntry) {
	if _, ok := st.index[e.name]; !ok {
		st.index[e.name] = len(st.ents) + 1
	}

	st.ents = append(st.ents, e)
}

func (st *symtab) firstGlobal() int {
	for i, e := range st.ents {
		if e.bind != elf.STB_LOCAL {
			return i + 1
		}
	}

	return len(st.ents) + 1
}

// encode returns .symtab and .strtab sections.
// The caller sets .symtab Link to the .strtab index.
func (st *symtab) encode(mode asm.Mode) (syms, strs *Section, err error) {
	class, _, err := target(mode)
	if err != nil {
		return nil, nil, err
	}

	sz, _ := classSizes(class)
	str := newStrtab()
	e := &enc{order: binary.LittleEndian, class: class}

	e.b = append(e.b, make([]byte, sz.sym)...)

	for _, x := range st.ents {
		name := str.add(x.name)
		info := elf.ST_INFO(x.bind, x.typ)

		e.u32(uint64(name))

		if class == elf.ELFCLASS32 {
			e.u32(x.value)
			e.u32(x.size)
			e.u8(info)
			e.u8(0)
			e.u16(uint64(x.shndx))
		} else {
			e.u8(info)
			e.u8(0)
			e.u16(uint64(x.shndx))
			e.u64(x.value)
			e.u64(x.size)
		}
	}

	if e.err != nil {
		return nil, nil, e.err
	}

	syms = &Section{
		Name:    ".symtab",
		Type:    elf.SHT_SYMTAB,
		Info:    uint32(st.firstGlobal()),
		Align:   uint64(mode.Word()),
		Entsize: uint64(sz.sym),
		Data:    e.b,
	}

	strs = &Section{
		Name:  ".strtab",
		Type:  elf.SHT_STRTAB,
		Align: 1,
		Data:  str.b,
	}

	return syms, strs, nil
}

func relSection(s *obj.Section, patched, symIdx uint32, st *symtab, mode asm.Mode) (*Section, error) {
	class, _, err := target(mode)
	if err != nil {
		return nil, err
	}

	sz, _ := classSizes(class)
	e := &enc{order: binary.LittleEndian, class: class}

	for _, r := range s.Relocs {
		if r.Pos < 0 || r.Pos+4 > int64(len(s.Data)) {
			return nil, errors.Wrap(obj.ErrOutOfRange, "reloc %v at %#x", r.Sym, r.Pos)
		}

		sym, ok := st.index[r.Sym]
		if !ok {
			return nil, errors.Wrap(obj.ErrUnresolved, "reloc %v at %#x: no symbol entry", r.Sym, r.Pos)
		}

		typ, err := relType(mode, r.Kind)
		if err != nil {
			return nil, errors.Wrap(err, "reloc %v at %#x", r.Sym, r.Pos)
		}

		if class == elf.ELFCLASS32 {
			e.u32(uint64(r.Pos))
			e.u32(uint64(sym)<<8 | uint64(typ))
		} else {
			e.u64(uint64(r.Pos))
			e.u64(uint64(sym)<<32 | uint64(typ))
			e.u64(uint64(r.Addend))
		}
	}

	if e.err != nil {
		return nil, e.err
	}

	rs := &Section{
		Name:    ".rel" + s.Name,
		Type:    elf.SHT_REL,
		Flags:   elf.SHF_INFO_LINK,
		Link:    symIdx,
		Info:    patched,
		Align:   uint64(mode.Word()),
		Entsize: uint64(sz.rel),
		Data:    e.b,
	}

	if class == elf.ELFCLASS64 {
		rs.Name = ".rela" + s.Name
		rs.Type = elf.SHT_RELA
	}

	return rs, nil
}

func relType(mode asm.Mode, k obj.RelocKind) (uint32, error) {
	switch {
	case mode == asm.Mode32 && k == obj.AbsoluteWord:
		return uint32(elf.R_386_32), nil
	case mode == asm.Mode32 && k == obj.RelativeWord:
		return uint32(elf.R_386_PC32), nil
	case mode == asm.Mode64 && k == obj.AbsoluteWord:
		return uint32(elf.R_X86_64_32), nil
	case mode == asm.Mode64 && k == obj.AbsoluteSigned:
		return uint32(elf.R_X86_64_32S), nil
	case mode == asm.Mode64 && k == obj.RelativeWord:
		return uint32(elf.R_X86_64_PC32), nil
	}

	return 0, errors.New("unsupported relocation %v in mode %d", k, mode)
}

func relKind(class elf.Class, typ uint32) (obj.RelocKind, error) {
	if class == elf.ELFCLASS32 {
		switch elf.R_386(typ) {
		case elf.R_386_32:
			return obj.AbsoluteWord, nil
		case elf.R_386_PC32:
			return obj.RelativeWord, nil
		}

		return 0, errors.New("unsupported relocation type %v", elf.R_386(typ))
	}

	switch elf.R_X86_64(typ) {
	case elf.R_X86_64_32:
		return obj.AbsoluteWord, nil
	case elf.R_X86_64_32S:
		return obj.AbsoluteSigned, nil
	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
		return obj.RelativeWord, nil
	}

	return 0, errors.New("unsupported relocation type %v", elf.R_X86_64(typ))
}

// readSymtab adds defined symbols to m and returns names of all the entries by index.
func readSymtab(f *File, s *Section, segs map[int]*obj.Section, m *obj.Module) (names []string, err error) {
	sz, _ := classSizes(f.Class)
	order, _ := byteOrder(f.Data)

	str := f.SectionAt(int(s.Link))
	if str == nil || str.Type != elf.SHT_STRTAB {
		return nil, errors.Wrap(ErrMalformed, "symtab link %d", s.Link)
	}

	if len(s.Data)%sz.sym != 0 {
		return nil, errors.Wrap(ErrMalformed, "symtab size %d", len(s.Data))
	}

	d := &dec{order: order, class: f.Class, b: s.Data}
	n := len(s.Data) / sz.sym
	names = make([]string, n)

	for i := 1; i < n; i++ {
		d.p = uint64(i * sz.sym)

		var e symEntry
		var info uint8
		var nameOff uint32

		nameOff = d.u32()

		if f.Class == elf.ELFCLASS32 {
			e.value = uint64(d.u32())
			e.size = uint64(d.u32())
			info = d.u8()
			_ = d.u8()
			e.shndx = elf.SectionIndex(d.u16())
		} else {
			info = d.u8()
			_ = d.u8()
			e.shndx = elf.SectionIndex(d.u16())
			e.value = d.u64()
			e.size = d.u64()
		}

		if d.err != nil {
			return nil, errors.Wrap(d.err, "symbol %d", i)
		}

		name, ok := cstring(str.Data, nameOff)
		if !ok {
			return nil, errors.Wrap(ErrMalformed, "symbol %d: name offset %#x", i, nameOff)
		}

		names[i] = name
		e.bind = elf.ST_BIND(info)
		e.typ = elf.ST_TYPE(info)

		if e.typ == elf.STT_SECTION || e.typ == elf.STT_FILE || e.shndx == elf.SHN_UNDEF {
			continue
		}

		sym := obj.Symbol{
			Name: name,
			Bind: obj.Local,
			Type: obj.NoType,
		}

		if e.bind != elf.STB_LOCAL {
			sym.Bind = obj.Global
		}

		switch e.typ {
		case elf.STT_FUNC:
			sym.Type = obj.Function
		case elf.STT_OBJECT:
			sym.Type = obj.Object
		}

		sym.Size, err = safecast.Conv[int64](e.size)
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, "symbol %v: size %#x", name, e.size)
		}

		var base uint64

		if e.shndx == elf.SHN_ABS {
			sym.Seg = obj.Absolute
		} else {
			sec, ok := segs[int(e.shndx)]
			if !ok {
				return nil, errors.New("symbol %v: unsupported section %d", name, e.shndx)
			}

			sym.Seg = sec.Seg
			base = sec.Addr
		}

		sym.Offset, err = safecast.Conv[int64](e.value - base)
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, "symbol %v: value %#x", name, e.value)
		}

		m.Symbols.Add(sym)
	}

	return names, nil
}

func readRelocs(f *File, s *Section, symIdx int, names []string, segs map[int]*obj.Section) error {
	order, _ := byteOrder(f.Data)

	rela := s.Type == elf.SHT_RELA

	var esize int

	switch {
	case f.Class == elf.ELFCLASS32 && !rela:
		esize = 8
	case f.Class == elf.ELFCLASS32:
		esize = 12
	case !rela:
		esize = 16
	default:
		esize = 24
	}

	if int(s.Link) != symIdx || symIdx == 0 {
		return errors.Wrap(ErrMalformed, "link %d is not the symbol table", s.Link)
	}

	dst, ok := segs[int(s.Info)]
	if !ok {
		return errors.New("relocations for unsupported section %d", s.Info)
	}

	if len(s.Data)%esize != 0 {
		return errors.Wrap(ErrMalformed, "size %d", len(s.Data))
	}

	d := &dec{order: order, class: f.Class, b: s.Data}

	for d.p < uint64(len(s.Data)) {
		var off, info uint64
		var sym int
		var typ uint32

		off = d.word()

		if f.Class == elf.ELFCLASS32 {
			info = uint64(d.u32())
			sym, typ = int(info>>8), uint32(info&0xff)
		} else {
			info = d.u64()
			sym, typ = int(info>>32), uint32(info)
		}

		var addend int64

		if rela {
			addend = int64(d.word())
			if f.Class == elf.ELFCLASS32 {
				addend = int64(int32(addend))
			}
		}

		if d.err != nil {
			return d.err
		}

		if sym <= 0 || sym >= len(names) {
			return errors.Wrap(ErrMalformed, "reloc at %#x: symbol index %d", off, sym)
		}

		if off > uint64(len(dst.Data)) || uint64(len(dst.Data))-off < 4 {
			return errors.Wrap(ErrMalformed, "reloc %v at %#x: outside of %v", names[sym], off, dst.Name)
		}

		kind, err := relKind(f.Class, typ)
		if err != nil {
			return errors.Wrap(err, "reloc %v at %#x", names[sym], off)
		}

		if !rela {
			addend = int64(int32(order.Uint32(dst.Data[off:])))
		}

		dst.Relocs.Add(obj.Reloc{
			Pos:    int64(off),
			Sym:    names[sym],
			Kind:   kind,
			Addend: addend,
		})
	}

	return nil
}

func target(m asm.Mode) (elf.Class, elf.Machine, error) {
	switch m {
	case asm.Mode32:
		return elf.ELFCLASS32, elf.EM_386, nil
	case asm.Mode64:
		return elf.ELFCLASS64, elf.EM_X86_64, nil
	}

	return 0, 0, errors.New("bad mode: %d", m)
}

func modeOf(f *File) (asm.Mode, error) {
	switch {
	case f.Class == elf.ELFCLASS32 && f.Machine == elf.EM_386:
		return asm.Mode32, nil
	case f.Class == elf.ELFCLASS64 && f.Machine == elf.EM_X86_64:
		return asm.Mode64, nil
	}

	return 0, errors.New("unsupported target: %v %v", f.Class, f.Machine)
}

func sectionFlags(fl obj.Flags) (r elf.SectionFlag) {
	if fl&obj.FlagAlloc != 0 {
		r |= elf.SHF_ALLOC
	}

	if fl&obj.FlagWrite != 0 {
		r |= elf.SHF_WRITE
	}

	if fl&obj.FlagExec != 0 {
		r |= elf.SHF_EXECINSTR
	}

	return r
}

func objFlags(fl elf.SectionFlag) (r obj.Flags) {
	if fl&elf.SHF_ALLOC != 0 {
		r |= obj.FlagAlloc
	}

	if fl&elf.SHF_WRITE != 0 {
		r |= obj.FlagWrite
	}

	if fl&elf.SHF_EXECINSTR != 0 {
		r |= obj.FlagExec
	}

	return r
}
