package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"

	"tlog.app/go/errors"
)

type dec struct {
	order binary.ByteOrder
	class elf.Class

	b   []byte
	p   uint64
	err error
}

var magic = []byte{0x7f, 'E', 'L', 'F'}

func ReadFile(name string) (*File, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	f, err := Parse(b)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return f, nil
}

// Parse decodes an ELF container.
// Every table is bounds checked, a failure returns no partial result.
func Parse(b []byte) (f *File, err error) {
	if len(b) < elf.EI_NIDENT || !bytes.Equal(b[:4], magic) {
		return nil, errors.Wrap(ErrMalformed, "bad magic")
	}

	f = &File{
		Class: elf.Class(b[elf.EI_CLASS]),
		Data:  elf.Data(b[elf.EI_DATA]),
	}

	sz, err := classSizes(f.Class)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "%v", err)
	}

	order, err := byteOrder(f.Data)
	if err != nil || f.Data == elf.ELFDATANONE {
		return nil, errors.Wrap(ErrMalformed, "bad data encoding: %v", f.Data)
	}

	if v := elf.Version(b[elf.EI_VERSION]); v != elf.EV_CURRENT {
		return nil, errors.Wrap(ErrMalformed, "bad version: %v", v)
	}

	d := &dec{order: order, class: f.Class, b: b, p: elf.EI_NIDENT}

	f.Type = elf.Type(d.u16())
	f.Machine = elf.Machine(d.u16())
	_ = d.u32() // version
	f.Entry = d.word()
	phoff := d.word()
	shoff := d.word()
	_ = d.u32() // flags
	ehsize := d.u16()
	phentsize := d.u16()
	phnum := d.u16()
	shentsize := d.u16()
	shnum := d.u16()
	shstrndx := d.u16()

	if d.err != nil {
		return nil, errors.Wrap(d.err, "header")
	}

	switch {
	case int(ehsize) != sz.ehdr:
		return nil, errors.Wrap(ErrMalformed, "header size %d", ehsize)
	case phnum != 0 && int(phentsize) != sz.phdr:
		return nil, errors.Wrap(ErrMalformed, "program header size %d", phentsize)
	case shnum != 0 && int(shentsize) != sz.shdr:
		return nil, errors.Wrap(ErrMalformed, "section header size %d", shentsize)
	}

	err = d.table(phoff, uint64(phnum), uint64(sz.phdr))
	if err != nil {
		return nil, errors.Wrap(err, "program headers")
	}

	err = d.table(shoff, uint64(shnum), uint64(sz.shdr))
	if err != nil {
		return nil, errors.Wrap(err, "section headers")
	}

	for i := 0; i < int(phnum); i++ {
		d.p = phoff + uint64(i*sz.phdr)

		p, err := d.prog()
		if err != nil {
			return nil, errors.Wrap(err, "program header %d", i)
		}

		f.Progs = append(f.Progs, p)
	}

	names := make([]uint32, shnum)

	for i := 1; i < int(shnum); i++ {
		d.p = shoff + uint64(i*sz.shdr)

		s, name, err := d.section()
		if err != nil {
			return nil, errors.Wrap(err, "section %d", i)
		}

		names[i] = name
		f.Sections = append(f.Sections, s)
	}

	if shnum != 0 {
		err = f.resolveNames(names, int(shstrndx))
		if err != nil {
			return nil, err
		}
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}

		for i, s := range f.Sections {
			if s.Loadable() && s.Addr == p.Vaddr && s.MemSize() != 0 {
				p.Section = i + 1
				break
			}
		}
	}

	return f, nil
}

// resolveNames sets section names from the section name table.
// The table itself is dropped when it is the last section,
// the writer always adds a fresh one.
func (f *File) resolveNames(names []uint32, idx int) error {
	str := f.SectionAt(idx)
	if str == nil || str.Type != elf.SHT_STRTAB {
		return errors.Wrap(ErrMalformed, "section name table %d", idx)
	}

	for i, s := range f.Sections {
		name, ok := cstring(str.Data, names[i+1])
		if !ok {
			return errors.Wrap(ErrMalformed, "section %d: name offset %#x", i+1, names[i+1])
		}

		s.Name = name
	}

	if idx == len(f.Sections) {
		f.Sections = f.Sections[:idx-1]
	}

	return nil
}

func (d *dec) prog() (p *Prog, err error) {
	p = &Prog{}

	p.Type = elf.ProgType(d.u32())

	if d.class == elf.ELFCLASS64 {
		p.Flags = elf.ProgFlag(d.u32())
	}

	p.Off = d.word()
	p.Vaddr = d.word()
	_ = d.word() // paddr
	p.Filesz = d.word()
	p.Memsz = d.word()

	if d.class == elf.ELFCLASS32 {
		p.Flags = elf.ProgFlag(d.u32())
	}

	p.Align = d.word()

	if d.err != nil {
		return nil, d.err
	}

	if p.Type == elf.PT_LOAD && (p.Off > uint64(len(d.b)) || p.Filesz > uint64(len(d.b))-p.Off) {
		return nil, errors.Wrap(ErrMalformed, "segment outside of file: off %#x size %#x", p.Off, p.Filesz)
	}

	return p, nil
}

func (d *dec) section() (s *Section, name uint32, err error) {
	s = &Section{}

	name = d.u32()
	s.Type = elf.SectionType(d.u32())
	s.Flags = elf.SectionFlag(d.word())
	s.Addr = d.word()
	s.Off = d.word()
	size := d.word()
	s.Link = d.u32()
	s.Info = d.u32()
	s.Align = d.word()
	s.Entsize = d.word()

	if d.err != nil {
		return nil, 0, d.err
	}

	if s.Type == elf.SHT_NOBITS {
		s.Size = size

		return s, name, nil
	}

	if s.Off > uint64(len(d.b)) || size > uint64(len(d.b))-s.Off {
		return nil, 0, errors.Wrap(ErrMalformed, "content outside of file: off %#x size %#x", s.Off, size)
	}

	s.Data = append([]byte{}, d.b[s.Off:s.Off+size]...)
	s.Size = size

	return s, name, nil
}

// table checks n entries of size bytes at off fit into the file.
func (d *dec) table(off, n, size uint64) error {
	if n == 0 {
		return nil
	}

	l := uint64(len(d.b))

	if off > l || n > (l-off)/size {
		return errors.Wrap(ErrMalformed, "table at %#x of %d entries outside of file", off, n)
	}

	return nil
}

func (d *dec) need(n uint64) bool {
	if d.err != nil {
		return false
	}

	if d.p > uint64(len(d.b)) || n > uint64(len(d.b))-d.p {
		d.err = errors.Wrap(ErrMalformed, "truncated at %#x", d.p)
		return false
	}

	return true
}

func (d *dec) u8() uint8 {
	if !d.need(1) {
		return 0
	}

	x := d.b[d.p]
	d.p++

	return x
}

func (d *dec) u16() uint16 {
	if !d.need(2) {
		return 0
	}

	x := d.order.Uint16(d.b[d.p:])
	d.p += 2

	return x
}

func (d *dec) u32() uint32 {
	if !d.need(4) {
		return 0
	}

	x := d.order.Uint32(d.b[d.p:])
	d.p += 4

	return x
}

func (d *dec) u64() uint64 {
	if !d.need(8) {
		return 0
	}

	x := d.order.Uint64(d.b[d.p:])
	d.p += 8

	return x
}

func (d *dec) word() uint64 {
	if d.class == elf.ELFCLASS64 {
		return d.u64()
	}

	return uint64(d.u32())
}
