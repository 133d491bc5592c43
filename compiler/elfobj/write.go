package elfobj

import (
	"debug/elf"
	"io"

	"fortio.org/safecast"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	Options struct {
		// PageAlign places loadable sections at file offsets
		// congruent to their addresses modulo PageSize,
		// so the file can be mapped by a loader.
		PageAlign bool
	}

	writer struct {
		w   io.WriteSeeker
		f   *File
		sz  sizes
		opt Options

		order endian
		off   uint64
	}

	// shdr is a section header with final name offset and file position.
	shdr struct {
		*Section

		name uint32
		off  uint64
		size uint64
	}

	enc struct {
		order endian
		class elf.Class

		b   []byte
		err error
	}
)

// Write serializes f.
//
// The file header and program headers are written as placeholders first,
// then section contents, the section name table and section headers.
// Headers are rewritten at the end when all offsets are known.
func Write(w io.WriteSeeker, f *File, opts Options) (err error) {
	sz, err := classSizes(f.Class)
	if err != nil {
		return err
	}

	order, err := byteOrder(f.Data)
	if err != nil {
		return err
	}

	if f.Type == elf.ET_EXEC {
		err = f.checkAligned()
		if err != nil {
			return err
		}
	}

	wr := &writer{
		w:     w,
		f:     f,
		sz:    sz,
		opt:   opts,
		order: order,
	}

	return wr.write()
}

func (f *File) checkAligned() error {
	for _, s := range f.Sections {
		if s.Loadable() && s.Addr%PageSize != 0 {
			return errors.Wrap(ErrMisaligned, "section %v at %#x", s.Name, s.Addr)
		}
	}

	for i, p := range f.Progs {
		if p.Section == 0 && p.Type == elf.PT_LOAD && p.Vaddr%PageSize != 0 {
			return errors.Wrap(ErrMisaligned, "segment %d at %#x", i, p.Vaddr)
		}
	}

	return nil
}

func (w *writer) write() (err error) {
	f := w.f
	exec := f.Type == elf.ET_EXEC

	err = w.pad(uint64(w.sz.ehdr))
	if err != nil {
		return errors.Wrap(err, "header")
	}

	var phoff uint64

	if len(f.Progs) != 0 {
		phoff = w.off

		err = w.pad(phoff + uint64(len(f.Progs)*w.sz.phdr))
		if err != nil {
			return errors.Wrap(err, "program headers")
		}
	}

	shstr := newStrtab()
	hdrs := make([]shdr, 0, len(f.Sections)+2)
	hdrs = append(hdrs, shdr{Section: &Section{}})

	for _, s := range f.Sections {
		h := shdr{Section: s, size: s.MemSize()}

		h.name, err = safecast.Conv[uint32](shstr.add(s.Name))
		if err != nil {
			return errors.Wrap(err, "section %v: name", s.Name)
		}

		if w.opt.PageAlign && s.Loadable() {
			err = w.pad(w.off + (s.Addr-w.off)%PageSize)
			if err != nil {
				return errors.Wrap(err, "section %v", s.Name)
			}
		}

		h.off = w.off

		if s.Type != elf.SHT_NOBITS {
			err = w.bytes(s.Data)
			if err != nil {
				return errors.Wrap(err, "section %v", s.Name)
			}

			if exec && s.Loadable() {
				err = w.pad(h.off + roundUp(h.size, PageSize))
				if err != nil {
					return errors.Wrap(err, "section %v", s.Name)
				}
			}
		}

		hdrs = append(hdrs, h)
	}

	{
		name, err := safecast.Conv[uint32](shstr.add(".shstrtab"))
		if err != nil {
			return errors.Wrap(err, "shstrtab name")
		}

		s := &Section{
			Name:  ".shstrtab",
			Type:  elf.SHT_STRTAB,
			Align: 1,
			Data:  shstr.b,
		}

		h := shdr{Section: s, name: name, off: w.off, size: uint64(len(shstr.b))}

		err = w.bytes(shstr.b)
		if err != nil {
			return errors.Wrap(err, "shstrtab")
		}

		hdrs = append(hdrs, h)
	}

	shoff := w.off

	for _, h := range hdrs {
		b, err := w.shdr(h)
		if err == nil {
			err = w.bytes(b)
		}
		if err != nil {
			return errors.Wrap(err, "section header %v", h.Name)
		}
	}

	end := w.off

	if tlog.If("elf_layout") {
		for i, h := range hdrs {
			tlog.Printw("section", "i", i, "name", h.Name, "off", tlog.FormatNext("%#x"), h.off, "size", h.size, "addr", tlog.FormatNext("%#x"), h.Addr)
		}
	}

	hdr, err := w.ehdr(phoff, shoff, len(hdrs), len(hdrs)-1)
	if err != nil {
		return errors.Wrap(err, "header")
	}

	err = w.at(0, hdr)
	if err != nil {
		return errors.Wrap(err, "header")
	}

	if len(f.Progs) != 0 {
		var b []byte

		for i, p := range f.Progs {
			ph, err := w.phdr(p, hdrs)
			if err != nil {
				return errors.Wrap(err, "program header %d", i)
			}

			b = append(b, ph...)
		}

		err = w.at(phoff, b)
		if err != nil {
			return errors.Wrap(err, "program headers")
		}
	}

	_, err = w.w.Seek(int64(end), io.SeekStart)

	return err
}

func (w *writer) ehdr(phoff, shoff uint64, shnum, shstrndx int) ([]byte, error) {
	f := w.f
	e := w.enc()

	data := f.Data
	if data == elf.ELFDATANONE {
		data = elf.ELFDATA2LSB
	}

	e.b = append(e.b, 0x7f, 'E', 'L', 'F', byte(f.Class), byte(data), byte(elf.EV_CURRENT), byte(elf.ELFOSABI_NONE))
	e.b = append(e.b, make([]byte, elf.EI_NIDENT-len(e.b))...)

	e.u16(uint64(f.Type))
	e.u16(uint64(f.Machine))
	e.u32(uint64(elf.EV_CURRENT))
	e.word(f.Entry)
	e.word(phoff)
	e.word(shoff)
	e.u32(0) // flags
	e.u16(uint64(w.sz.ehdr))

	if len(f.Progs) != 0 {
		e.u16(uint64(w.sz.phdr))
	} else {
		e.u16(0)
	}

	e.u16(uint64(len(f.Progs)))
	e.u16(uint64(w.sz.shdr))
	e.u16(uint64(shnum))
	e.u16(uint64(shstrndx))

	return e.b, e.err
}

func (w *writer) phdr(p *Prog, hdrs []shdr) ([]byte, error) {
	q := *p

	if q.Section != 0 {
		if q.Section < 0 || q.Section >= len(hdrs)-1 {
			return nil, errors.New("no section %d", q.Section)
		}

		h := hdrs[q.Section]

		q.Off = h.off
		q.Vaddr = h.Addr
		q.Filesz = h.Section.FileSize()
		q.Memsz = h.size

		if w.f.Type == elf.ET_EXEC {
			q.Filesz = roundUp(q.Filesz, PageSize)
			q.Memsz = roundUp(q.Memsz, PageSize)
		}
	}

	e := w.enc()

	e.u32(uint64(q.Type))

	if w.f.Class == elf.ELFCLASS64 {
		e.u32(uint64(q.Flags))
	}

	e.word(q.Off)
	e.word(q.Vaddr)
	e.word(q.Vaddr) // paddr
	e.word(q.Filesz)
	e.word(q.Memsz)

	if w.f.Class == elf.ELFCLASS32 {
		e.u32(uint64(q.Flags))
	}

	e.word(q.Align)

	return e.b, e.err
}

func (w *writer) shdr(h shdr) ([]byte, error) {
	e := w.enc()

	if h.Type == elf.SHT_NULL {
		return make([]byte, w.sz.shdr), nil
	}

	e.u32(uint64(h.name))
	e.u32(uint64(h.Type))
	e.word(uint64(h.Flags))
	e.word(h.Addr)
	e.word(h.off)
	e.word(h.size)
	e.u32(uint64(h.Link))
	e.u32(uint64(h.Info))
	e.word(h.Align)
	e.word(h.Entsize)

	return e.b, e.err
}

func (w *writer) bytes(b []byte) error {
	if b == nil {
		return nil
	}

	n, err := w.w.Write(b)
	w.off += uint64(n)

	return err
}

// pad writes zeros up to the offset.
func (w *writer) pad(to uint64) error {
	if to < w.off {
		return errors.New("pad backwards: %#x < %#x", to, w.off)
	}

	if to == w.off {
		return nil
	}

	return w.bytes(make([]byte, to-w.off))
}

// at overwrites bytes at off.
func (w *writer) at(off uint64, b []byte) (err error) {
	_, err = w.w.Seek(int64(off), io.SeekStart)
	if err != nil {
		return err
	}

	_, err = w.w.Write(b)

	return err
}

func (w *writer) enc() *enc {
	return &enc{order: w.order, class: w.f.Class}
}

func (e *enc) u8(x uint8) {
	e.b = append(e.b, x)
}

func (e *enc) u16(x uint64) {
	v, err := safecast.Conv[uint16](x)
	e.fail(err)

	e.b = e.order.AppendUint16(e.b, v)
}

func (e *enc) u32(x uint64) {
	v, err := safecast.Conv[uint32](x)
	e.fail(err)

	e.b = e.order.AppendUint32(e.b, v)
}

func (e *enc) u64(x uint64) {
	e.b = e.order.AppendUint64(e.b, x)
}

// word is an address, offset or size field: 4 bytes in ELF32, 8 in ELF64.
func (e *enc) word(x uint64) {
	if e.class == elf.ELFCLASS64 {
		e.u64(x)
	} else {
		e.u32(x)
	}
}

func (e *enc) fail(err error) {
	if err != nil && e.err == nil {
		e.err = errors.Wrap(err, "field at %#x", len(e.b))
	}
}
