package format

import (
	"debug/elf"
	"encoding/hex"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/back"
	"github.com/slowlang/xcc/compiler/elfobj"
	"github.com/slowlang/xcc/compiler/ir"
	"github.com/slowlang/xcc/compiler/obj"
)

type (
	// Printer renders diagnostic listings.
	// Heading decorates section titles, plain text if nil.
	Printer struct {
		Heading func(format string, args ...any) string
	}
)

// Listing renders IR one entry per line, function bodies indented.
func Listing(b []byte, l ir.Listing) []byte {
	d := 0

	for _, x := range l {
		switch x := x.(type) {
		case ir.Func:
			d = 0

			b = app(b, d, "func %v(", x.Name)

			for i, a := range x.Args {
				if i != 0 {
					b = append(b, ", "...)
				}

				b = hfmt.Appendf(b, "%v:%d", a.Name, a.Size)
			}

			b = append(b, ')')

			if x.RetSize != 0 {
				b = hfmt.Appendf(b, " %d", x.RetSize)
			}

			if x.Static {
				b = append(b, " static"...)
			}

			b = append(b, '\n')
			d = 1
		case ir.Label:
			b = app(b, d-1, "%v:\n", x.Name)
		case ir.Data:
			b = app(b, d, "%v %v [%d]", className(x.Class), x.Name, x.Size)

			if len(x.Init) != 0 {
				b = hfmt.Appendf(b, " = %x", x.Init)
			}

			b = append(b, '\n')
		case ir.Code:
			b = app(b, d, "")
			b = code(b, x)
			b = append(b, '\n')
		case ir.Call:
			b = app(b, d, "")

			if !x.Dest.IsNone() {
				b = hfmt.Appendf(b, "%v = ", x.Dest)
			}

			b = hfmt.Appendf(b, "call %v(", x.Target)

			for i, a := range x.Args {
				if i != 0 {
					b = append(b, ", "...)
				}

				b = hfmt.Appendf(b, "%v", a)
			}

			b = append(b, ")\n"...)
		case ir.Jump:
			b = app(b, d, "jump %v\n", x.Label)
		case ir.CondJump:
			b = app(b, d, "if %v %v %v jump %v\n", x.L, x.Cmp, x.R, x.Label)
		case ir.Return:
			if x.Value.IsNone() {
				b = app(b, d, "return\n")
			} else {
				b = app(b, d, "return %v\n", x.Value)
			}
		case ir.Comment:
			b = app(b, d, "// %s\n", x.Text)
		case ir.Loop:
			b = app(b, d, "loop continue=%v break=%v\n", x.Continue, x.Break)
			d++
		case ir.EndLoop:
			if d > 1 {
				d--
			}

			b = app(b, d, "end loop\n")
		case ir.Break:
			b = app(b, d, "break\n")
		case ir.Continue:
			b = app(b, d, "continue\n")
		default:
			b = app(b, d, "%T\n", x)
		}
	}

	return b
}

func code(b []byte, x ir.Code) []byte {
	switch {
	case x.Op == ir.Store:
		return hfmt.Appendf(b, "*%v = %v", x.Dest, x.Op1)
	case x.Op == ir.Copy:
		return hfmt.Appendf(b, "%v = %v", x.Dest, x.Op1)
	case x.Op.Unary():
		return hfmt.Appendf(b, "%v = %v %v", x.Dest, x.Op, x.Op1)
	default:
		return hfmt.Appendf(b, "%v = %v %v %v", x.Dest, x.Op1, x.Op, x.Op2)
	}
}

// Asm renders captured assembly lines with offsets and encoded bytes.
func Asm(b []byte, lines []back.Line, m asm.Mode) []byte {
	for _, l := range lines {
		switch {
		case l.Label != "":
			b = hfmt.Appendf(b, "%v:\n", l.Label)
		case l.Comment != "":
			b = hfmt.Appendf(b, "\t\t\t\t\t; %s\n", l.Comment)
		default:
			b = hfmt.Appendf(b, "  %6x  %-24s  ", l.Off, hex.EncodeToString(l.Bytes))
			b = l.Instr.Append(b, m)
			b = append(b, '\n')
		}
	}

	return b
}

// File renders the container headers, sections, symbols and relocations.
func (p Printer) File(b []byte, f *elfobj.File) ([]byte, error) {
	b = p.head(b, "ELF header")
	b = hfmt.Appendf(b, "  class    %v\n  data     %v\n  type     %v\n  machine  %v\n  entry    %#x\n",
		f.Class, f.Data, f.Type, f.Machine, f.Entry)

	if len(f.Progs) != 0 {
		b = p.head(b, "Program headers")
		b = hfmt.Appendf(b, "  %-8s %-10s %-10s %-10s %-10s %-4s %s\n", "type", "offset", "vaddr", "filesz", "memsz", "flg", "align")

		for _, g := range f.Progs {
			b = hfmt.Appendf(b, "  %-8s %#-10x %#-10x %#-10x %#-10x %-4s %#x\n",
				progType(g.Type), g.Off, g.Vaddr, g.Filesz, g.Memsz, progFlags(g.Flags), g.Align)
		}
	}

	b = p.head(b, "Section headers")
	b = hfmt.Appendf(b, "  %3s %-12s %-10s %-10s %-8s %-8s %-5s %s\n", "idx", "name", "type", "addr", "offset", "size", "flags", "link/info/align")

	for i, s := range f.Sections {
		b = hfmt.Appendf(b, "  %3d %-12s %-10s %#-10x %#-8x %#-8x %-5s %d/%d/%d\n",
			i+1, s.Name, sectionType(s.Type), s.Addr, s.Off, s.Size, sectionFlags(s.Flags), s.Link, s.Info, s.Align)
	}

	if s, _ := f.Section(".text"); s == nil {
		return b, nil
	}

	m, err := elfobj.Module(f, "")
	if err != nil {
		return b, errors.Wrap(err, "decode module")
	}

	if len(m.Symbols) != 0 {
		b = p.head(b, "Symbols")

		for i, s := range m.Symbols {
			b = hfmt.Appendf(b, "  %3d %-8v %-6v %-8v %#-8x %4d  %s\n", i, s.Seg, s.Bind, s.Type, s.Offset, s.Size, s.Name)
		}
	}

	for _, s := range m.Sections() {
		if len(s.Relocs) == 0 {
			continue
		}

		b = p.head(b, "Relocations of "+s.Name)

		for _, r := range s.Relocs {
			b = hfmt.Appendf(b, "  %#-8x %-6v %-16s %+d\n", r.Pos, r.Kind, r.Sym, r.Addend)
		}
	}

	return b, nil
}

// Module renders an object module without going through a container.
func (p Printer) Module(b []byte, m *obj.Module) []byte {
	b = p.head(b, "Module "+m.Name)

	for _, s := range m.Sections() {
		b = hfmt.Appendf(b, "  %-6s %-8v size %#x relocs %d\n", s.Name, s.Flags, s.Len(), len(s.Relocs))
	}

	for _, s := range m.Symbols {
		b = hfmt.Appendf(b, "  %-8v %-6v %#-8x %s\n", s.Seg, s.Bind, s.Offset, s.Name)
	}

	return b
}

func (p Printer) head(b []byte, title string) []byte {
	if p.Heading != nil {
		title = p.Heading("%s", title)
	}

	return hfmt.Appendf(b, "%s\n", title)
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"

	if d < 0 {
		d = 0
	}

	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)

	return b
}

func className(c ir.Class) string {
	switch c {
	case ir.Auto:
		return "auto"
	case ir.Static:
		return "static"
	case ir.Global:
		return "global"
	case ir.Extern:
		return "extern"
	default:
		return "class?"
	}
}

func progType(t elf.ProgType) string {
	if t == elf.PT_LOAD {
		return "LOAD"
	}

	return t.String()
}

func progFlags(f elf.ProgFlag) string {
	r := []byte("---")

	if f&elf.PF_R != 0 {
		r[0] = 'r'
	}

	if f&elf.PF_W != 0 {
		r[1] = 'w'
	}

	if f&elf.PF_X != 0 {
		r[2] = 'x'
	}

	return string(r)
}

func sectionType(t elf.SectionType) string {
	switch t {
	case elf.SHT_PROGBITS:
		return "PROGBITS"
	case elf.SHT_NOBITS:
		return "NOBITS"
	case elf.SHT_SYMTAB:
		return "SYMTAB"
	case elf.SHT_STRTAB:
		return "STRTAB"
	case elf.SHT_REL:
		return "REL"
	case elf.SHT_RELA:
		return "RELA"
	default:
		return t.String()
	}
}

func sectionFlags(f elf.SectionFlag) string {
	var r []byte

	if f&elf.SHF_WRITE != 0 {
		r = append(r, 'W')
	}

	if f&elf.SHF_ALLOC != 0 {
		r = append(r, 'A')
	}

	if f&elf.SHF_EXECINSTR != 0 {
		r = append(r, 'X')
	}

	return string(r)
}
