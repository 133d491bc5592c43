package link

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/elfobj"
	"github.com/slowlang/xcc/compiler/obj"
)

type (
	Config struct {
		Mode     asm.Mode
		CodeBase uint64
		Entry    string
	}

	// Program is the result of linking: merged sections with final addresses.
	// Symbol offsets are relative to the merged sections.
	Program struct {
		Mode  asm.Mode
		Entry uint64

		Text *obj.Section
		Data *obj.Section
		Bss  *obj.Section

		Symbols obj.Symbols
		Bases   obj.Bases
	}

	linker struct {
		Config

		mods []*obj.Module

		// per module symbols rebased to merged sections
		syms    []obj.Symbols
		globals map[string]global

		out *obj.Module
	}

	global struct {
		obj.Symbol

		mod string
	}
)

const (
	DefaultCodeBase = 0x400000
	DefaultEntry    = "_start"
)

var (
	ErrDuplicate = errors.New("duplicate global symbol")
	ErrNoEntry   = errors.New("no entry symbol")
)

// Link merges modules into a program.
//
// Sections of the same kind are concatenated in module order,
// data is placed at the page following code and bss at the page following data.
// Relocations resolve to the module's own local symbols first, then to globals.
func Link(ctx context.Context, mods []*obj.Module, cfg Config) (p *Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "link", "modules", len(mods), "base", tlog.FormatNext("%#x"), cfg.CodeBase, "entry", cfg.Entry)
	defer tr.Finish("err", &err)

	if len(mods) == 0 {
		return nil, errors.New("no modules")
	}

	if cfg.Mode == 0 {
		cfg.Mode = mods[0].Mode
	}

	if cfg.Entry == "" {
		cfg.Entry = DefaultEntry
	}

	if cfg.CodeBase%elfobj.PageSize != 0 {
		return nil, errors.Wrap(elfobj.ErrMisaligned, "code base %#x", cfg.CodeBase)
	}

	for _, m := range mods {
		if m.Mode != cfg.Mode {
			return nil, errors.New("module %v: mode %d, want %d", m.Name, m.Mode, cfg.Mode)
		}
	}

	l := &linker{
		Config:  cfg,
		mods:    mods,
		globals: map[string]global{},
		out:     obj.NewModule("a.out", cfg.Mode),
	}

	err = l.merge(ctx)
	if err != nil {
		return nil, err
	}

	bases := l.layout()

	err = l.backfill(ctx, bases)
	if err != nil {
		return nil, err
	}

	ent, ok := l.globals[cfg.Entry]
	if !ok || ent.Seg != obj.Code {
		return nil, errors.Wrap(ErrNoEntry, "%v", cfg.Entry)
	}

	p = &Program{
		Mode:    cfg.Mode,
		Entry:   bases.Addr(ent.Symbol),
		Text:    l.out.Text,
		Data:    l.out.Data,
		Bss:     l.out.Bss,
		Symbols: l.out.Symbols,
		Bases:   bases,
	}

	tr.Printw("linked", "text", len(p.Text.Data), "data", len(p.Data.Data), "bss", p.Bss.Size, "entry", tlog.FormatNext("%#x"), p.Entry)

	return p, nil
}

// merge concatenates sections and rebases symbols and relocations.
func (l *linker) merge(ctx context.Context) error {
	w := int64(l.Mode.Word())

	for _, m := range l.mods {
		var off [obj.Absolute + 1]int64

		for _, s := range m.Sections() {
			dst := l.out.Section(s.Seg)

			if s.Seg != obj.Code {
				l.pad(dst, w)
			}

			off[s.Seg] = dst.Len()

			for _, r := range s.Relocs {
				r.Pos += off[s.Seg]
				dst.Relocs.Add(r)
			}

			if s.Seg == obj.Bss {
				dst.Size += s.Size
			} else {
				dst.Data = append(dst.Data, s.Data...)
			}
		}

		var syms obj.Symbols

		for _, s := range m.Symbols {
			if s.Seg == obj.Undef {
				continue
			}

			s.Offset += off[s.Seg]
			syms.Add(s)
			l.out.Symbols.Add(s)

			if s.Bind != obj.Global {
				continue
			}

			if g, ok := l.globals[s.Name]; ok {
				return errors.Wrap(ErrDuplicate, "%v: defined in %v and %v", s.Name, g.mod, m.Name)
			}

			l.globals[s.Name] = global{Symbol: s, mod: m.Name}
		}

		l.syms = append(l.syms, syms)

		if tlog.SpanFromContext(ctx).If("link_merge") {
			tlog.SpanFromContext(ctx).Printw("module merged", "name", m.Name, "text", off[obj.Code], "data", off[obj.Data], "bss", off[obj.Bss], "symbols", len(syms))
		}
	}

	return nil
}

func (l *linker) pad(s *obj.Section, a int64) {
	if s.Seg == obj.Bss {
		s.Size = alignUp(s.Size, a)
		return
	}

	for int64(len(s.Data))%a != 0 {
		s.Data = append(s.Data, 0)
	}
}

func (l *linker) layout() (b obj.Bases) {
	b.Code = l.CodeBase
	b.Data = roundUp(b.Code+uint64(l.out.Text.Len()), elfobj.PageSize)
	b.Bss = roundUp(b.Data+uint64(l.out.Data.Len()), elfobj.PageSize)

	l.out.Text.Addr = b.Code
	l.out.Data.Addr = b.Data
	l.out.Bss.Addr = b.Bss

	return b
}

// backfill resolves relocations of every module against its own locals and the globals.
func (l *linker) backfill(ctx context.Context, bases obj.Bases) error {
	tr := tlog.SpanFromContext(ctx)

	resolve := func(syms obj.Symbols) obj.ResolveFunc {
		return func(name string) (uint64, bool) {
			if s, ok := syms.Lookup(name); ok && s.Bind == obj.Local {
				return bases.Addr(s), true
			}

			if g, ok := l.globals[name]; ok {
				return bases.Addr(g.Symbol), true
			}

			return 0, false
		}
	}

	for _, sec := range []*obj.Section{l.out.Text, l.out.Data} {
		at := bases.Addr(obj.Symbol{Seg: sec.Seg})

		// relocations were merged in module order, so module i owns a contiguous run
		i := 0
		end := l.relocEnd(sec.Seg, 0)

		for j, r := range sec.Relocs {
			for j >= end {
				i++
				end = l.relocEnd(sec.Seg, i)
			}

			err := r.Apply(sec.Data, at, resolve(l.syms[i]))
			if err != nil {
				return errors.Wrap(err, "module %v", l.mods[i].Name)
			}

			if tr.If("link_reloc") {
				tr.Printw("reloc", "module", l.mods[i].Name, "reloc", r, "section", sec.Name)
			}
		}

		sec.Relocs = nil
	}

	return nil
}

// relocEnd returns the index after the last merged relocation of module i in seg.
func (l *linker) relocEnd(seg obj.Seg, i int) int {
	n := 0

	for _, m := range l.mods[:i+1] {
		n += len(m.Section(seg).Relocs)
	}

	return n
}

// Image returns the program in the form the executable writer takes.
func (p *Program) Image() elfobj.Image {
	return elfobj.Image{
		Mode:     p.Mode,
		Entry:    p.Entry,
		Sections: []*obj.Section{p.Text, p.Data, p.Bss},
		Symbols:  p.Symbols,
		Bases:    p.Bases,
	}
}

// WriteExecutable writes the program as a loadable executable.
func WriteExecutable(ctx context.Context, name string, p *Program) (err error) {
	f, err := elfobj.Executable(p.Image())
	if err != nil {
		return errors.Wrap(err, "build executable")
	}

	return elfobj.WriteFile(ctx, name, f, elfobj.Options{PageAlign: true}, 0o755)
}

func alignUp(x, a int64) int64 {
	return (x + a - 1) / a * a
}

func roundUp(x, a uint64) uint64 {
	return (x + a - 1) / a * a
}
