package compiler

import (
	"context"
	"debug/elf"
	"path/filepath"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/xcc/compiler/back"
	"github.com/slowlang/xcc/compiler/config"
	"github.com/slowlang/xcc/compiler/elfobj"
	"github.com/slowlang/xcc/compiler/irfile"
	"github.com/slowlang/xcc/compiler/link"
	"github.com/slowlang/xcc/compiler/obj"
)

// Assemble compiles an IR listing file into an object module.
func Assemble(ctx context.Context, c *back.Compiler, name string) (m *obj.Module, err error) {
	l, err := irfile.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}

	if tlog.SpanFromContext(ctx).If("dump_listing") {
		tlog.SpanFromContext(ctx).Printw("listing", "name", name, "entries", len(l))
	}

	m, err = c.CompileModule(ctx, ModuleName(name), l)
	if err != nil {
		return nil, errors.Wrap(err, "compile %v", name)
	}

	return m, nil
}

// AssembleFile compiles a listing and writes it as a relocatable object next to it.
// It returns the object file name.
func AssembleFile(ctx context.Context, name string, cfg config.Config) (out string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "assemble file", "name", name, "word", cfg.WordSize)
	defer tr.Finish("err", &err)

	m, err := Assemble(ctx, back.New(cfg.Mode()), name)
	if err != nil {
		return "", err
	}

	f, err := elfobj.Object(m)
	if err != nil {
		return "", errors.Wrap(err, "object %v", m.Name)
	}

	out = ObjectName(name)

	err = elfobj.WriteFile(ctx, out, f, elfobj.Options{}, 0o644)
	if err != nil {
		return "", err
	}

	return out, nil
}

// LoadObject reads a relocatable object file back into a module.
func LoadObject(ctx context.Context, name string) (m *obj.Module, err error) {
	f, err := elfobj.ReadFile(name)
	if err != nil {
		return nil, err
	}

	if f.Type != elf.ET_REL {
		return nil, errors.New("%v: not a relocatable object: %v", name, f.Type)
	}

	m, err = elfobj.Module(f, ModuleName(name))
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	tlog.SpanFromContext(ctx).Printw("object loaded", "name", name, "symbols", len(m.Symbols), "text", m.Text.Len())

	return m, nil
}

// LinkModules links modules into an executable written to cfg.Output.
// The start stub is put first unless start is false.
func LinkModules(ctx context.Context, mods []*obj.Module, cfg config.Config, start bool) (p *link.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "link modules", "modules", len(mods), "output", cfg.Output, "start", start)
	defer tr.Finish("err", &err)

	if start {
		s, err := back.New(cfg.Mode()).StartModule(ctx, cfg.Entry, "main")
		if err != nil {
			return nil, errors.Wrap(err, "start module")
		}

		mods = append([]*obj.Module{s}, mods...)
	}

	p, err = link.Link(ctx, mods, cfg.Link())
	if err != nil {
		return nil, err
	}

	err = link.WriteExecutable(ctx, cfg.Output, p)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// LinkFiles links relocatable object files.
func LinkFiles(ctx context.Context, names []string, cfg config.Config, start bool) (p *link.Program, err error) {
	mods := make([]*obj.Module, 0, len(names))

	for _, name := range names {
		m, err := LoadObject(ctx, name)
		if err != nil {
			return nil, err
		}

		mods = append(mods, m)
	}

	return LinkModules(ctx, mods, cfg, start)
}

// Build compiles listings and links them with the start stub.
func Build(ctx context.Context, names []string, cfg config.Config) (p *link.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "build", "files", len(names))
	defer tr.Finish("err", &err)

	c := back.New(cfg.Mode())

	mods := make([]*obj.Module, 0, len(names))

	for _, name := range names {
		m, err := Assemble(ctx, c, name)
		if err != nil {
			return nil, err
		}

		mods = append(mods, m)
	}

	return LinkModules(ctx, mods, cfg, true)
}

// ModuleName is the file base name without extension.
func ModuleName(name string) string {
	base := filepath.Base(name)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ObjectName replaces the listing extension with .o.
func ObjectName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".o"
}
