package main

import (
	"context"
	"os"
	"strconv"

	"github.com/fatih/color"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/xcc/compiler"
	"github.com/slowlang/xcc/compiler/back"
	"github.com/slowlang/xcc/compiler/config"
	"github.com/slowlang/xcc/compiler/elfobj"
	"github.com/slowlang/xcc/compiler/format"
	"github.com/slowlang/xcc/compiler/irfile"
)

func main() {
	buildFlags := []*cli.Flag{
		cli.NewFlag("output,o", "", "output file"),
		cli.NewFlag("word,w", 0, "word size in bytes: 4 or 8"),
		cli.NewFlag("base", "", "code load address"),
		cli.NewFlag("entry", "", "entry symbol"),
	}

	asmCmd := &cli.Command{
		Name:        "asm",
		Description: "compile IR listings into relocatable objects",
		Action:      asmAct,
		Args:        cli.Args{},
		Flags:       buildFlags,
	}

	linkCmd := &cli.Command{
		Name:        "link",
		Description: "link relocatable objects into an executable",
		Action:      linkAct,
		Args:        cli.Args{},
		Flags: append([]*cli.Flag{
			cli.NewFlag("nostart", false, "do not add the start stub"),
		}, buildFlags...),
	}

	buildCmd := &cli.Command{
		Name:        "build",
		Description: "compile IR listings and link them into an executable",
		Action:      buildAct,
		Args:        cli.Args{},
		Flags:       buildFlags,
	}

	readelfCmd := &cli.Command{
		Name:        "readelf",
		Description: "print ELF headers, sections, symbols and relocations",
		Action:      readelfAct,
		Args:        cli.Args{},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print IR listing and generated assembly",
		Action:      dumpAct,
		Args:        cli.Args{},
		Flags:       buildFlags[1:2],
	}

	app := &cli.Command{
		Name:        "xcc",
		Description: "xcc is a compiler backend: IR listings to x86 ELF objects and executables",
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.NewFlag("config", "", "TOML build config"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			asmCmd,
			linkCmd,
			buildCmd,
			readelfCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func setup(c *cli.Command) (ctx context.Context, cfg config.Config, err error) {
	tlog.SetVerbosity(c.String("verbosity"))

	ctx = context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg = config.Default()

	if name := c.String("config"); name != "" {
		cfg, err = config.Load(name)
		if err != nil {
			return ctx, cfg, err
		}
	}

	if f := c.Flag("output"); f != nil && c.String("output") != "" {
		cfg.Output = c.String("output")
	}

	if f := c.Flag("word"); f != nil && c.Int("word") != 0 {
		cfg.WordSize = c.Int("word")
	}

	if f := c.Flag("base"); f != nil && c.String("base") != "" {
		cfg.CodeBase, err = strconv.ParseUint(c.String("base"), 0, 64)
		if err != nil {
			return ctx, cfg, errors.Wrap(err, "base")
		}
	}

	if f := c.Flag("entry"); f != nil && c.String("entry") != "" {
		cfg.Entry = c.String("entry")
	}

	err = cfg.Validate()

	return ctx, cfg, err
}

func asmAct(c *cli.Command) (err error) {
	ctx, cfg, err := setup(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		out, err := compiler.AssembleFile(ctx, a, cfg)
		if err != nil {
			return errors.Wrap(err, "asm %v", a)
		}

		tlog.Printw("object written", "src", a, "obj", out)
	}

	return nil
}

func linkAct(c *cli.Command) (err error) {
	ctx, cfg, err := setup(c)
	if err != nil {
		return err
	}

	p, err := compiler.LinkFiles(ctx, c.Args, cfg, !c.Bool("nostart"))
	if err != nil {
		return errors.Wrap(err, "link")
	}

	tlog.Printw("executable written", "output", cfg.Output, "entry", tlog.FormatNext("%#x"), p.Entry)

	return nil
}

func buildAct(c *cli.Command) (err error) {
	ctx, cfg, err := setup(c)
	if err != nil {
		return err
	}

	p, err := compiler.Build(ctx, c.Args, cfg)
	if err != nil {
		return errors.Wrap(err, "build")
	}

	tlog.Printw("executable written", "output", cfg.Output, "entry", tlog.FormatNext("%#x"), p.Entry)

	return nil
}

func readelfAct(c *cli.Command) (err error) {
	_, _, err = setup(c)
	if err != nil {
		return err
	}

	p := format.Printer{
		Heading: color.New(color.FgCyan, color.Bold).SprintfFunc(),
	}

	var b []byte

	for i, a := range c.Args {
		f, err := elfobj.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		if i != 0 {
			b = append(b, '\n')
		}

		b = append(b, color.New(color.Bold).Sprintf("%s:", a)...)
		b = append(b, '\n')

		b, err = p.File(b, f)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}
	}

	_, err = os.Stdout.Write(b)

	return err
}

func dumpAct(c *cli.Command) (err error) {
	ctx, cfg, err := setup(c)
	if err != nil {
		return err
	}

	var b []byte

	for _, a := range c.Args {
		l, err := irfile.ReadFile(ctx, a)
		if err != nil {
			return err
		}

		bc := back.New(cfg.Mode())
		bc.Capture = true

		m, err := bc.CompileModule(ctx, compiler.ModuleName(a), l)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		b = append(b, color.New(color.Bold).Sprintf("%s: IR", a)...)
		b = append(b, '\n')
		b = format.Listing(b, l)

		b = append(b, color.New(color.Bold).Sprintf("%s: assembly", a)...)
		b = append(b, '\n')
		b = format.Asm(b, bc.Lines, bc.Mode)

		b = format.Printer{Heading: color.New(color.Bold).SprintfFunc()}.Module(b, m)
	}

	_, err = os.Stdout.Write(b)

	return err
}
