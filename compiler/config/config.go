package config

import (
	"github.com/BurntSushi/toml"
	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/elfobj"
	"github.com/slowlang/xcc/compiler/link"
)

type (
	// Config is the build configuration.
	//
	//	word_size = 8
	//	code_base = 0x400000
	//	entry = "_start"
	//	output = "a.out"
	Config struct {
		WordSize int    `toml:"word_size"`
		CodeBase uint64 `toml:"code_base"`
		Entry    string `toml:"entry"`
		Output   string `toml:"output"`
	}
)

func Default() Config {
	return Config{
		WordSize: 8,
		CodeBase: link.DefaultCodeBase,
		Entry:    link.DefaultEntry,
		Output:   "a.out",
	}
}

// Load reads a TOML file over the defaults.
// Keys the file does not define keep their default values.
func Load(name string) (c Config, err error) {
	c = Default()

	meta, err := toml.DecodeFile(name, &c)
	if err != nil {
		return c, errors.Wrap(err, "decode %v", name)
	}

	if u := meta.Undecoded(); len(u) != 0 {
		return c, errors.New("%v: unknown keys: %v", name, u)
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.WordSize != 4 && c.WordSize != 8 {
		return errors.New("word size: want 4 or 8, got %d", c.WordSize)
	}

	if c.CodeBase%elfobj.PageSize != 0 {
		return errors.Wrap(elfobj.ErrMisaligned, "code base %#x", c.CodeBase)
	}

	if c.Entry == "" {
		return errors.New("empty entry symbol")
	}

	if c.Output == "" {
		return errors.New("empty output name")
	}

	return nil
}

func (c Config) Mode() asm.Mode {
	return asm.Mode(c.WordSize * 8)
}

func (c Config) Link() link.Config {
	return link.Config{
		Mode:     c.Mode(),
		CodeBase: c.CodeBase,
		Entry:    c.Entry,
	}
}
