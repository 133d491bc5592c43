package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/elfobj"
)

func write(t *testing.T, text string) string {
	t.Helper()

	name := filepath.Join(t.TempDir(), "xcc.toml")

	err := os.WriteFile(name, []byte(text), 0o644)
	require.NoError(t, err)

	return name
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.NoError(t, c.Validate())
	assert.Equal(t, asm.Mode64, c.Mode())
	assert.Equal(t, uint64(0x400000), c.Link().CodeBase)
	assert.Equal(t, "_start", c.Link().Entry)
	assert.Equal(t, "a.out", c.Output)
}

func TestLoad(t *testing.T) {
	c, err := Load(write(t, "word_size = 4\ncode_base = 0x8048000\n"))
	require.NoError(t, err)

	assert.Equal(t, Config{WordSize: 4, CodeBase: 0x8048000, Entry: "_start", Output: "a.out"}, c)
	assert.Equal(t, asm.Mode32, c.Link().Mode)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(write(t, "word_size = 2\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "code_base = 0x400010\n"))
	assert.True(t, errors.Is(err, elfobj.ErrMisaligned), "%v", err)

	_, err = Load(write(t, "entry = \"\"\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "base = 1\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "word_size = \n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
