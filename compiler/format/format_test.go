package format

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/back"
	"github.com/slowlang/xcc/compiler/elfobj"
	"github.com/slowlang/xcc/compiler/ir"
)

var listing = ir.Listing{
	ir.Data{Name: "x", Size: 4, Init: []byte{1, 2, 3, 4}, Class: ir.Global},
	ir.Func{Name: "add", Args: []ir.Param{{Name: "a", Size: 8}, {Name: "b", Size: 8}}, RetSize: 8},
	ir.Comment{Text: "difference"},
	ir.Code{Dest: ir.Temp(1), Op1: ir.Sym("a"), Op: ir.Sub, Op2: ir.Sym("b")},
	ir.Code{Dest: ir.Temp(2), Op1: ir.Temp(1), Op: ir.Neg},
	ir.Label{Name: "done"},
	ir.Return{Value: ir.Temp(2)},
}

func TestListing(t *testing.T) {
	b := Listing(nil, listing)

	assert.Equal(t, `global x [4] = 01020304
func add(a:8, b:8) 8
	// difference
	%1 = a - b
	%2 = neg %1
done:
	return %2
`, string(b))
}

func TestAsm(t *testing.T) {
	c := back.New(asm.Mode64)
	c.Capture = true

	_, err := c.CompileModule(context.Background(), "m", listing)
	require.NoError(t, err)

	b := Asm(nil, c.Lines, c.Mode)
	s := string(b)

	assert.Contains(t, s, "add:\n")
	assert.Contains(t, s, "add.exit:\n")
	assert.Contains(t, s, "55  ")
	assert.Contains(t, s, "ret\n")
}

func TestFile(t *testing.T) {
	c := back.New(asm.Mode64)

	m, err := c.CompileModule(context.Background(), "m", append(ir.Listing{
		ir.Data{Name: "ext", Class: ir.Extern},
	}, append(listing[:len(listing)-1:len(listing)-1],
		ir.Code{Dest: ir.Temp(3), Op1: ir.Temp(2), Op: ir.Add, Op2: ir.Sym("ext")},
		ir.Return{Value: ir.Temp(3)},
	)...))
	require.NoError(t, err)

	f, err := elfobj.Object(m)
	require.NoError(t, err)

	var heads []string

	p := Printer{Heading: func(format string, args ...any) string {
		heads = append(heads, args[0].(string))
		return "== " + args[0].(string)
	}}

	b, err := p.File(nil, f)
	require.NoError(t, err)

	s := string(b)

	assert.Equal(t, []string{"ELF header", "Section headers", "Symbols", "Relocations of .text"}, heads)
	assert.Contains(t, s, "== ELF header\n")
	assert.Contains(t, s, "ELFCLASS64")
	assert.Contains(t, s, "ET_REL")

	for _, name := range []string{".text", ".data", ".bss", ".rela.text", ".symtab", ".strtab"} {
		assert.Contains(t, s, " "+name+" ", "section %v", name)
	}

	assert.True(t, strings.Contains(s, " ext "), "relocation against undefined symbol")
	assert.Contains(t, s, "abs32")
}

func TestModule(t *testing.T) {
	c := back.New(asm.Mode64)

	m, err := c.CompileModule(context.Background(), "m", listing)
	require.NoError(t, err)

	s := string(Printer{}.Module(nil, m))

	assert.True(t, strings.HasPrefix(s, "Module m\n"))
	assert.Contains(t, s, " add\n")
	assert.Contains(t, s, " x\n")
}
