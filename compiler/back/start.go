package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/asm/x86"
	"github.com/slowlang/xcc/compiler/obj"
)

// StartModule builds a module with the entry function
// which calls main and exits the process with its result.
func (c *Compiler) StartModule(ctx context.Context, entry, main string) (m *obj.Module, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "back: start module", "entry", entry, "main", main)
	defer tr.Finish("err", &err)

	m = obj.NewModule("start", c.Mode)
	e := x86.New(c.Mode)

	var code []asm.Instr

	code = append(code,
		asm.Instr{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Addr(main)},
		asm.Instr{Op: asm.CALL, Dst: asm.R(asm.AX)},
	)

	switch c.Mode {
	case asm.Mode32:
		code = append(code,
			asm.Instr{Op: asm.MOV, Dst: asm.R(asm.BX), Src: asm.R(asm.AX)},
			asm.Instr{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Imm(1)}, // exit
			asm.Instr{Op: asm.INT, Dst: asm.Imm(0x80)},
		)
	case asm.Mode64:
		code = append(code,
			asm.Instr{Op: asm.MOV, Dst: asm.R(asm.DI), Src: asm.R(asm.AX)},
			asm.Instr{Op: asm.MOV, Size: 4, Dst: asm.R(asm.AX), Src: asm.Imm(60)}, // exit
			asm.Instr{Op: asm.SYSCALL},
		)
	default:
		return nil, errors.New("bad mode: %d", c.Mode)
	}

	if c.Capture {
		c.Lines = append(c.Lines, Line{Func: entry, Label: entry})
	}

	for _, x := range code {
		off := int64(len(m.Text.Data))

		err = e.Encode(m.Text, x)
		if err != nil {
			return nil, err
		}

		if c.Capture {
			c.Lines = append(c.Lines, Line{Func: entry, Off: off, Bytes: append([]byte{}, m.Text.Data[off:]...), Instr: x})
		}
	}

	m.Symbols.Add(obj.Symbol{
		Name: entry,
		Seg:  obj.Code,
		Size: int64(len(m.Text.Data)),
		Bind: obj.Global,
		Type: obj.Function,
	})

	return m, nil
}
