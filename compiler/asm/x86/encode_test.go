package x86

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/obj"
)

type I = asm.Instr

func TestEncodeBytes(t *testing.T) {
	for _, tc := range []struct {
		m    asm.Mode
		x    I
		want string
	}{
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.R(asm.BX)}, "4889d8"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.BP), Src: asm.R(asm.SP)}, "4889e5"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, -8)}, "488b45f8"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.Mem(asm.BP, -8), Src: asm.R(asm.AX)}, "488945f8"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BX, 0)}, "488b03"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, 0)}, "488b4500"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.R13, 0)}, "498b4500"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.R8), Src: asm.Mem(asm.BX, 0x200)}, "4c8b8300020000"},
		{asm.Mode64, I{Op: asm.MOV, Size: 4, Dst: asm.R(asm.AX), Src: asm.Imm(7)}, "b807000000"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Imm(7)}, "48c7c007000000"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Imm(1 << 32)}, "48b80000000001000000"},
		{asm.Mode64, I{Op: asm.MOV, Size: 1, Dst: asm.R(asm.SI), Src: asm.R(asm.AX)}, "4088c6"},
		{asm.Mode64, I{Op: asm.MOV, Size: 1, Dst: asm.Mem(asm.BX, 0), Src: asm.R(asm.SI)}, "408833"},
		{asm.Mode64, I{Op: asm.MOV, Size: 2, Dst: asm.R(asm.CX), Src: asm.R(asm.DX)}, "6689d1"},
		{asm.Mode64, I{Op: asm.ADD, Dst: asm.R(asm.AX), Src: asm.Imm(1)}, "4883c001"},
		{asm.Mode64, I{Op: asm.ADD, Dst: asm.R(asm.AX), Src: asm.Imm(1000)}, "4881c0e8030000"},
		{asm.Mode64, I{Op: asm.SUB, Dst: asm.R(asm.SP), Src: asm.Imm(16)}, "4883ec10"},
		{asm.Mode64, I{Op: asm.CMP, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, -16)}, "483b45f0"},
		{asm.Mode64, I{Op: asm.XOR, Size: 4, Dst: asm.R(asm.AX), Src: asm.R(asm.AX)}, "31c0"},
		{asm.Mode64, I{Op: asm.PUSH, Dst: asm.R(asm.BP)}, "55"},
		{asm.Mode64, I{Op: asm.PUSH, Dst: asm.R(asm.R12)}, "4154"},
		{asm.Mode64, I{Op: asm.PUSH, Dst: asm.Imm(3)}, "6a03"},
		{asm.Mode64, I{Op: asm.POP, Dst: asm.R(asm.BP)}, "5d"},
		{asm.Mode64, I{Op: asm.RET}, "c3"},
		{asm.Mode64, I{Op: asm.LEAVE}, "c9"},
		{asm.Mode64, I{Op: asm.CONV}, "4899"},
		{asm.Mode64, I{Op: asm.SYSCALL}, "0f05"},
		{asm.Mode64, I{Op: asm.SETCC, Cond: asm.CondE, Dst: asm.R(asm.AX)}, "0f94c0"},
		{asm.Mode64, I{Op: asm.MOVZX, Size: 1, Dst: asm.R(asm.AX), Src: asm.R(asm.AX)}, "0fb6c0"},
		{asm.Mode64, I{Op: asm.IDIV, Dst: asm.Mem(asm.BP, -16)}, "48f77df0"},
		{asm.Mode64, I{Op: asm.IMUL, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}, "480fafc1"},
		{asm.Mode64, I{Op: asm.SHL, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}, "48d3e0"},
		{asm.Mode64, I{Op: asm.SHL, Dst: asm.R(asm.AX), Src: asm.Imm(3)}, "48c1e003"},
		{asm.Mode64, I{Op: asm.LEA, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, -8)}, "488d45f8"},
		{asm.Mode64, I{Op: asm.CALL, Dst: asm.R(asm.AX)}, "ffd0"},
		{asm.Mode64, I{Op: asm.CALL, Dst: asm.Rel("f")}, "e8fcffffff"},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Sym("x")}, "488b042500000000"},
		{asm.Mode32, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, 8)}, "8b4508"},
		{asm.Mode32, I{Op: asm.MOV, Dst: asm.R(asm.BP), Src: asm.R(asm.SP)}, "89e5"},
		{asm.Mode32, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Sym("x")}, "8b0500000000"},
		{asm.Mode32, I{Op: asm.MOV, Dst: asm.R(asm.BX), Src: asm.Addr("x")}, "bb00000000"},
		{asm.Mode32, I{Op: asm.PUSH, Dst: asm.R(asm.BP)}, "55"},
		{asm.Mode32, I{Op: asm.CONV}, "99"},
		{asm.Mode32, I{Op: asm.INT, Dst: asm.Imm(0x80)}, "cd80"},
		{asm.Mode32, I{Op: asm.JCC, Cond: asm.CondNE, Dst: asm.Rel("l")}, "0f85fcffffff"},
	} {
		b, _, err := New(tc.m).Append(nil, tc.x)
		if !assert.NoError(t, err, "%v", tc.x) {
			continue
		}

		assert.Equal(t, tc.want, hex.EncodeToString(b), "%d: %s", tc.m, tc.x.Append(nil, tc.m))
	}
}

func TestEncodeDecode(t *testing.T) {
	mem := func(base x86asm.Reg, disp int64) x86asm.Mem { return x86asm.Mem{Base: base, Disp: disp} }

	for _, tc := range []struct {
		x    I
		op   x86asm.Op
		args []x86asm.Arg
	}{
		{I{Op: asm.MOV, Dst: asm.R(asm.R9), Src: asm.R(asm.R15)}, x86asm.MOV, []x86asm.Arg{x86asm.R9, x86asm.R15}},
		{I{Op: asm.MOV, Dst: asm.R(asm.DX), Src: asm.Mem(asm.BP, -1000)}, x86asm.MOV, []x86asm.Arg{x86asm.RDX, mem(x86asm.RBP, -1000)}},
		{I{Op: asm.MOV, Dst: asm.Mem(asm.R14, 24), Src: asm.R(asm.R10)}, x86asm.MOV, []x86asm.Arg{mem(x86asm.R14, 24), x86asm.R10}},
		{I{Op: asm.MOV, Dst: asm.Mem(asm.BP, -8), Src: asm.Imm(-5)}, x86asm.MOV, []x86asm.Arg{mem(x86asm.RBP, -8), x86asm.Imm(-5)}},
		{I{Op: asm.ADD, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}, x86asm.ADD, []x86asm.Arg{x86asm.RAX, x86asm.RCX}},
		{I{Op: asm.SUB, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, 16)}, x86asm.SUB, []x86asm.Arg{x86asm.RAX, mem(x86asm.RBP, 16)}},
		{I{Op: asm.AND, Dst: asm.R(asm.BX), Src: asm.Imm(0xff)}, x86asm.AND, []x86asm.Arg{x86asm.RBX, x86asm.Imm(0xff)}},
		{I{Op: asm.OR, Dst: asm.R(asm.SI), Src: asm.Imm(2)}, x86asm.OR, []x86asm.Arg{x86asm.RSI, x86asm.Imm(2)}},
		{I{Op: asm.XOR, Dst: asm.Mem(asm.DI, 0), Src: asm.R(asm.R8)}, x86asm.XOR, []x86asm.Arg{mem(x86asm.RDI, 0), x86asm.R8}},
		{I{Op: asm.CMP, Dst: asm.R(asm.AX), Src: asm.Imm(100000)}, x86asm.CMP, []x86asm.Arg{x86asm.RAX, x86asm.Imm(100000)}},
		{I{Op: asm.TEST, Dst: asm.R(asm.AX), Src: asm.R(asm.AX)}, x86asm.TEST, []x86asm.Arg{x86asm.RAX, x86asm.RAX}},
		{I{Op: asm.IMUL, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, -24)}, x86asm.IMUL, []x86asm.Arg{x86asm.RAX, mem(x86asm.RBP, -24)}},
		{I{Op: asm.IMUL, Dst: asm.R(asm.CX), Src: asm.Imm(10)}, x86asm.IMUL, []x86asm.Arg{x86asm.RCX, x86asm.RCX, x86asm.Imm(10)}},
		{I{Op: asm.IDIV, Dst: asm.R(asm.BX)}, x86asm.IDIV, []x86asm.Arg{x86asm.RBX}},
		{I{Op: asm.NEG, Dst: asm.R(asm.AX)}, x86asm.NEG, []x86asm.Arg{x86asm.RAX}},
		{I{Op: asm.NOT, Dst: asm.R(asm.R11)}, x86asm.NOT, []x86asm.Arg{x86asm.R11}},
		{I{Op: asm.SAR, Dst: asm.R(asm.AX), Src: asm.Imm(2)}, x86asm.SAR, []x86asm.Arg{x86asm.RAX, x86asm.Imm(2)}},
		{I{Op: asm.SHR, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}, x86asm.SHR, []x86asm.Arg{x86asm.RAX, x86asm.CL}},
		{I{Op: asm.SETCC, Cond: asm.CondL, Dst: asm.R(asm.AX)}, x86asm.SETL, []x86asm.Arg{x86asm.AL}},
		{I{Op: asm.SETCC, Cond: asm.CondGE, Dst: asm.R(asm.AX)}, x86asm.SETGE, []x86asm.Arg{x86asm.AL}},
		{I{Op: asm.MOVZX, Size: 1, Dst: asm.R(asm.AX), Src: asm.R(asm.AX)}, x86asm.MOVZX, []x86asm.Arg{x86asm.EAX, x86asm.AL}},
		{I{Op: asm.MOVSX, Size: 2, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BX, 0)}, x86asm.MOVSX, []x86asm.Arg{x86asm.RAX, mem(x86asm.RBX, 0)}},
		{I{Op: asm.MOVSXD, Size: 4, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}, x86asm.MOVSXD, []x86asm.Arg{x86asm.RAX, x86asm.ECX}},
		{I{Op: asm.LEA, Dst: asm.R(asm.R12), Src: asm.Mem(asm.BP, -40)}, x86asm.LEA, []x86asm.Arg{x86asm.R12, mem(x86asm.RBP, -40)}},
		{I{Op: asm.PUSH, Dst: asm.Imm(1 << 20)}, x86asm.PUSH, []x86asm.Arg{x86asm.Imm(1 << 20)}},
		{I{Op: asm.PUSH, Dst: asm.Mem(asm.BP, 16)}, x86asm.PUSH, []x86asm.Arg{mem(x86asm.RBP, 16)}},
		{I{Op: asm.POP, Dst: asm.R(asm.R15)}, x86asm.POP, []x86asm.Arg{x86asm.R15}},
		{I{Op: asm.JMP, Dst: asm.Rel("l")}, x86asm.JMP, []x86asm.Arg{x86asm.Rel(-4)}},
		{I{Op: asm.JCC, Cond: asm.CondLE, Dst: asm.Rel("l")}, x86asm.JLE, []x86asm.Arg{x86asm.Rel(-4)}},
		{I{Op: asm.CALL, Dst: asm.R(asm.AX)}, x86asm.CALL, []x86asm.Arg{x86asm.RAX}},
		{I{Op: asm.CONV}, x86asm.CQO, nil},
		{I{Op: asm.CONV, Size: 4}, x86asm.CDQ, nil},
		{I{Op: asm.RET}, x86asm.RET, nil},
		{I{Op: asm.LEAVE}, x86asm.LEAVE, nil},
		{I{Op: asm.NOP}, x86asm.NOP, nil},
	} {
		b, _, err := New(asm.Mode64).Append(nil, tc.x)
		require.NoError(t, err, "%v", tc.x)

		inst, err := x86asm.Decode(b, 64)
		require.NoError(t, err, "%v: % x", tc.x, b)

		assert.Equal(t, len(b), inst.Len, "%v: % x", tc.x, b)
		assert.Equal(t, tc.op, inst.Op, "%v: % x", tc.x, b)

		for i, want := range tc.args {
			assertArg(t, want, inst.Args[i], "%v arg %d: % x", tc.x, i, b)
		}
	}
}

func TestEncodeDecode32(t *testing.T) {
	for _, tc := range []struct {
		x    I
		op   x86asm.Op
		args []x86asm.Arg
	}{
		{I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, 12)}, x86asm.MOV, []x86asm.Arg{x86asm.EAX, x86asm.Mem{Base: x86asm.EBP, Disp: 12}}},
		{I{Op: asm.ADD, Dst: asm.R(asm.SP), Src: asm.Imm(8)}, x86asm.ADD, []x86asm.Arg{x86asm.ESP, x86asm.Imm(8)}},
		{I{Op: asm.PUSH, Dst: asm.R(asm.DI)}, x86asm.PUSH, []x86asm.Arg{x86asm.EDI}},
		{I{Op: asm.INT, Dst: asm.Imm(0x80)}, x86asm.INT, nil},
		{I{Op: asm.CONV}, x86asm.CDQ, nil},
	} {
		b, _, err := New(asm.Mode32).Append(nil, tc.x)
		require.NoError(t, err, "%v", tc.x)

		inst, err := x86asm.Decode(b, 32)
		require.NoError(t, err, "%v: % x", tc.x, b)

		assert.Equal(t, len(b), inst.Len)
		assert.Equal(t, tc.op, inst.Op, "% x", b)

		for i, want := range tc.args {
			assertArg(t, want, inst.Args[i], "%v arg %d: % x", tc.x, i, b)
		}
	}
}

func assertArg(t *testing.T, want, got x86asm.Arg, msg string, args ...interface{}) {
	t.Helper()

	margs := append([]interface{}{msg}, args...)

	if wm, ok := want.(x86asm.Mem); ok {
		gm, ok := got.(x86asm.Mem)
		if !assert.True(t, ok, margs...) {
			return
		}

		// the decoder keeps disp32 zero-extended
		assert.Equal(t, wm.Base, gm.Base, margs...)
		assert.Equal(t, int32(wm.Disp), int32(gm.Disp), margs...)

		return
	}

	assert.Equal(t, want, got, margs...)
}

func TestDisplacementWidth(t *testing.T) {
	bases := []asm.Reg{asm.AX, asm.BX, asm.BP, asm.SI, asm.R9, asm.R13}
	disps := []int32{0, 1, -1, 127, -128, 128, -129, 1 << 20, -(1 << 20)}

	for _, base := range bases {
		for _, d := range disps {
			x := I{Op: asm.MOV, Dst: asm.R(asm.CX), Src: asm.Mem(base, d)}

			b, _, err := New(asm.Mode64).Append(nil, x)
			require.NoError(t, err)

			var want int

			switch {
			case d == 0 && base&7 != 5:
				want = 0
			case d >= -128 && d <= 127:
				want = 1
			default:
				want = 4
			}

			assert.Len(t, b, 3+want, "%v", x) // rex + opcode + modrm
		}
	}
}

// TestModRMRederive decodes ModR/M, SIB and displacement bytes back
// into the instruction operands.
func TestModRMRederive(t *testing.T) {
	regs := []asm.Reg{asm.AX, asm.CX, asm.DX, asm.BX, asm.SI, asm.DI, asm.R8, asm.R11, asm.R15}
	bases := []asm.Reg{asm.AX, asm.BX, asm.BP, asm.DI, asm.R8, asm.R13, asm.R15}
	disps := []int32{0, 8, -8, 127, -128, 4096, -70000}

	for _, m := range []asm.Mode{asm.Mode32, asm.Mode64} {
		for _, load := range []bool{false, true} {
			for _, r := range regs {
				for _, base := range bases {
					for _, d := range disps {
						if int(r) >= m.Regs() || int(base) >= m.Regs() {
							continue
						}

						x := I{Op: asm.MOV, Dst: asm.Mem(base, d), Src: asm.R(r)}
						if load {
							x.Dst, x.Src = x.Src, x.Dst
						}

						b, _, err := New(m).Append(nil, x)
						require.NoError(t, err, "%v", x)

						got, err := rederive(m, b)
						require.NoError(t, err, "%v: % x", x, b)

						assert.Equal(t, x, got, "% x", b)
					}
				}
			}
		}
	}

	for _, m := range []asm.Mode{asm.Mode32, asm.Mode64} {
		x := I{Op: asm.MOV, Dst: asm.R(asm.DX), Src: asm.Sym("glob")}

		b, _, err := New(m).Append(nil, x)
		require.NoError(t, err)

		got, err := rederive(m, b)
		require.NoError(t, err, "% x", b)

		assert.Equal(t, I{Op: asm.MOV, Dst: asm.R(asm.DX), Src: asm.Sym("?")}, got)
	}
}

// rederive decodes 89 /r and 8b /r moves.
func rederive(m asm.Mode, b []byte) (x I, err error) {
	var w, r, bb bool

	if m == asm.Mode64 && b[0]&0xf0 == 0x40 {
		w, r, bb = b[0]&8 != 0, b[0]&4 != 0, b[0]&1 != 0
		b = b[1:]
	}

	if m == asm.Mode64 && !w {
		return x, fmt.Errorf("no rex.w")
	}

	op := b[0]
	modrm := b[1]
	b = b[2:]

	mod := modrm >> 6
	reg := asm.Reg(modrm >> 3 & 7)
	rm := asm.Reg(modrm & 7)

	if r {
		reg += 8
	}

	var mem asm.Operand

	switch {
	case mod == 3:
		return x, fmt.Errorf("register form")
	case m == asm.Mode64 && mod == 0 && rm == 4 && b[0] == 0x25:
		mem = asm.Sym("?")
		b = b[5:]
	case m == asm.Mode32 && mod == 0 && rm == 5:
		mem = asm.Sym("?")
		b = b[4:]
	case rm == 4:
		return x, fmt.Errorf("unexpected sib")
	default:
		if bb {
			rm += 8
		}

		var d int32

		switch mod {
		case 1:
			d = int32(int8(b[0]))
			b = b[1:]
		case 2:
			d = int32(binary.LittleEndian.Uint32(b))
			b = b[4:]
		}

		mem = asm.Mem(rm, d)
	}

	if len(b) != 0 {
		return x, fmt.Errorf("trailing bytes: % x", b)
	}

	switch op {
	case 0x89:
		return I{Op: asm.MOV, Dst: mem, Src: asm.R(reg)}, nil
	case 0x8b:
		return I{Op: asm.MOV, Dst: asm.R(reg), Src: mem}, nil
	}

	return x, fmt.Errorf("opcode %x", op)
}

func TestEncodeSymbolReloc(t *testing.T) {
	for _, m := range []asm.Mode{asm.Mode32, asm.Mode64} {
		s := &obj.Section{Data: []byte{0x90, 0x90, 0x90}}

		err := New(m).Encode(s, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Sym("x")})
		require.NoError(t, err)

		require.Len(t, s.Relocs, 1)
		r := s.Relocs[0]

		kind := obj.AbsoluteWord
		if m == asm.Mode64 {
			kind = obj.AbsoluteSigned
		}

		assert.Equal(t, len(s.Data)-4, int(r.Pos), "placeholder is the last word")
		assert.Equal(t, kind, r.Kind)
		assert.Equal(t, "x", r.Sym)

		syms := obj.Symbols{{Name: "x", Seg: obj.Data, Offset: 0x10}}
		bases := obj.Bases{Code: 0x8048000, Data: 0x8049000}

		err = s.Relocs.Backfill(s.Data, bases.Code, syms, bases)
		require.NoError(t, err)

		assert.Equal(t, uint32(0x8049010), binary.LittleEndian.Uint32(s.Data[r.Pos:]))
	}
}

func TestEncodeRelBranch(t *testing.T) {
	s := &obj.Section{}
	e := New(asm.Mode64)

	require.NoError(t, e.Encode(s, I{Op: asm.JMP, Dst: asm.Rel("end")}))
	require.NoError(t, e.Encode(s, I{Op: asm.NOP}))

	end := len(s.Data)

	err := s.Relocs.Resolve(s.Data, 0, func(name string) (uint64, bool) {
		return uint64(end), name == "end"
	})
	require.NoError(t, err)

	inst, err := x86asm.Decode(s.Data, 64)
	require.NoError(t, err)
	assert.Equal(t, x86asm.Rel(1), inst.Args[0], "skips the nop")
}

func TestEncodeFailures(t *testing.T) {
	for _, tc := range []struct {
		m asm.Mode
		x I
	}{
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.SP, 0)}},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.Mem(asm.R12, 8), Src: asm.R(asm.AX)}},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.Mem(asm.AX, 0), Src: asm.Mem(asm.BX, 0)}},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.Imm(1), Src: asm.R(asm.AX)}},
		{asm.Mode64, I{Op: asm.SHL, Dst: asm.R(asm.AX), Src: asm.R(asm.DX)}},
		{asm.Mode64, I{Op: asm.MOV, Dst: asm.Sym("a"), Src: asm.Addr("b")}},
		{asm.Mode64, I{Op: asm.ADD, Dst: asm.R(asm.AX), Src: asm.Imm(1 << 40)}},
		{asm.Mode64, I{Op: asm.IMUL, Size: 1, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}},
		{asm.Mode64, I{Op: asm.Op(1000)}},
		{asm.Mode64, I{Op: asm.MOV, Size: 3, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}},
		{asm.Mode32, I{Op: asm.MOV, Dst: asm.R(asm.R8), Src: asm.R(asm.AX)}},
		{asm.Mode32, I{Op: asm.MOV, Size: 8, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)}},
		{asm.Mode32, I{Op: asm.MOV, Size: 1, Dst: asm.R(asm.SI), Src: asm.R(asm.AX)}},
		{asm.Mode32, I{Op: asm.SYSCALL}},
	} {
		s := &obj.Section{Data: []byte{1, 2, 3}}

		err := New(tc.m).Encode(s, tc.x)
		assert.True(t, errors.Is(err, asm.ErrUnsupported), "%d %v: %v", tc.m, tc.x, err)

		assert.Equal(t, []byte{1, 2, 3}, s.Data, "section unchanged")
		assert.Empty(t, s.Relocs)
	}
}
