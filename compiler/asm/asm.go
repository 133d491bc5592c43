package asm

import (
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	Mode int
	Reg  int
	Kind int
	Op   int

	// Cond is the x86 condition code nibble (tttn).
	Cond int

	Operand struct {
		Kind Kind
		Reg  Reg
		Disp int32
		Imm  int64
		Sym  string
	}

	// Instr is a single machine instruction.
	// Size is the operand width in bytes, zero means the mode's word.
	// For MOVZX, MOVSX and MOVSXD it's the source width.
	Instr struct {
		Op   Op
		Cond Cond
		Size int
		Dst  Operand
		Src  Operand
	}
)

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

const (
	AX Reg = iota
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

const (
	KindNone Kind = iota
	KindImm
	KindReg
	KindMem  // [reg + disp]
	KindSym  // [symbol]
	KindAddr // address of symbol as an immediate
	KindRel  // rel32 branch target
)

const (
	NOP Op = iota
	MOV
	MOVZX
	MOVSX
	MOVSXD
	LEA
	ADD
	SUB
	AND
	OR
	XOR
	CMP
	TEST
	IMUL
	IDIV
	NEG
	NOT
	SHL
	SHR
	SAR
	SETCC
	CONV // cwd / cdq / cqo
	PUSH
	POP
	CALL
	JMP
	JCC
	RET
	LEAVE
	INT
	SYSCALL
)

const (
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondL  Cond = 0xc
	CondGE Cond = 0xd
	CondLE Cond = 0xe
	CondG  Cond = 0xf
)

var ErrUnsupported = errors.New("unsupported encoding")

var opNames = [...]string{
	NOP: "nop", MOV: "mov", MOVZX: "movzx", MOVSX: "movsx", MOVSXD: "movsxd", LEA: "lea",
	ADD: "add", SUB: "sub", AND: "and", OR: "or", XOR: "xor", CMP: "cmp", TEST: "test",
	IMUL: "imul", IDIV: "idiv", NEG: "neg", NOT: "not", SHL: "shl", SHR: "shr", SAR: "sar",
	SETCC: "set", CONV: "cqo", PUSH: "push", POP: "pop", CALL: "call", JMP: "jmp", JCC: "j",
	RET: "ret", LEAVE: "leave", INT: "int", SYSCALL: "syscall",
}

var condNames = map[Cond]string{
	CondB: "b", CondAE: "ae", CondE: "e", CondNE: "ne", CondBE: "be", CondA: "a",
	CondL: "l", CondGE: "ge", CondLE: "le", CondG: "g",
}

var regNames = [...][16]string{
	1: {"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"},
	2: {"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"},
	4: {"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"},
	8: {"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"},
}

func (m Mode) Word() int { return int(m) / 8 }

func (m Mode) Valid() bool { return m == Mode32 || m == Mode64 }

// Regs is the number of general purpose registers addressable in the mode.
func (m Mode) Regs() int {
	if m == Mode64 {
		return 16
	}

	return 8
}

func Imm(x int64) Operand           { return Operand{Kind: KindImm, Imm: x} }
func R(r Reg) Operand               { return Operand{Kind: KindReg, Reg: r} }
func Mem(base Reg, d int32) Operand { return Operand{Kind: KindMem, Reg: base, Disp: d} }
func Sym(name string) Operand       { return Operand{Kind: KindSym, Sym: name} }
func Addr(name string) Operand      { return Operand{Kind: KindAddr, Sym: name} }
func Rel(name string) Operand       { return Operand{Kind: KindRel, Sym: name} }

func (o Operand) IsMem() bool { return o.Kind == KindMem || o.Kind == KindSym }

func (r Reg) Name(size int) string {
	if size <= 0 || size >= len(regNames) || regNames[size][0] == "" || r < 0 || int(r) >= 16 {
		return fmt.Sprintf("r%d?%d", int(r), size)
	}

	return regNames[size][r]
}

func (o Operand) Append(b []byte, size int) []byte {
	switch o.Kind {
	case KindNone:
		return b
	case KindImm:
		return hfmt.Appendf(b, "%d", o.Imm)
	case KindReg:
		return append(b, o.Reg.Name(size)...)
	case KindMem:
		b = append(b, sizeName(size)...)
		b = hfmt.Appendf(b, "[%s", o.Reg.Name(8))

		if o.Disp > 0 {
			b = hfmt.Appendf(b, "+%d", o.Disp)
		} else if o.Disp < 0 {
			b = hfmt.Appendf(b, "%d", o.Disp)
		}

		return append(b, ']')
	case KindSym:
		b = append(b, sizeName(size)...)
		return hfmt.Appendf(b, "[%s]", o.Sym)
	case KindAddr:
		return hfmt.Appendf(b, "offset %s", o.Sym)
	case KindRel:
		return append(b, o.Sym...)
	default:
		return hfmt.Appendf(b, "operand?%d", int(o.Kind))
	}
}

func sizeName(size int) string {
	switch size {
	case 1:
		return "byte "
	case 2:
		return "word "
	case 4:
		return "dword "
	case 8:
		return "qword "
	default:
		return ""
	}
}

func (o Operand) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%s", o.Append(nil, 8))
}

// Append renders the instruction in intel syntax.
func (x Instr) Append(b []byte, m Mode) []byte {
	size := x.Size
	if size == 0 {
		size = m.Word()
	}

	if int(x.Op) < len(opNames) {
		b = append(b, opNames[x.Op]...)
	}

	switch x.Op {
	case SETCC, JCC:
		b = append(b, condNames[x.Cond]...)
	case CONV:
		b = b[:len(b)-3]
		b = append(b, map[int]string{2: "cwd", 4: "cdq", 8: "cqo"}[size]...)

		return b
	}

	dsize, ssize := size, size

	switch x.Op {
	case MOVZX:
		dsize = 4
	case MOVSX, MOVSXD:
		dsize = m.Word()
	case SETCC:
		dsize = 1
	case SHL, SHR, SAR:
		ssize = 1
	case PUSH, POP, CALL, JMP:
		dsize = m.Word()
	}

	if x.Dst.Kind != KindNone {
		b = append(b, ' ')
		b = x.Dst.Append(b, dsize)
	}

	if x.Src.Kind != KindNone {
		b = append(b, ", "...)
		b = x.Src.Append(b, ssize)
	}

	return b
}

func (x Instr) String() string { return string(x.Append(nil, Mode64)) }
