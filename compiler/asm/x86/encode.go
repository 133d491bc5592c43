package x86

import (
	"encoding/binary"
	"math"

	"tlog.app/go/errors"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/obj"
)

type (
	Encoder struct {
		Mode asm.Mode
	}

	rex struct {
		w, r, x, b bool
		force      bool
	}

	// form is an instruction with a ModR/M byte.
	form struct {
		size int // 2 adds operand size prefix, 8 sets REX.W
		op   []byte

		reg asm.Reg
		ext bool // reg is an opcode extension, not a register

		rm asm.Operand

		byteReg bool
		byteRM  bool
	}

	enc struct {
		m   asm.Mode
		b   []byte
		rel *obj.Reloc
	}
)

var aluDigit = map[asm.Op]asm.Reg{
	asm.ADD: 0,
	asm.OR:  1,
	asm.AND: 4,
	asm.SUB: 5,
	asm.XOR: 6,
	asm.CMP: 7,
}

var shiftDigit = map[asm.Op]asm.Reg{
	asm.SHL: 4,
	asm.SHR: 5,
	asm.SAR: 7,
}

var unaryDigit = map[asm.Op]asm.Reg{
	asm.NOT:  2,
	asm.NEG:  3,
	asm.IDIV: 7,
}

func New(m asm.Mode) Encoder { return Encoder{Mode: m} }

// Encode appends the instruction to the section.
// At most one relocation is added. The section is left untouched on error.
func (e Encoder) Encode(s *obj.Section, x asm.Instr) error {
	b, r, err := e.Append(s.Data, x)
	if err != nil {
		return err
	}

	s.Data = b

	if r != nil {
		s.Relocs.Add(*r)
	}

	return nil
}

// Append encodes x to the end of b.
// Relocation position is an offset in the returned buffer.
func (e Encoder) Append(b []byte, x asm.Instr) (_ []byte, rel *obj.Reloc, err error) {
	if !e.Mode.Valid() {
		return b, nil, errors.New("bad mode: %d", e.Mode)
	}

	c := enc{m: e.Mode, b: b}

	err = c.instr(x)
	if err != nil {
		return b, nil, errors.Wrap(err, "%s", x.Append(nil, e.Mode))
	}

	return c.b, c.rel, nil
}

func (c *enc) instr(x asm.Instr) error {
	size := x.Size
	if size == 0 {
		size = c.m.Word()
	}

	switch size {
	case 1, 2, 4:
	case 8:
		if c.m != asm.Mode64 {
			return errors.Wrap(asm.ErrUnsupported, "64-bit operand in 32-bit mode")
		}
	default:
		return errors.Wrap(asm.ErrUnsupported, "operand size %d", size)
	}

	d, s := x.Dst, x.Src

	if d.IsMem() && s.IsMem() {
		return errors.Wrap(asm.ErrUnsupported, "two memory operands")
	}

	switch x.Op {
	case asm.NOP:
		c.emit(0x90)
	case asm.RET:
		if d.Kind == asm.KindImm {
			c.emit(0xc2)
			return c.imm(d, 2, 2)
		}

		c.emit(0xc3)
	case asm.LEAVE:
		c.emit(0xc9)
	case asm.SYSCALL:
		if c.m != asm.Mode64 {
			return errors.Wrap(asm.ErrUnsupported, "syscall in 32-bit mode")
		}

		c.emit(0x0f, 0x05)
	case asm.INT:
		if d.Kind != asm.KindImm {
			return errors.Wrap(asm.ErrUnsupported, "int operand")
		}

		c.emit(0xcd)

		return c.imm(d, 1, 1)
	case asm.CONV:
		switch size {
		case 2:
			c.emit(0x66, 0x99)
		case 4:
			c.emit(0x99)
		case 8:
			c.emit(0x48, 0x99)
		default:
			return errors.Wrap(asm.ErrUnsupported, "conv size %d", size)
		}
	case asm.MOV:
		return c.mov(size, d, s)
	case asm.ADD, asm.OR, asm.AND, asm.SUB, asm.XOR, asm.CMP:
		return c.alu(aluDigit[x.Op], size, d, s)
	case asm.TEST:
		return c.test(size, d, s)
	case asm.IMUL:
		return c.imul(size, d, s)
	case asm.IDIV, asm.NEG, asm.NOT:
		if !isRM(d) || s.Kind != asm.KindNone {
			return asm.ErrUnsupported
		}

		return c.form(form{size: size, op: pick(size, 0xf6, 0xf7), reg: unaryDigit[x.Op], ext: true, rm: d, byteRM: size == 1})
	case asm.SHL, asm.SHR, asm.SAR:
		return c.shift(shiftDigit[x.Op], size, d, s)
	case asm.SETCC:
		if !isRM(d) || s.Kind != asm.KindNone || !validCond(x.Cond) {
			return asm.ErrUnsupported
		}

		return c.form(form{size: 1, op: []byte{0x0f, 0x90 | byte(x.Cond)}, ext: true, rm: d, byteRM: true})
	case asm.MOVZX, asm.MOVSX, asm.MOVSXD:
		return c.extend(x.Op, size, d, s)
	case asm.LEA:
		if d.Kind != asm.KindReg || !s.IsMem() || size < 4 {
			return asm.ErrUnsupported
		}

		return c.form(form{size: size, op: []byte{0x8d}, reg: d.Reg, rm: s})
	case asm.PUSH:
		return c.push(d, s)
	case asm.POP:
		switch {
		case s.Kind != asm.KindNone:
			return asm.ErrUnsupported
		case d.Kind == asm.KindReg:
			return c.opReg(4, 0x58, d.Reg, false)
		case d.IsMem():
			return c.form(form{size: 4, op: []byte{0x8f}, reg: 0, ext: true, rm: d})
		}

		return asm.ErrUnsupported
	case asm.CALL, asm.JMP:
		if s.Kind != asm.KindNone {
			return asm.ErrUnsupported
		}

		op, digit := byte(0xe8), asm.Reg(2)
		if x.Op == asm.JMP {
			op, digit = 0xe9, 4
		}

		if d.Kind == asm.KindRel {
			c.emit(op)

			return c.reloc(d.Sym, obj.RelativeWord, -4)
		}

		if !isRM(d) {
			return asm.ErrUnsupported
		}

		return c.form(form{size: 4, op: []byte{0xff}, reg: digit, ext: true, rm: d})
	case asm.JCC:
		if d.Kind != asm.KindRel || !validCond(x.Cond) {
			return asm.ErrUnsupported
		}

		c.emit(0x0f, 0x80|byte(x.Cond))

		return c.reloc(d.Sym, obj.RelativeWord, -4)
	default:
		return errors.Wrap(asm.ErrUnsupported, "opcode %d", x.Op)
	}

	return nil
}

func (c *enc) mov(size int, d, s asm.Operand) error {
	byte1 := size == 1

	switch {
	case isRM(d) && s.Kind == asm.KindReg:
		return c.form(form{size: size, op: pick(size, 0x88, 0x89), reg: s.Reg, rm: d, byteReg: byte1, byteRM: byte1})
	case d.Kind == asm.KindReg && s.IsMem():
		return c.form(form{size: size, op: pick(size, 0x8a, 0x8b), reg: d.Reg, rm: s, byteReg: byte1, byteRM: byte1})
	case d.Kind == asm.KindReg && s.Kind == asm.KindAddr:
		if size < 4 {
			return asm.ErrUnsupported
		}

		// 32-bit move zero extends in 64-bit mode
		err := c.opReg(4, 0xb8, d.Reg, false)
		if err != nil {
			return err
		}

		return c.reloc(s.Sym, obj.AbsoluteWord, 0)
	case d.Kind == asm.KindReg && s.Kind == asm.KindImm:
		switch {
		case size == 1:
			err := c.opReg(1, 0xb0, d.Reg, true)
			if err != nil {
				return err
			}

			return c.imm(s, 1, 1)
		case size == 8 && !fits32(s.Imm):
			err := c.opReg(8, 0xb8, d.Reg, false)
			if err != nil {
				return err
			}

			c.b = binary.LittleEndian.AppendUint64(c.b, uint64(s.Imm))

			return nil
		case size == 8:
			err := c.form(form{size: 8, op: []byte{0xc7}, reg: 0, ext: true, rm: d})
			if err != nil {
				return err
			}

			return c.imm(s, 4, 8)
		}

		err := c.opReg(size, 0xb8, d.Reg, false)
		if err != nil {
			return err
		}

		return c.imm(s, size, size)
	case d.IsMem() && (s.Kind == asm.KindImm || s.Kind == asm.KindAddr):
		err := c.form(form{size: size, op: pick(size, 0xc6, 0xc7), reg: 0, ext: true, rm: d})
		if err != nil {
			return err
		}

		return c.imm(s, immSize(size), size)
	}

	return asm.ErrUnsupported
}

func (c *enc) alu(digit asm.Reg, size int, d, s asm.Operand) error {
	base := byte(digit) << 3
	byte1 := size == 1

	switch {
	case isRM(d) && s.Kind == asm.KindReg:
		return c.form(form{size: size, op: pick(size, base, base+1), reg: s.Reg, rm: d, byteReg: byte1, byteRM: byte1})
	case d.Kind == asm.KindReg && s.IsMem():
		return c.form(form{size: size, op: pick(size, base+2, base+3), reg: d.Reg, rm: s, byteReg: byte1, byteRM: byte1})
	case isRM(d) && (s.Kind == asm.KindImm || s.Kind == asm.KindAddr):
		if byte1 {
			err := c.form(form{size: 1, op: []byte{0x80}, reg: digit, ext: true, rm: d, byteRM: true})
			if err != nil {
				return err
			}

			return c.imm(s, 1, 1)
		}

		if fits8(s) {
			err := c.form(form{size: size, op: []byte{0x83}, reg: digit, ext: true, rm: d})
			if err != nil {
				return err
			}

			return c.imm(s, 1, size)
		}

		err := c.form(form{size: size, op: []byte{0x81}, reg: digit, ext: true, rm: d})
		if err != nil {
			return err
		}

		return c.imm(s, immSize(size), size)
	}

	return asm.ErrUnsupported
}

func (c *enc) test(size int, d, s asm.Operand) error {
	byte1 := size == 1

	switch {
	case isRM(d) && s.Kind == asm.KindReg:
		return c.form(form{size: size, op: pick(size, 0x84, 0x85), reg: s.Reg, rm: d, byteReg: byte1, byteRM: byte1})
	case d.Kind == asm.KindReg && s.IsMem():
		return c.form(form{size: size, op: pick(size, 0x84, 0x85), reg: d.Reg, rm: s, byteReg: byte1, byteRM: byte1})
	case isRM(d) && s.Kind == asm.KindImm:
		err := c.form(form{size: size, op: pick(size, 0xf6, 0xf7), reg: 0, ext: true, rm: d, byteRM: byte1})
		if err != nil {
			return err
		}

		return c.imm(s, immSize(size), size)
	}

	return asm.ErrUnsupported
}

func (c *enc) imul(size int, d, s asm.Operand) error {
	if size == 1 || d.Kind != asm.KindReg {
		return asm.ErrUnsupported
	}

	switch {
	case isRM(s):
		return c.form(form{size: size, op: []byte{0x0f, 0xaf}, reg: d.Reg, rm: s})
	case s.Kind == asm.KindImm && fits8(s):
		err := c.form(form{size: size, op: []byte{0x6b}, reg: d.Reg, rm: d})
		if err != nil {
			return err
		}

		return c.imm(s, 1, size)
	case s.Kind == asm.KindImm:
		err := c.form(form{size: size, op: []byte{0x69}, reg: d.Reg, rm: d})
		if err != nil {
			return err
		}

		return c.imm(s, immSize(size), size)
	}

	return asm.ErrUnsupported
}

func (c *enc) shift(digit asm.Reg, size int, d, s asm.Operand) error {
	if !isRM(d) {
		return asm.ErrUnsupported
	}

	switch {
	case s.Kind == asm.KindImm:
		if s.Imm < 0 || s.Imm >= int64(size*8) {
			return errors.Wrap(asm.ErrUnsupported, "shift count %d", s.Imm)
		}

		err := c.form(form{size: size, op: pick(size, 0xc0, 0xc1), reg: digit, ext: true, rm: d, byteRM: size == 1})
		if err != nil {
			return err
		}

		return c.imm(s, 1, 1)
	case s.Kind == asm.KindReg && s.Reg == asm.CX:
		return c.form(form{size: size, op: pick(size, 0xd2, 0xd3), reg: digit, ext: true, rm: d, byteRM: size == 1})
	}

	return errors.Wrap(asm.ErrUnsupported, "shift count must be immediate or cl")
}

func (c *enc) extend(op asm.Op, size int, d, s asm.Operand) error {
	if d.Kind != asm.KindReg || !isRM(s) {
		return asm.ErrUnsupported
	}

	switch op {
	case asm.MOVZX:
		if size > 2 {
			return errors.Wrap(asm.ErrUnsupported, "movzx from %d bytes", size)
		}

		return c.form(form{size: 4, op: []byte{0x0f, pick(size, 0xb6, 0xb7)[0]}, reg: d.Reg, rm: s, byteRM: size == 1})
	case asm.MOVSX:
		if size > 2 {
			return errors.Wrap(asm.ErrUnsupported, "movsx from %d bytes", size)
		}

		return c.form(form{size: c.m.Word(), op: []byte{0x0f, pick(size, 0xbe, 0xbf)[0]}, reg: d.Reg, rm: s, byteRM: size == 1})
	default:
		if c.m != asm.Mode64 || size != 4 {
			return asm.ErrUnsupported
		}

		return c.form(form{size: 8, op: []byte{0x63}, reg: d.Reg, rm: s})
	}
}

func (c *enc) push(d, s asm.Operand) error {
	if s.Kind != asm.KindNone {
		return asm.ErrUnsupported
	}

	switch d.Kind {
	case asm.KindReg:
		return c.opReg(4, 0x50, d.Reg, false)
	case asm.KindImm:
		if fits8(d) {
			c.emit(0x6a)

			return c.imm(d, 1, 1)
		}

		c.emit(0x68)

		return c.imm(d, 4, c.m.Word())
	case asm.KindAddr:
		c.emit(0x68)

		return c.reloc(d.Sym, c.absolute(8), 0)
	case asm.KindMem, asm.KindSym:
		return c.form(form{size: 4, op: []byte{0xff}, reg: 6, ext: true, rm: d})
	}

	return asm.ErrUnsupported
}

// opReg emits an opcode with the register in its low 3 bits.
func (c *enc) opReg(size int, op byte, r asm.Reg, byteReg bool) error {
	err := c.checkReg(r)
	if err != nil {
		return err
	}

	x := rex{
		w:     size == 8,
		b:     r >= 8,
		force: byteReg && r >= 4 && r < 8,
	}

	err = c.prefix(size, x)
	if err != nil {
		return err
	}

	c.emit(op + byte(r&7))

	return nil
}

func (c *enc) form(f form) (err error) {
	x := rex{w: f.size == 8}

	if !f.ext {
		err = c.checkReg(f.reg)
		if err != nil {
			return err
		}

		x.r = f.reg >= 8
		x.force = f.byteReg && f.reg >= 4 && f.reg < 8
	}

	reg := byte(f.reg&7) << 3

	var modrm byte
	var sib []byte
	var disp []byte
	sym := false

	switch rm := f.rm; rm.Kind {
	case asm.KindReg:
		err = c.checkReg(rm.Reg)
		if err != nil {
			return err
		}

		x.b = rm.Reg >= 8
		x.force = x.force || f.byteRM && rm.Reg >= 4 && rm.Reg < 8

		modrm = 0xc0 | reg | byte(rm.Reg&7)
	case asm.KindMem:
		err = c.checkReg(rm.Reg)
		if err != nil {
			return err
		}

		if rm.Reg&7 == 4 {
			return errors.Wrap(asm.ErrUnsupported, "%v as memory base", rm.Reg.Name(c.m.Word()))
		}

		x.b = rm.Reg >= 8

		modrm, disp = dispForm(rm.Reg, rm.Disp)
		modrm |= reg | byte(rm.Reg&7)
	case asm.KindSym:
		sym = true

		if c.m == asm.Mode64 {
			// r/m 101 is rip-relative in 64-bit mode, so use sib with no base and no index
			modrm = reg | 0x4
			sib = []byte{0x25}
		} else {
			modrm = reg | 0x5
		}
	default:
		return errors.Wrap(asm.ErrUnsupported, "operand kind %d", rm.Kind)
	}

	err = c.prefix(f.size, x)
	if err != nil {
		return err
	}

	c.emit(f.op...)
	c.emit(modrm)
	c.emit(sib...)

	if sym {
		return c.reloc(f.rm.Sym, c.absolute(8), 0)
	}

	c.emit(disp...)

	return nil
}

// dispForm returns the mod bits and the displacement for [base + d].
func dispForm(base asm.Reg, d int32) (mod byte, disp []byte) {
	switch {
	case d == 0 && base&7 != 5:
		return 0x00, nil
	case d >= math.MinInt8 && d <= math.MaxInt8:
		return 0x40, []byte{byte(int8(d))}
	default:
		return 0x80, binary.LittleEndian.AppendUint32(nil, uint32(d))
	}
}

func (c *enc) prefix(size int, x rex) error {
	if c.m == asm.Mode32 && (x.w || x.r || x.x || x.b || x.force) {
		return errors.Wrap(asm.ErrUnsupported, "register not addressable in 32-bit mode")
	}

	if size == 2 {
		c.emit(0x66)
	}

	if p := x.prefix(); p != 0 {
		c.emit(p)
	}

	return nil
}

func (c *enc) checkReg(r asm.Reg) error {
	if r < 0 || int(r) >= c.m.Regs() {
		return errors.Wrap(asm.ErrUnsupported, "register %d in %d-bit mode", int(r), int(c.m))
	}

	return nil
}

// imm emits an n-byte immediate for an operation of the given size.
func (c *enc) imm(o asm.Operand, n, size int) error {
	if o.Kind == asm.KindAddr {
		if n != 4 {
			return errors.Wrap(asm.ErrUnsupported, "address in %d-byte immediate", n)
		}

		return c.reloc(o.Sym, c.absolute(size), 0)
	}

	if o.Kind != asm.KindImm {
		return errors.Wrap(asm.ErrUnsupported, "immediate expected")
	}

	v := o.Imm

	var ok bool

	switch n {
	case 1:
		ok = v >= math.MinInt8 && v <= math.MaxUint8
		c.emit(byte(v))
	case 2:
		ok = v >= math.MinInt16 && v <= math.MaxUint16
		c.b = binary.LittleEndian.AppendUint16(c.b, uint16(v))
	case 4:
		ok = fits32(v) || size == 4 && v >= 0 && v <= math.MaxUint32
		c.b = binary.LittleEndian.AppendUint32(c.b, uint32(v))
	}

	if !ok {
		return errors.Wrap(asm.ErrUnsupported, "immediate %d does not fit %d bytes", v, n)
	}

	return nil
}

// absolute is the kind of an address word read as part of a size-byte value.
// A 32-bit field widened to 64 bits is sign-extended.
func (c *enc) absolute(size int) obj.RelocKind {
	if c.m == asm.Mode64 && size == 8 {
		return obj.AbsoluteSigned
	}

	return obj.AbsoluteWord
}

func (c *enc) reloc(sym string, kind obj.RelocKind, addend int64) error {
	if c.rel != nil {
		return errors.Wrap(asm.ErrUnsupported, "more than one symbolic operand")
	}

	c.rel = &obj.Reloc{
		Pos:    int64(len(c.b)),
		Sym:    sym,
		Kind:   kind,
		Addend: addend,
	}

	c.b = binary.LittleEndian.AppendUint32(c.b, uint32(int32(addend)))

	return nil
}

func (c *enc) emit(b ...byte) {
	c.b = append(c.b, b...)
}

func (x rex) prefix() byte {
	if !x.w && !x.r && !x.x && !x.b && !x.force {
		return 0
	}

	p := byte(0x40)

	if x.w {
		p |= 0x08
	}

	if x.r {
		p |= 0x04
	}

	if x.x {
		p |= 0x02
	}

	if x.b {
		p |= 0x01
	}

	return p
}

func isRM(o asm.Operand) bool { return o.Kind == asm.KindReg || o.IsMem() }

func fits8(o asm.Operand) bool {
	return o.Kind == asm.KindImm && o.Imm >= math.MinInt8 && o.Imm <= math.MaxInt8
}

func fits32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func validCond(c asm.Cond) bool { return c >= 0 && c < 16 }

// immSize is the immediate width for a full-size operation.
func immSize(size int) int {
	if size > 4 {
		return 4
	}

	return size
}

// pick returns byteOp for one-byte operations and op otherwise.
func pick(size int, byteOp, op byte) []byte {
	if size == 1 {
		return []byte{byteOp}
	}

	return []byte{op}
}
