package back

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/xcc/compiler/obj"
)

type (
	// machine interprets the subset of x86 the assembler emits.
	machine struct {
		mode int
		code []byte

		regs [16]uint64
		mem  map[uint64]byte

		pc int64

		cmpA, cmpB int64

		exited bool
		status int64

		// onJump is called before a taken jump.
		onJump func(m *machine, target int64)
	}
)

const (
	stackTop = 0x7000000
	retMagic = 0xdead0
	dataBase = 0x100000
	bssBase  = 0x200000
)

var testBases = obj.Bases{Code: 0, Data: dataBase, Bss: bssBase}

// load links the module at testBases and prepares the machine to call fn.
func load(mod *obj.Module, fn string) (*machine, error) {
	code := append([]byte{}, mod.Text.Data...)

	err := mod.Text.Relocs.Backfill(code, testBases.Code, mod.Symbols, testBases)
	if err != nil {
		return nil, err
	}

	m := &machine{
		mode: int(mod.Mode),
		code: code,
		mem:  map[uint64]byte{},
	}

	for i, b := range mod.Data.Data {
		m.mem[dataBase+uint64(i)] = b
	}

	sym, ok := mod.Symbols.Lookup(fn)
	if !ok {
		return nil, fmt.Errorf("no function %v", fn)
	}

	m.pc = sym.Offset
	m.regs[4] = stackTop
	m.regs[5] = 0x1234

	m.push(retMagic)

	return m, nil
}

func (m *machine) run(steps int) error {
	for i := 0; i < steps; i++ {
		if m.exited {
			return nil
		}

		if m.pc < 0 || m.pc >= int64(len(m.code)) {
			return fmt.Errorf("pc out of code: %#x", m.pc)
		}

		inst, err := x86asm.Decode(m.code[m.pc:], m.mode)
		if err != nil {
			return fmt.Errorf("decode at %#x: %w", m.pc, err)
		}

		err = m.step(inst)
		if err != nil {
			return fmt.Errorf("at %#x: %v: %w", m.pc, inst, err)
		}
	}

	return fmt.Errorf("too many steps")
}

func (m *machine) word() int { return m.mode / 8 }

func (m *machine) step(inst x86asm.Inst) error {
	next := m.pc + int64(inst.Len)
	a := inst.Args

	switch inst.Op {
	case x86asm.NOP:
	case x86asm.MOV:
		m.write(inst, a[0], m.read(inst, a[1]))
	case x86asm.MOVZX:
		m.write(inst, a[0], m.readU(inst, a[1]))
	case x86asm.MOVSX, x86asm.MOVSXD:
		m.write(inst, a[0], m.read(inst, a[1]))
	case x86asm.LEA:
		m.write(inst, a[0], int64(m.addr(a[1].(x86asm.Mem))))
	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR:
		x, y := m.read(inst, a[0]), m.read(inst, a[1])

		switch inst.Op {
		case x86asm.ADD:
			x += y
		case x86asm.SUB:
			x -= y
		case x86asm.AND:
			x &= y
		case x86asm.OR:
			x |= y
		case x86asm.XOR:
			x ^= y
		}

		m.write(inst, a[0], x)
	case x86asm.IMUL:
		if a[2] != nil {
			m.write(inst, a[0], m.read(inst, a[1])*m.read(inst, a[2]))
		} else {
			m.write(inst, a[0], m.read(inst, a[0])*m.read(inst, a[1]))
		}
	case x86asm.NEG:
		m.write(inst, a[0], -m.read(inst, a[0]))
	case x86asm.NOT:
		m.write(inst, a[0], ^m.read(inst, a[0]))
	case x86asm.SHL, x86asm.SAR:
		x, n := m.read(inst, a[0]), m.read(inst, a[1])&int64(m.word()*8-1)

		if inst.Op == x86asm.SHL {
			x <<= n
		} else {
			x >>= n
		}

		m.write(inst, a[0], x)
	case x86asm.CMP:
		m.cmpA, m.cmpB = m.read(inst, a[0]), m.read(inst, a[1])
	case x86asm.TEST:
		m.cmpA, m.cmpB = m.read(inst, a[0])&m.read(inst, a[1]), 0
	case x86asm.SETE, x86asm.SETNE, x86asm.SETL, x86asm.SETLE, x86asm.SETG, x86asm.SETGE:
		var v int64
		if m.cond(inst.Op) {
			v = 1
		}

		m.write(inst, a[0], v)
	case x86asm.CQO, x86asm.CDQ:
		var v int64
		if m.sx(int64(m.regs[0]), m.word()) < 0 {
			v = -1
		}

		m.setReg(2, m.word(), v)
	case x86asm.IDIV:
		d := m.read(inst, a[0])
		if d == 0 {
			return fmt.Errorf("division by zero")
		}

		x := m.sx(int64(m.regs[0]), m.word())

		m.setReg(0, m.word(), x/d)
		m.setReg(2, m.word(), x%d)
	case x86asm.PUSH:
		m.push(m.read(inst, a[0]))
	case x86asm.POP:
		m.write(inst, a[0], m.pop())
	case x86asm.LEAVE:
		m.regs[4] = m.regs[5]
		m.setReg(5, m.word(), m.pop())
	case x86asm.JMP, x86asm.CALL:
		var target int64

		switch x := a[0].(type) {
		case x86asm.Rel:
			target = next + int64(x)
		default:
			target = m.read(inst, x)
		}

		if inst.Op == x86asm.CALL {
			m.push(next)
		} else if m.onJump != nil {
			m.onJump(m, target)
		}

		next = target
	case x86asm.JE, x86asm.JNE, x86asm.JL, x86asm.JLE, x86asm.JG, x86asm.JGE:
		if m.cond(inst.Op) {
			next += int64(a[0].(x86asm.Rel))
		}
	case x86asm.RET:
		ret := m.pop()
		if ret == retMagic {
			m.exited = true
			m.status = m.sx(int64(m.regs[0]), m.word())

			return nil
		}

		next = ret
	case x86asm.SYSCALL:
		m.exited = true
		m.status = int64(m.regs[7])
	case x86asm.INT:
		m.exited = true
		m.status = m.sx(int64(m.regs[3]), 4)
	default:
		return fmt.Errorf("unsupported instruction")
	}

	m.pc = next

	return nil
}

func (m *machine) cond(op x86asm.Op) bool {
	x, y := m.cmpA, m.cmpB

	switch op {
	case x86asm.SETE, x86asm.JE:
		return x == y
	case x86asm.SETNE, x86asm.JNE:
		return x != y
	case x86asm.SETL, x86asm.JL:
		return x < y
	case x86asm.SETLE, x86asm.JLE:
		return x <= y
	case x86asm.SETG, x86asm.JG:
		return x > y
	case x86asm.SETGE, x86asm.JGE:
		return x >= y
	}

	panic(op)
}

func (m *machine) push(v int64) {
	w := m.word()

	m.regs[4] -= uint64(w)
	m.store(m.regs[4], w, v)
}

func (m *machine) pop() int64 {
	w := m.word()

	v := m.sx(m.loadU(m.regs[4], w), w)
	m.regs[4] += uint64(w)

	return v
}

// read returns the sign extended operand value.
func (m *machine) read(inst x86asm.Inst, a x86asm.Arg) int64 {
	return m.sx(m.readU(inst, a), m.size(inst, a))
}

func (m *machine) readU(inst x86asm.Inst, a x86asm.Arg) int64 {
	switch a := a.(type) {
	case x86asm.Reg:
		i, size := regIndex(a)

		return int64(m.regs[i] & mask(size))
	case x86asm.Mem:
		return m.loadU(m.addr(a), inst.MemBytes)
	case x86asm.Imm:
		return int64(a)
	}

	panic(a)
}

func (m *machine) write(inst x86asm.Inst, a x86asm.Arg, v int64) {
	switch a := a.(type) {
	case x86asm.Reg:
		i, size := regIndex(a)

		m.setReg(i, size, v)
	case x86asm.Mem:
		m.store(m.addr(a), inst.MemBytes, v)
	default:
		panic(a)
	}
}

func (m *machine) setReg(i, size int, v int64) {
	switch size {
	case 8:
		m.regs[i] = uint64(v)
	case 4:
		m.regs[i] = uint64(uint32(v))
	default:
		m.regs[i] = m.regs[i]&^mask(size) | uint64(v)&mask(size)
	}
}

func (m *machine) size(inst x86asm.Inst, a x86asm.Arg) int {
	switch a := a.(type) {
	case x86asm.Reg:
		_, size := regIndex(a)
		return size
	case x86asm.Mem:
		return inst.MemBytes
	default:
		return 8
	}
}

func (m *machine) addr(a x86asm.Mem) uint64 {
	// disp32 comes zero-extended, the cpu sign-extends it
	x := uint64(int64(int32(a.Disp)))

	if a.Base != 0 {
		i, _ := regIndex(a.Base)
		x += m.regs[i]
	}

	if a.Index != 0 {
		i, _ := regIndex(a.Index)
		x += m.regs[i] * uint64(a.Scale)
	}

	if m.mode == 32 {
		x = uint64(uint32(x))
	}

	return x
}

func (m *machine) loadU(addr uint64, size int) int64 {
	var buf [8]byte

	for i := 0; i < size; i++ {
		buf[i] = m.mem[addr+uint64(i)]
	}

	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func (m *machine) store(addr uint64, size int, v int64) {
	for i := 0; i < size; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

func (m *machine) sx(v int64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}

	return v
}

func mask(size int) uint64 {
	if size == 8 {
		return ^uint64(0)
	}

	return 1<<(8*size) - 1
}

func regIndex(r x86asm.Reg) (int, int) {
	switch {
	case r >= x86asm.RAX && r <= x86asm.R15:
		return int(r - x86asm.RAX), 8
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return int(r - x86asm.EAX), 4
	case r >= x86asm.AX && r <= x86asm.R15W:
		return int(r - x86asm.AX), 2
	case r >= x86asm.AL && r <= x86asm.BL:
		return int(r - x86asm.AL), 1
	case r >= x86asm.SPB && r <= x86asm.DIB:
		return int(r-x86asm.SPB) + 4, 1
	case r >= x86asm.R8B && r <= x86asm.R15B:
		return int(r-x86asm.R8B) + 8, 1
	}

	panic(r)
}
