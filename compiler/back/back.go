package back

import (
	"context"
	"encoding/binary"
	"math"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/asm/x86"
	"github.com/slowlang/xcc/compiler/ir"
	"github.com/slowlang/xcc/compiler/obj"
)

type (
	// Compiler assembles IR listings into object modules.
	Compiler struct {
		Mode asm.Mode

		// Capture enables Lines collection.
		Capture bool
		Lines   []Line
	}

	// Line is an encoded instruction, a label or a comment.
	Line struct {
		Func    string
		Off     int64
		Bytes   []byte
		Instr   asm.Instr
		Label   string
		Comment string
	}

	pkgContext struct {
		*obj.Module

		c   *Compiler
		enc x86.Encoder
		l   ir.Listing

		labels map[string]int64 // branch targets by name
	}

	funContext struct {
		*pkgContext
		*ir.Func

		alloc *Alloc
		loops []ir.Loop

		statics map[string]string

		start     int64
		frameAt   int64 // position of the prologue frame size immediate
		frameLine int
		exit      string
	}
)

const MaxLoopDepth = 32

var ErrCapacity = errors.New("capacity exceeded")

var jcc = map[ir.Op]asm.Cond{
	ir.Eq: asm.CondE,
	ir.Ne: asm.CondNE,
	ir.Lt: asm.CondL,
	ir.Le: asm.CondLE,
	ir.Gt: asm.CondG,
	ir.Ge: asm.CondGE,
}

func New(m asm.Mode) *Compiler {
	return &Compiler{Mode: m}
}

// CompileModule assembles the listing into a new module.
func (c *Compiler) CompileModule(ctx context.Context, name string, l ir.Listing) (m *obj.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile module", "name", name, "mode", c.Mode, "entries", len(l))
	defer tr.Finish("err", &err)

	if !c.Mode.Valid() {
		return nil, errors.New("bad mode: %d", c.Mode)
	}

	lay, err := l.Layout()
	if err != nil {
		return nil, errors.Wrap(err, "layout")
	}

	p := &pkgContext{
		Module: obj.NewModule(name, c.Mode),
		c:      c,
		enc:    x86.New(c.Mode),
		l:      l,
		labels: map[string]int64{},
	}

	if tr.If("dump_listing") {
		for i, x := range l {
			tr.Printw("entry", "i", i, "type", tlog.NextAsType, x, "val", x)
		}
	}

	for _, i := range lay.Module {
		if d, ok := l[i].(ir.Data); ok {
			err = p.moduleData(d)
			if err != nil {
				return nil, errors.Wrap(err, "data %v", d.Name)
			}
		}
	}

	for _, r := range lay.Funcs {
		err = p.compileFunc(ctx, r)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", r.Func.Name)
		}
	}

	err = p.resolveLabels()
	if err != nil {
		return nil, err
	}

	tr.Printw("module compiled", "text", len(p.Text.Data), "data", len(p.Data.Data), "bss", p.Bss.Size, "symbols", len(p.Symbols), "relocs", len(p.Text.Relocs))

	return p.Module, nil
}

func (p *pkgContext) moduleData(d ir.Data) error {
	switch d.Class {
	case ir.Extern:
		return nil
	case ir.Static:
		return p.define(d, d.Name, obj.Local)
	default:
		return p.define(d, d.Name, obj.Global)
	}
}

// define places data into .data or .bss and defines the symbol.
func (p *pkgContext) define(d ir.Data, name string, bind obj.Bind) error {
	if d.Size <= 0 || len(d.Init) > d.Size {
		return errors.New("bad size %d (init %d)", d.Size, len(d.Init))
	}

	w := int64(p.Mode.Word())

	sym := obj.Symbol{
		Name: name,
		Size: int64(d.Size),
		Bind: bind,
		Type: obj.Object,
	}

	if len(d.Init) == 0 {
		sym.Seg = obj.Bss
		sym.Offset = alignUp(p.Bss.Size, w)
		p.Bss.Size = sym.Offset + int64(d.Size)
	} else {
		sym.Seg = obj.Data

		for int64(len(p.Data.Data))%w != 0 {
			p.Data.Data = append(p.Data.Data, 0)
		}

		sym.Offset = int64(len(p.Data.Data))
		p.Data.Data = append(p.Data.Data, d.Init...)

		for i := len(d.Init); i < d.Size; i++ {
			p.Data.Data = append(p.Data.Data, 0)
		}
	}

	p.Symbols.Add(sym)

	return nil
}

func (p *pkgContext) compileFunc(ctx context.Context, r ir.Range) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile func", "name", r.Func.Name, "args", len(r.Func.Args))
	defer tr.Finish("err", &err)

	code := p.l[r.Start:r.End]
	last := ir.LastUse(code)

	if tr.If("dump_last_use") {
		tr.Printw("last use", "temps", last)
	}

	f := &funContext{
		pkgContext: p,
		Func:       r.Func,
		alloc:      NewAlloc(p.Mode),
		loops:      make([]ir.Loop, 0, MaxLoopDepth),
		statics:    map[string]string{},
		exit:       r.Func.Name + ".exit",
	}

	f.alloc.Reset(last)

	bind := obj.Global
	if f.Static {
		bind = obj.Local
	}

	fsym := p.Symbols.Add(obj.Symbol{
		Name: f.Name,
		Seg:  obj.Code,
		Bind: bind,
		Type: obj.Function,
	})

	err = f.prologue()
	if err != nil {
		return errors.Wrap(err, "prologue")
	}

	for i := 1; i < len(code); i++ {
		f.alloc.Expire(i)

		err = f.entry(ctx, i, code[i])
		if err != nil {
			return errors.Wrap(err, "entry %d (%T)", r.Start+i, code[i])
		}
	}

	if len(f.loops) != 0 {
		return errors.New("unclosed loop %v", f.loops[len(f.loops)-1].Break)
	}

	err = f.epilogue()
	if err != nil {
		return errors.Wrap(err, "epilogue")
	}

	p.Symbols[fsym].Offset = f.start
	p.Symbols[fsym].Size = int64(len(p.Text.Data)) - f.start

	tr.Printw("func compiled", "size", p.Symbols[fsym].Size, "frame", f.alloc.Frame(), "locals", f.alloc.LocalBytes(), "locals_reserved", f.alloc.LocalReserved(), "spilled", f.alloc.Spilled())

	return nil
}

func (f *funContext) prologue() (err error) {
	f.start = int64(len(f.Text.Data))

	f.label(f.Name)

	err = f.emits(
		asm.Instr{Op: asm.PUSH, Dst: asm.R(asm.BP)},
		asm.Instr{Op: asm.MOV, Dst: asm.R(asm.BP), Src: asm.R(asm.SP)},
		// imm32 form so the frame size can be patched later
		asm.Instr{Op: asm.SUB, Dst: asm.R(asm.SP), Src: asm.Imm(math.MaxInt32)},
	)
	if err != nil {
		return err
	}

	f.frameAt = int64(len(f.Text.Data)) - 4
	f.frameLine = len(f.c.Lines) - 1

	for i, a := range f.Args {
		f.alloc.DeclareArg(a.Name, a.Size, i)
	}

	return nil
}

func (f *funContext) epilogue() (err error) {
	err = f.defineLabel(f.exit)
	if err != nil {
		return err
	}

	err = f.emits(
		asm.Instr{Op: asm.MOV, Dst: asm.R(asm.SP), Src: asm.R(asm.BP)},
		asm.Instr{Op: asm.POP, Dst: asm.R(asm.BP)},
		asm.Instr{Op: asm.RET},
	)
	if err != nil {
		return err
	}

	frame := alignUp(int64(f.alloc.Frame()), 16)

	binary.LittleEndian.PutUint32(f.Text.Data[f.frameAt:], uint32(frame))

	if f.c.Capture {
		l := &f.c.Lines[f.frameLine]

		l.Instr.Src = asm.Imm(frame)
		l.Bytes = append(l.Bytes[:0], f.Text.Data[l.Off:l.Off+int64(len(l.Bytes))]...)
	}

	return nil
}

func (f *funContext) entry(ctx context.Context, i int, x ir.Entry) (err error) {
	switch x := x.(type) {
	case ir.Comment:
		if f.c.Capture {
			f.c.Lines = append(f.c.Lines, Line{Func: f.Name, Off: int64(len(f.Text.Data)), Comment: x.Text})
		}

		return nil
	case ir.Label:
		return f.defineLabel(x.Name)
	case ir.Data:
		return f.localData(i, x)
	case ir.Code:
		return f.code(i, x)
	case ir.Call:
		return f.call(i, x)
	case ir.CondJump:
		return f.condJump(i, x)
	case ir.Jump:
		return f.jump(x.Label)
	case ir.Return:
		if !x.Value.IsNone() {
			err = f.load(i, asm.AX, x.Value)
			if err != nil {
				return err
			}
		}

		return f.jump(f.exit)
	case ir.Loop:
		if len(f.loops) == cap(f.loops) {
			return errors.Wrap(ErrCapacity, "loop depth %d", len(f.loops))
		}

		f.loops = append(f.loops, x)

		return nil
	case ir.EndLoop:
		if len(f.loops) == 0 {
			return errors.New("end of loop outside of a loop")
		}

		f.loops = f.loops[:len(f.loops)-1]

		return nil
	case ir.Break:
		if len(f.loops) == 0 {
			return errors.New("break outside of a loop")
		}

		return f.jump(f.loops[len(f.loops)-1].Break)
	case ir.Continue:
		if len(f.loops) == 0 {
			return errors.New("continue outside of a loop")
		}

		return f.jump(f.loops[len(f.loops)-1].Continue)
	default:
		return errors.New("unsupported entry: %T", x)
	}
}

func (f *funContext) localData(i int, d ir.Data) error {
	switch d.Class {
	case ir.Static:
		name := f.Name + "." + d.Name
		f.statics[d.Name] = name

		if _, ok := f.labels[name]; ok {
			return errors.New("static %v: name is taken by a label", name)
		}

		return f.define(d, name, obj.Local)
	case ir.Auto:
	case ir.Global, ir.Extern:
		return nil // module level
	default:
		return errors.New("%v: unexpected class %v in function", d.Name, d.Class)
	}

	if len(d.Init) > d.Size {
		return errors.New("%v: init is bigger than size", d.Name)
	}

	s, err := f.alloc.DeclareLocal(d.Name, d.Size)
	if err != nil {
		return err
	}

	tlog.V("alloc").Printw("local", "name", d.Name, "size", d.Size, "storage", s, "from", loc.Caller(1))

	if len(d.Init) == 0 {
		return nil
	}

	// the rest of an initialized local is zeroed
	init := make([]byte, alignUp(int64(d.Size), 4))
	copy(init, d.Init)

	for off := 0; off < len(init); off += 4 {
		v := int64(int32(binary.LittleEndian.Uint32(init[off:])))

		err = f.emit(asm.Instr{Op: asm.MOV, Size: 4, Dst: asm.Mem(asm.BP, s.Off+int32(off)), Src: asm.Imm(v)})
		if err != nil {
			return err
		}
	}

	return nil
}

func (f *funContext) code(i int, x ir.Code) (err error) {
	if !x.Op.Valid() {
		return errors.New("bad op: %q", x.Op)
	}

	switch x.Op {
	case ir.Store:
		return f.store(i, x)
	case ir.Addr:
		err = f.addr(i, x.Op1)
	case ir.Load:
		err = f.load(i, asm.AX, x.Op1)
		if err == nil {
			err = f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Mem(asm.AX, 0)})
		}
	case ir.Div, ir.Rem:
		err = f.div(i, x)
	case ir.Shl, ir.Shr:
		err = f.shift(i, x)
	default:
		err = f.arith(i, x)
	}

	if err != nil {
		return err
	}

	return f.storeAX(i, x.Dest)
}

func (f *funContext) arith(i int, x ir.Code) (err error) {
	err = f.load(i, asm.AX, x.Op1)
	if err != nil {
		return err
	}

	ax := asm.R(asm.AX)

	switch x.Op {
	case ir.Copy:
		return nil
	case ir.Neg:
		return f.emit(asm.Instr{Op: asm.NEG, Dst: ax})
	case ir.Not:
		return f.emit(asm.Instr{Op: asm.NOT, Dst: ax})
	case ir.LNot:
		return f.emits(
			asm.Instr{Op: asm.TEST, Dst: ax, Src: ax},
			asm.Instr{Op: asm.SETCC, Cond: asm.CondE, Dst: ax},
			asm.Instr{Op: asm.MOVZX, Size: 1, Dst: ax, Src: ax},
		)
	}

	if cc, ok := jcc[x.Op]; ok {
		err = f.source(i, x.Op2, func(op2 asm.Operand) error {
			return f.emit(asm.Instr{Op: asm.CMP, Dst: ax, Src: op2})
		})
		if err != nil {
			return err
		}

		return f.emits(
			asm.Instr{Op: asm.SETCC, Cond: cc, Dst: ax},
			asm.Instr{Op: asm.MOVZX, Size: 1, Dst: ax, Src: ax},
		)
	}

	var op asm.Op

	switch x.Op {
	case ir.Add:
		op = asm.ADD
	case ir.Sub:
		op = asm.SUB
	case ir.Mul:
		op = asm.IMUL
	case ir.And:
		op = asm.AND
	case ir.Or:
		op = asm.OR
	case ir.Xor:
		op = asm.XOR
	default:
		return errors.New("unsupported op: %q", x.Op)
	}

	return f.source(i, x.Op2, func(op2 asm.Operand) error {
		return f.emit(asm.Instr{Op: op, Dst: ax, Src: op2})
	})
}

// source passes the operand of v to use.
// An immediate which does not fit a sign-extended imm32 goes through cx,
// saved in a scratch slot around use. use must not emit branches.
func (f *funContext) source(i int, v ir.Value, use func(src asm.Operand) error) (err error) {
	if !v.IsImm() || f.Mode != asm.Mode64 || v.Imm >= math.MinInt32 && v.Imm <= math.MaxInt32 {
		src, err := f.operand(i, v)
		if err != nil {
			return err
		}

		return use(src)
	}

	saved, err := f.alloc.Scratch(1)
	if err != nil {
		return err
	}

	err = f.emits(
		asm.Instr{Op: asm.MOV, Dst: saved.Operand(), Src: asm.R(asm.CX)},
		asm.Instr{Op: asm.MOV, Dst: asm.R(asm.CX), Src: asm.Imm(v.Imm)},
	)
	if err != nil {
		return err
	}

	err = use(asm.R(asm.CX))
	if err != nil {
		return err
	}

	return f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(asm.CX), Src: saved.Operand()})
}

// div computes op1 / op2 or op1 % op2 into the accumulator.
// dx is saved into a scratch slot and the divisor is passed through another one.
func (f *funContext) div(i int, x ir.Code) (err error) {
	divisor, err := f.alloc.Scratch(0)
	if err != nil {
		return err
	}

	saved, err := f.alloc.Scratch(1)
	if err != nil {
		return err
	}

	err = f.emit(asm.Instr{Op: asm.MOV, Dst: saved.Operand(), Src: asm.R(asm.DX)})
	if err != nil {
		return err
	}

	err = f.load(i, asm.AX, x.Op2)
	if err != nil {
		return err
	}

	err = f.emit(asm.Instr{Op: asm.MOV, Dst: divisor.Operand(), Src: asm.R(asm.AX)})
	if err != nil {
		return err
	}

	err = f.load(i, asm.AX, x.Op1)
	if err != nil {
		return err
	}

	err = f.emits(
		asm.Instr{Op: asm.CONV},
		asm.Instr{Op: asm.IDIV, Dst: divisor.Operand()},
	)
	if err != nil {
		return err
	}

	if x.Op == ir.Rem {
		err = f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.R(asm.DX)})
		if err != nil {
			return err
		}
	}

	return f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(asm.DX), Src: saved.Operand()})
}

func (f *funContext) shift(i int, x ir.Code) (err error) {
	op := asm.SHL
	if x.Op == ir.Shr {
		op = asm.SAR
	}

	err = f.load(i, asm.AX, x.Op1)
	if err != nil {
		return err
	}

	if x.Op2.IsImm() {
		return f.emit(asm.Instr{Op: op, Dst: asm.R(asm.AX), Src: asm.Imm(x.Op2.Imm & int64(8*f.Mode.Word()-1))})
	}

	saved, err := f.alloc.Scratch(1)
	if err != nil {
		return err
	}

	err = f.emit(asm.Instr{Op: asm.MOV, Dst: saved.Operand(), Src: asm.R(asm.CX)})
	if err != nil {
		return err
	}

	err = f.load(i, asm.CX, x.Op2)
	if err != nil {
		return err
	}

	return f.emits(
		asm.Instr{Op: op, Dst: asm.R(asm.AX), Src: asm.R(asm.CX)},
		asm.Instr{Op: asm.MOV, Dst: asm.R(asm.CX), Src: saved.Operand()},
	)
}

// store writes op1 to the address held by dest.
func (f *funContext) store(i int, x ir.Code) (err error) {
	saved, err := f.alloc.Scratch(1)
	if err != nil {
		return err
	}

	err = f.load(i, asm.AX, x.Op1)
	if err != nil {
		return err
	}

	err = f.emit(asm.Instr{Op: asm.MOV, Dst: saved.Operand(), Src: asm.R(asm.CX)})
	if err != nil {
		return err
	}

	err = f.load(i, asm.CX, x.Dest)
	if err != nil {
		return err
	}

	return f.emits(
		asm.Instr{Op: asm.MOV, Dst: asm.Mem(asm.CX, 0), Src: asm.R(asm.AX)},
		asm.Instr{Op: asm.MOV, Dst: asm.R(asm.CX), Src: saved.Operand()},
	)
}

func (f *funContext) addr(i int, v ir.Value) error {
	if !v.IsSym() {
		return errors.New("address of %v", v)
	}

	if s, ok := f.alloc.ResolveNamed(v.Name); ok {
		return f.emit(asm.Instr{Op: asm.LEA, Dst: asm.R(asm.AX), Src: asm.Mem(asm.BP, s.Off)})
	}

	return f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Addr(f.symName(v.Name))})
}

func (f *funContext) call(i int, x ir.Call) (err error) {
	saved := f.alloc.Used()

	for _, r := range saved {
		err = f.emit(asm.Instr{Op: asm.PUSH, Dst: asm.R(r)})
		if err != nil {
			return err
		}
	}

	for j := len(x.Args) - 1; j >= 0; j-- {
		a := x.Args[j]

		if a.IsImm() && a.Imm >= math.MinInt32 && a.Imm <= math.MaxInt32 {
			err = f.emit(asm.Instr{Op: asm.PUSH, Dst: asm.Imm(a.Imm)})
		} else {
			err = f.load(i, asm.AX, a)
			if err == nil {
				err = f.emit(asm.Instr{Op: asm.PUSH, Dst: asm.R(asm.AX)})
			}
		}

		if err != nil {
			return errors.Wrap(err, "arg %d", j)
		}
	}

	switch t := x.Target; {
	case t.IsSym():
		if _, ok := f.alloc.ResolveNamed(t.Name); ok {
			err = f.load(i, asm.AX, t)
		} else {
			err = f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(asm.AX), Src: asm.Addr(f.symName(t.Name))})
		}
	case t.IsTemp():
		err = f.load(i, asm.AX, t)
	default:
		err = errors.New("bad call target: %v", t)
	}

	if err != nil {
		return err
	}

	err = f.emit(asm.Instr{Op: asm.CALL, Dst: asm.R(asm.AX)})
	if err != nil {
		return err
	}

	if n := len(x.Args); n != 0 {
		err = f.emit(asm.Instr{Op: asm.ADD, Dst: asm.R(asm.SP), Src: asm.Imm(int64(n * f.Mode.Word()))})
		if err != nil {
			return err
		}
	}

	for j := len(saved) - 1; j >= 0; j-- {
		err = f.emit(asm.Instr{Op: asm.POP, Dst: asm.R(saved[j])})
		if err != nil {
			return err
		}
	}

	if x.Dest.IsNone() {
		return nil
	}

	return f.storeAX(i, x.Dest)
}

func (f *funContext) condJump(i int, x ir.CondJump) (err error) {
	cc, ok := jcc[ir.Op(x.Cmp)]
	if !ok {
		return errors.New("bad comparison: %q", x.Cmp)
	}

	err = f.load(i, asm.AX, x.L)
	if err != nil {
		return err
	}

	err = f.source(i, x.R, func(r asm.Operand) error {
		return f.emit(asm.Instr{Op: asm.CMP, Dst: asm.R(asm.AX), Src: r})
	})
	if err != nil {
		return err
	}

	return f.emit(asm.Instr{Op: asm.JCC, Cond: cc, Dst: asm.Rel(x.Label)})
}

func (f *funContext) jump(label string) error {
	if label == "" {
		return errors.New("empty jump target")
	}

	return f.emit(asm.Instr{Op: asm.JMP, Dst: asm.Rel(label)})
}

// load moves v into reg.
func (f *funContext) load(i int, reg asm.Reg, v ir.Value) error {
	o, err := f.operand(i, v)
	if err != nil {
		return err
	}

	if o.Kind == asm.KindReg && o.Reg == reg {
		return nil
	}

	return f.emit(asm.Instr{Op: asm.MOV, Dst: asm.R(reg), Src: o})
}

func (f *funContext) storeAX(i int, dst ir.Value) error {
	o, err := f.operand(i, dst)
	if err != nil {
		return errors.Wrap(err, "dest")
	}

	if o.Kind == asm.KindImm {
		return errors.New("immediate destination: %v", dst)
	}

	return f.emit(asm.Instr{Op: asm.MOV, Dst: o, Src: asm.R(asm.AX)})
}

// operand returns where v is stored.
func (f *funContext) operand(i int, v ir.Value) (asm.Operand, error) {
	switch v.Kind {
	case ir.KindImm:
		return asm.Imm(v.Imm), nil
	case ir.KindTemp:
		s, err := f.alloc.AcquireTemp(v.Temp, i)
		if err != nil {
			return asm.Operand{}, err
		}

		return s.Operand(), nil
	case ir.KindSym:
		if s, ok := f.alloc.ResolveNamed(v.Name); ok {
			return s.Operand(), nil
		}

		return asm.Sym(f.symName(v.Name)), nil
	}

	return asm.Operand{}, errors.New("missing value")
}

func (f *funContext) symName(name string) string {
	if s, ok := f.statics[name]; ok {
		return s
	}

	return name
}

// defineLabel records a branch target.
// Labels get a local code symbol only while the name is free,
// so a static named like the epilogue keeps its symbol.
func (f *funContext) defineLabel(name string) error {
	if _, ok := f.labels[name]; ok {
		return errors.New("label redefined: %v", name)
	}

	off := int64(len(f.Text.Data))
	f.labels[name] = off

	if _, ok := f.Symbols.Find(name); !ok {
		f.Symbols.Add(obj.Symbol{
			Name:   name,
			Seg:    obj.Code,
			Offset: off,
			Bind:   obj.Local,
			Type:   obj.NoType,
		})
	}

	f.label(name)

	return nil
}

func (f *funContext) label(name string) {
	if f.c.Capture {
		f.c.Lines = append(f.c.Lines, Line{Func: f.Name, Off: int64(len(f.Text.Data)), Label: name})
	}
}

func (f *funContext) emits(xs ...asm.Instr) error {
	for _, x := range xs {
		err := f.emit(x)
		if err != nil {
			return err
		}
	}

	return nil
}

func (f *funContext) emit(x asm.Instr) error {
	off := len(f.Text.Data)

	err := f.enc.Encode(f.Text, x)
	if err != nil {
		return err
	}

	if f.c.Capture {
		f.c.Lines = append(f.c.Lines, Line{
			Func:  f.Name,
			Off:   int64(off),
			Bytes: append([]byte{}, f.Text.Data[off:]...),
			Instr: x,
		})
	}

	return nil
}

// resolveLabels patches branches to labels defined in the module.
// Only references to other symbols are left for the linker.
func (p *pkgContext) resolveLabels() error {
	var keep obj.Relocs

	for _, r := range p.Text.Relocs {
		if r.Kind != obj.RelativeWord {
			keep = append(keep, r)
			continue
		}

		off, ok := p.labels[r.Sym]
		if !ok {
			off, ok = p.codeSymbol(r.Sym)
		}
		if !ok {
			return errors.Wrap(obj.ErrUnresolved, "label %v", r.Sym)
		}

		err := r.Apply(p.Text.Data, 0, func(string) (uint64, bool) {
			return uint64(off), true
		})
		if err != nil {
			return err
		}
	}

	p.Text.Relocs = keep

	return nil
}

func (p *pkgContext) codeSymbol(name string) (int64, bool) {
	for _, s := range p.Symbols {
		if s.Name == name && s.Seg == obj.Code {
			return s.Offset, true
		}
	}

	return 0, false
}

func alignUp(x, a int64) int64 {
	return (x + a - 1) / a * a
}
