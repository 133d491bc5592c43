package back

import (
	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/xcc/compiler/asm"
	"github.com/slowlang/xcc/compiler/set"
)

type (
	StorageKind int

	// Storage is where a value lives while its function is being assembled.
	// Off is relative to the frame pointer.
	Storage struct {
		Kind StorageKind
		Reg  asm.Reg
		Off  int32
		Size int
	}

	Decl struct {
		Name string
		Storage
	}

	// Alloc maps temps, arguments and locals of one function
	// to registers and stack slots.
	Alloc struct {
		mode asm.Mode
		pool []asm.Reg

		free  set.Bits[int] // pool indexes available
		temps map[int]Storage
		named map[string]Storage
		decls []Decl

		last map[int]int
		live heap.Heap[liveTemp]

		frame   int32 // bytes reserved below frame pointer
		locals  int64 // declared local bytes
		fill    int64 // word rounding of locals
		spilled int

		scratch []Storage
	}

	liveTemp struct {
		id   int
		last int
	}
)

const (
	InReg StorageKind = iota
	OnStack
)

var (
	pool32 = []asm.Reg{asm.BX, asm.CX, asm.DX, asm.SI, asm.DI}
	pool64 = []asm.Reg{asm.BX, asm.CX, asm.DX, asm.SI, asm.DI, asm.R8, asm.R9, asm.R10, asm.R11, asm.R12, asm.R13, asm.R14, asm.R15}
)

func NewAlloc(m asm.Mode) *Alloc {
	a := &Alloc{mode: m, free: set.MakeBits[int]()}

	a.Reset(nil)

	return a
}

// Reset prepares the allocator for the next function.
// last maps temps to their last use index.
func (a *Alloc) Reset(last map[int]int) {
	a.pool = pool32
	if a.mode == asm.Mode64 {
		a.pool = pool64
	}

	a.free.Reset()

	for i := range a.pool {
		a.free.Set(i)
	}

	a.temps = map[int]Storage{}
	a.named = map[string]Storage{}
	a.decls = a.decls[:0]
	a.last = last
	a.live = heap.Heap[liveTemp]{Less: liveLess}
	a.frame = 0
	a.locals = 0
	a.fill = 0
	a.spilled = 0
	a.scratch = a.scratch[:0]
}

// Declare records a named value at a fixed frame offset.
// Arguments have positive offsets, locals negative.
func (a *Alloc) Declare(name string, size int, off int32) Storage {
	s := Storage{Kind: OnStack, Off: off, Size: size}

	a.named[name] = s
	a.decls = append(a.decls, Decl{Name: name, Storage: s})

	return s
}

// DeclareArg declares i-th argument, which is above saved frame pointer and return address.
func (a *Alloc) DeclareArg(name string, size, i int) Storage {
	w := a.mode.Word()

	return a.Declare(name, size, int32(2*w+i*w))
}

// DeclareLocal reserves a frame slot for a local variable.
func (a *Alloc) DeclareLocal(name string, size int) (Storage, error) {
	if size <= 0 {
		return Storage{}, errors.New("local %v: bad size %d", name, size)
	}

	before := a.frame

	off, err := a.grow(size)
	if err != nil {
		return Storage{}, errors.Wrap(err, "local %v", name)
	}

	a.locals += int64(size)
	a.fill += int64(a.frame-before) - int64(size)

	return a.Declare(name, size, off), nil
}

// ResolveNamed finds an argument or a local.
// Miss means the name is a module level symbol.
func (a *Alloc) ResolveNamed(name string) (Storage, bool) {
	s, ok := a.named[name]

	return s, ok
}

// AcquireTemp returns the temp storage, assigning it on the first reference at entry index at.
func (a *Alloc) AcquireTemp(id, at int) (s Storage, err error) {
	if s, ok := a.temps[id]; ok {
		return s, nil
	}

	a.Expire(at)

	w := a.mode.Word()

	a.free.Range(func(i int) bool {
		s = Storage{Kind: InReg, Reg: a.pool[i], Size: w}
		a.free.Clear(i)

		return false
	})

	if s.Size == 0 {
		off, err := a.grow(w)
		if err != nil {
			return Storage{}, errors.Wrap(err, "spill %%%d", id)
		}

		s = Storage{Kind: OnStack, Off: off, Size: w}
		a.spilled++

		tlog.V("alloc").Printw("spill", "temp", id, "off", off, "at", at)
	}

	a.temps[id] = s

	if l, ok := a.last[id]; ok {
		a.live.Push(liveTemp{id: id, last: l})
	}

	tlog.V("alloc").Printw("acquire", "temp", id, "storage", s, "at", at, "free", a.free.Size())

	return s, nil
}

// Temp returns the temp storage if it's assigned.
func (a *Alloc) Temp(id int) (Storage, bool) {
	s, ok := a.temps[id]

	return s, ok
}

// Release frees the temp's register. Stack slots are never reused.
func (a *Alloc) Release(id int) {
	s, ok := a.temps[id]
	if !ok {
		return
	}

	delete(a.temps, id)

	if s.Kind != InReg {
		return
	}

	for i, r := range a.pool {
		if r == s.Reg {
			a.free.Set(i)
			break
		}
	}

	tlog.V("alloc").Printw("release", "temp", id, "reg", s.Reg.Name(a.mode.Word()))
}

// Expire releases temps whose last use is before at.
func (a *Alloc) Expire(at int) {
	for a.live.Len() != 0 && a.live.Data[0].last < at {
		t := a.live.Pop()

		a.Release(t.id)
	}
}

// Used returns registers holding live temps in pool order.
func (a *Alloc) Used() []asm.Reg {
	var l []asm.Reg

	for i, r := range a.pool {
		if !a.free.IsSet(i) {
			l = append(l, r)
		}
	}

	return l
}

// Scratch returns i-th word sized helper slot, reserving it on the first request.
func (a *Alloc) Scratch(i int) (Storage, error) {
	for len(a.scratch) <= i {
		off, err := a.grow(a.mode.Word())
		if err != nil {
			return Storage{}, errors.Wrap(err, "scratch")
		}

		a.scratch = append(a.scratch, Storage{Kind: OnStack, Off: off, Size: a.mode.Word()})
	}

	return a.scratch[i], nil
}

// Frame is the number of bytes reserved below the frame pointer.
func (a *Alloc) Frame() int32 { return a.frame }

// LocalBytes is the sum of declared local sizes.
// Each local takes a whole number of words, see LocalReserved.
func (a *Alloc) LocalBytes() int64 { return a.locals }

// LocalReserved is the frame space taken by locals.
func (a *Alloc) LocalReserved() int64 { return a.locals + a.fill }

func (a *Alloc) Spilled() int { return a.spilled }

func (a *Alloc) Decls() []Decl { return a.decls }

func (a *Alloc) grow(size int) (int32, error) {
	w := int32(a.mode.Word())
	n := (int32(size) + w - 1) / w * w

	if n <= 0 || a.frame > 1<<30-n {
		return 0, errors.New("frame too big: %d + %d", a.frame, size)
	}

	a.frame += n

	return -a.frame, nil
}

func liveLess(d []liveTemp, i, j int) bool {
	return d[i].last < d[j].last
}

func (s Storage) Operand() asm.Operand {
	if s.Kind == InReg {
		return asm.R(s.Reg)
	}

	return asm.Mem(asm.BP, s.Off)
}

func (s Storage) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if s.Kind == InReg {
		return e.AppendFormat(b, "%s", s.Reg.Name(8))
	}

	return e.AppendFormat(b, "[fp%+d]", s.Off)
}
