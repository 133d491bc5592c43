package obj

import (
	"encoding/binary"

	"fortio.org/safecast"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	RelocKind int

	// Reloc is a 4-byte patch at Pos of the section it belongs to.
	//
	// Absolute writes S+A, Relative writes S+A-P
	// where P is the address of the patched word.
	// AbsoluteSigned is read sign-extended by the cpu
	// so S+A must fit int32.
	Reloc struct {
		Pos    int64
		Sym    string
		Kind   RelocKind
		Addend int64
	}

	Relocs []Reloc

	Bases struct {
		Code uint64
		Data uint64
		Bss  uint64
	}

	// ResolveFunc returns the final address of a symbol.
	ResolveFunc func(name string) (addr uint64, ok bool)
)

const (
	AbsoluteWord RelocKind = iota
	RelativeWord
	AbsoluteSigned
)

var (
	ErrUnresolved = errors.New("unresolved symbol")
	ErrOutOfRange = errors.New("relocation out of range")
)

func (rs *Relocs) Add(r Reloc) {
	*rs = append(*rs, r)
}

func (b Bases) Addr(s Symbol) uint64 {
	switch s.Seg {
	case Code:
		return b.Code + uint64(s.Offset)
	case Data:
		return b.Data + uint64(s.Offset)
	case Bss:
		return b.Bss + uint64(s.Offset)
	default:
		return uint64(s.Offset)
	}
}

// Backfill resolves every relocation against syms and writes final values into buf.
// at is the address buf is loaded at.
func (rs Relocs) Backfill(buf []byte, at uint64, syms Symbols, bases Bases) error {
	return rs.Resolve(buf, at, func(name string) (uint64, bool) {
		s, ok := syms.Lookup(name)
		if !ok {
			return 0, false
		}

		return bases.Addr(s), true
	})
}

func (rs Relocs) Resolve(buf []byte, at uint64, resolve ResolveFunc) error {
	for _, r := range rs {
		err := r.Apply(buf, at, resolve)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r Reloc) Apply(buf []byte, at uint64, resolve ResolveFunc) error {
	if r.Pos < 0 || r.Pos+4 > int64(len(buf)) {
		return errors.Wrap(ErrOutOfRange, "reloc %v at %#x: buffer size %#x", r.Sym, r.Pos, len(buf))
	}

	addr, ok := resolve(r.Sym)
	if !ok {
		return errors.Wrap(ErrUnresolved, "%v (reloc at %#x)", r.Sym, r.Pos)
	}

	p := buf[r.Pos : r.Pos+4]

	switch r.Kind {
	case AbsoluteWord:
		x, err := safecast.Conv[uint32](int64(addr) + r.Addend)
		if err != nil {
			return errors.Wrap(ErrOutOfRange, "reloc %v at %#x: address %#x", r.Sym, r.Pos, addr)
		}

		binary.LittleEndian.PutUint32(p, x)
	case AbsoluteSigned:
		x, err := safecast.Conv[int32](int64(addr) + r.Addend)
		if err != nil {
			return errors.Wrap(ErrOutOfRange, "reloc %v at %#x: address %#x is not sign-extendable", r.Sym, r.Pos, addr)
		}

		binary.LittleEndian.PutUint32(p, uint32(x))
	case RelativeWord:
		x, err := safecast.Conv[int32](int64(addr) + r.Addend - int64(at) - r.Pos)
		if err != nil {
			return errors.Wrap(ErrOutOfRange, "reloc %v at %#x: distance to %#x", r.Sym, r.Pos, addr)
		}

		binary.LittleEndian.PutUint32(p, uint32(x))
	default:
		return errors.New("reloc %v at %#x: unknown kind %d", r.Sym, r.Pos, r.Kind)
	}

	return nil
}

func (k RelocKind) String() string {
	switch k {
	case RelativeWord:
		return "rel32"
	case AbsoluteSigned:
		return "abs32s"
	}

	return "abs32"
}

func (r Reloc) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)
	b = e.AppendKeyInt64(b, "pos", r.Pos)
	b = e.AppendKey(b, "sym")
	b = e.AppendString(b, r.Sym)
	b = e.AppendKey(b, "kind")
	b = e.AppendString(b, r.Kind.String())
	b = e.AppendKeyInt64(b, "add", r.Addend)

	return b
}
