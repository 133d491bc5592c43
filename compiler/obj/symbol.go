package obj

import (
	"tlog.app/go/tlog/tlwire"
)

type (
	Seg  int
	Bind int
	Type int

	Symbol struct {
		Name   string
		Seg    Seg
		Offset int64
		Size   int64
		Bind   Bind
		Type   Type
	}

	// Symbols is an append-only symbol table.
	// Duplicate names are allowed, Find returns the first one.
	Symbols []Symbol
)

const (
	Undef Seg = iota
	Code
	Data
	Bss
	Absolute
)

const (
	Local Bind = iota
	Global
)

const (
	NoType Type = iota
	Object
	Function
)

func (s *Symbols) Add(sym Symbol) int {
	*s = append(*s, sym)

	return len(*s) - 1
}

func (s Symbols) Find(name string) (int, bool) {
	for i, sym := range s {
		if sym.Name == name {
			return i, true
		}
	}

	return -1, false
}

// Lookup returns the first defined symbol with the name.
// Local symbols are found before global ones.
func (s Symbols) Lookup(name string) (Symbol, bool) {
	var glob *Symbol

	for i := range s {
		sym := &s[i]

		if sym.Name != name || sym.Seg == Undef {
			continue
		}

		if sym.Bind == Local {
			return *sym, true
		}

		if glob == nil {
			glob = sym
		}
	}

	if glob == nil {
		return Symbol{}, false
	}

	return *glob, true
}

func (s Seg) String() string {
	switch s {
	case Undef:
		return "undef"
	case Code:
		return "code"
	case Data:
		return "data"
	case Bss:
		return "bss"
	case Absolute:
		return "abs"
	default:
		return "seg?"
	}
}

func (b Bind) String() string {
	if b == Global {
		return "global"
	}

	return "local"
}

func (t Type) String() string {
	switch t {
	case Object:
		return "object"
	case Function:
		return "func"
	default:
		return "notype"
	}
}

func (s Symbol) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)
	b = e.AppendKey(b, "name")
	b = e.AppendString(b, s.Name)
	b = e.AppendKey(b, "seg")
	b = e.AppendString(b, s.Seg.String())
	b = e.AppendKeyInt64(b, "off", s.Offset)
	b = e.AppendKey(b, "bind")
	b = e.AppendString(b, s.Bind.String())

	return b
}
