package ir

import (
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	Kind  int
	Class int
	Op    string
	Cmp   string

	Value struct {
		Kind Kind
		Temp int
		Name string
		Imm  int64
	}

	Entry interface {
		Uses() []Value
	}

	Listing []Entry

	Param struct {
		Name string
		Size int
	}

	Func struct {
		Name    string
		Args    []Param
		RetSize int
		Static  bool
	}

	Label struct {
		Name string
	}

	Data struct {
		Name  string
		Size  int
		Init  []byte
		Class Class
	}

	Code struct {
		Dest Value
		Op1  Value
		Op   Op
		Op2  Value
	}

	Call struct {
		Dest   Value
		Target Value
		Args   []Value
	}

	CondJump struct {
		L     Value
		Cmp   Cmp
		R     Value
		Label string
	}

	Jump struct {
		Label string
	}

	Return struct {
		Value Value
	}

	Comment struct {
		Text string
	}

	// Loop opens a loop frame for Break and Continue.
	Loop struct {
		Continue string
		Break    string
	}

	EndLoop  struct{}
	Break    struct{}
	Continue struct{}
)

const (
	KindNone Kind = iota
	KindTemp
	KindSym
	KindImm
)

const (
	Auto Class = iota
	Static
	Global
	Extern
)

const (
	Copy  Op = "="
	Add   Op = "+"
	Sub   Op = "-"
	Mul   Op = "*"
	Div   Op = "/"
	Rem   Op = "%"
	And   Op = "&"
	Or    Op = "|"
	Xor   Op = "^"
	Shl   Op = "<<"
	Shr   Op = ">>"
	Eq    Op = "=="
	Ne    Op = "!="
	Lt    Op = "<"
	Le    Op = "<="
	Gt    Op = ">"
	Ge    Op = ">="
	Neg   Op = "neg"
	Not   Op = "not"
	LNot  Op = "!"
	Addr  Op = "addr"
	Load  Op = "load"
	Store Op = "store"
)

var None Value

func Temp(id int) Value      { return Value{Kind: KindTemp, Temp: id} }
func Sym(name string) Value  { return Value{Kind: KindSym, Name: name} }
func Imm(x int64) Value      { return Value{Kind: KindImm, Imm: x} }
func (v Value) IsNone() bool { return v.Kind == KindNone }
func (v Value) IsTemp() bool { return v.Kind == KindTemp }
func (v Value) IsSym() bool  { return v.Kind == KindSym }
func (v Value) IsImm() bool  { return v.Kind == KindImm }

func (v Value) String() string {
	switch v.Kind {
	case KindTemp:
		return "%" + strconv.Itoa(v.Temp)
	case KindSym:
		return v.Name
	case KindImm:
		return strconv.FormatInt(v.Imm, 10)
	default:
		return "_"
	}
}

func (v Value) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if v.Kind == KindNone {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%v", v)
}

// ParseValue reads the textual form produced by Value.String.
// Empty string and "_" are None.
func ParseValue(s string) (Value, error) {
	switch {
	case s == "" || s == "_":
		return None, nil
	case s[0] == '%':
		id, err := strconv.Atoi(s[1:])
		if err != nil || id < 0 {
			return None, errors.New("bad temp register: %q", s)
		}

		return Temp(id), nil
	case s[0] == '-' || (s[0] >= '0' && s[0] <= '9'):
		x, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return None, errors.Wrap(err, "immediate %q", s)
		}

		return Imm(x), nil
	}

	for i, c := range s {
		if c == '_' || c == '.' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i != 0 && c >= '0' && c <= '9' {
			continue
		}

		return None, errors.New("bad symbol name: %q", s)
	}

	return Sym(s), nil
}

func (op Op) Unary() bool {
	switch op {
	case Copy, Neg, Not, LNot, Addr, Load:
		return true
	}

	return false
}

func (op Op) Compare() bool {
	switch op {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	}

	return false
}

func (op Op) Valid() bool {
	switch op {
	case Copy, Add, Sub, Mul, Div, Rem, And, Or, Xor, Shl, Shr,
		Eq, Ne, Lt, Le, Gt, Ge, Neg, Not, LNot, Addr, Load, Store:
		return true
	}

	return false
}

func (c Cmp) Valid() bool { return Op(c).Compare() }

func (x Func) Uses() []Value     { return nil }
func (x Label) Uses() []Value    { return nil }
func (x Data) Uses() []Value     { return nil }
func (x Jump) Uses() []Value     { return nil }
func (x Comment) Uses() []Value  { return nil }
func (x Loop) Uses() []Value     { return nil }
func (x EndLoop) Uses() []Value  { return nil }
func (x Break) Uses() []Value    { return nil }
func (x Continue) Uses() []Value { return nil }

func (x Code) Uses() []Value     { return values(x.Dest, x.Op1, x.Op2) }
func (x CondJump) Uses() []Value { return values(x.L, x.R) }
func (x Return) Uses() []Value   { return values(x.Value) }

func (x Call) Uses() []Value {
	l := values(x.Dest, x.Target)

	for _, a := range x.Args {
		l = values2(l, a)
	}

	return l
}

func values(vs ...Value) []Value {
	var l []Value

	for _, v := range vs {
		l = values2(l, v)
	}

	return l
}

func values2(l []Value, v Value) []Value {
	if v.Kind == KindNone {
		return l
	}

	return append(l, v)
}
