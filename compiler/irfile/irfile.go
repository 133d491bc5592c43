package irfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/xcc/compiler/ir"
)

type (
	Format int

	// entry is the on-disk form of an ir.Entry.
	// Values are kept as text: %N is a temp, a number is an immediate,
	// anything else is a symbol.
	entry struct {
		Kind string `yaml:"kind" msgpack:"kind"`

		Name  string `yaml:"name,omitempty" msgpack:"name,omitempty"`
		Label string `yaml:"label,omitempty" msgpack:"label,omitempty"`
		Text  string `yaml:"text,omitempty" msgpack:"text,omitempty"`

		Dest   string   `yaml:"dest,omitempty" msgpack:"dest,omitempty"`
		Op1    string   `yaml:"op1,omitempty" msgpack:"op1,omitempty"`
		Op     string   `yaml:"op,omitempty" msgpack:"op,omitempty"`
		Op2    string   `yaml:"op2,omitempty" msgpack:"op2,omitempty"`
		Cmp    string   `yaml:"cmp,omitempty" msgpack:"cmp,omitempty"`
		Target string   `yaml:"target,omitempty" msgpack:"target,omitempty"`
		Args   []string `yaml:"args,omitempty" msgpack:"args,omitempty"`

		Params []param `yaml:"params,omitempty" msgpack:"params,omitempty"`
		Ret    int     `yaml:"ret,omitempty" msgpack:"ret,omitempty"`
		Static bool    `yaml:"static,omitempty" msgpack:"static,omitempty"`

		Size  int    `yaml:"size,omitempty" msgpack:"size,omitempty"`
		Init  []byte `yaml:"init,omitempty" msgpack:"init,omitempty"`
		Class string `yaml:"class,omitempty" msgpack:"class,omitempty"`

		Continue string `yaml:"continue,omitempty" msgpack:"continue,omitempty"`
		Break    string `yaml:"break,omitempty" msgpack:"break,omitempty"`
	}

	param struct {
		Name string `yaml:"name" msgpack:"name"`
		Size int    `yaml:"size" msgpack:"size"`
	}
)

const (
	YAML Format = iota
	Msgpack
)

var classes = []string{
	ir.Auto:   "auto",
	ir.Static: "static",
	ir.Global: "global",
	ir.Extern: "extern",
}

// FormatOf picks the listing format by file extension.
func FormatOf(name string) (Format, error) {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".irp":
		return Msgpack, nil
	default:
		return 0, errors.New("unsupported listing extension: %q", filepath.Ext(name))
	}
}

// ReadFile reads a listing file in the format its extension names.
func ReadFile(ctx context.Context, name string) (l ir.Listing, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "irfile: read", "name", name)
	defer tr.Finish("err", &err)

	f, err := FormatOf(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	l, err = Decode(data, f)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	tr.Printw("listing read", "entries", len(l))

	return l, nil
}

// WriteFile writes a listing in the format its extension names.
func WriteFile(ctx context.Context, name string, l ir.Listing) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "irfile: write", "name", name, "entries", len(l))
	defer tr.Finish("err", &err)

	f, err := FormatOf(name)
	if err != nil {
		return err
	}

	data, err := Encode(l, f)
	if err != nil {
		return err
	}

	return os.WriteFile(name, data, 0o644)
}

func Decode(data []byte, f Format) (l ir.Listing, err error) {
	var es []entry

	switch f {
	case YAML:
		d := yaml.NewDecoder(bytes.NewReader(data))
		d.KnownFields(true)

		err = d.Decode(&es)
	case Msgpack:
		err = msgpack.Unmarshal(data, &es)
	default:
		return nil, errors.New("bad format: %d", f)
	}

	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	for i, e := range es {
		x, err := e.entry()
		if err != nil {
			return nil, errors.Wrap(err, "entry %d (%v)", i, e.Kind)
		}

		l = append(l, x)
	}

	return l, nil
}

func Encode(l ir.Listing, f Format) ([]byte, error) {
	es := make([]entry, 0, len(l))

	for i, x := range l {
		e, err := fromEntry(x)
		if err != nil {
			return nil, errors.Wrap(err, "entry %d", i)
		}

		es = append(es, e)
	}

	switch f {
	case YAML:
		return yaml.Marshal(es)
	case Msgpack:
		return msgpack.Marshal(es)
	default:
		return nil, errors.New("bad format: %d", f)
	}
}

func (e entry) entry() (x ir.Entry, err error) {
	switch e.Kind {
	case "func":
		f := ir.Func{Name: e.Name, RetSize: e.Ret, Static: e.Static}

		for _, p := range e.Params {
			f.Args = append(f.Args, ir.Param{Name: p.Name, Size: p.Size})
		}

		return f, nil
	case "label":
		return ir.Label{Name: e.Name}, nil
	case "data":
		c, err := parseClass(e.Class)
		if err != nil {
			return nil, err
		}

		return ir.Data{Name: e.Name, Size: e.Size, Init: e.Init, Class: c}, nil
	case "code":
		var x ir.Code

		x.Op = ir.Op(e.Op)
		if x.Op == "" {
			x.Op = ir.Copy
		}

		if !x.Op.Valid() {
			return nil, errors.New("bad op: %q", e.Op)
		}

		x.Dest, x.Op1, x.Op2, err = values3(e.Dest, e.Op1, e.Op2)

		return x, err
	case "call":
		var x ir.Call

		x.Dest, x.Target, _, err = values3(e.Dest, e.Target, "")
		if err != nil {
			return nil, err
		}

		for _, a := range e.Args {
			v, err := ir.ParseValue(a)
			if err != nil {
				return nil, errors.Wrap(err, "arg")
			}

			x.Args = append(x.Args, v)
		}

		return x, nil
	case "jump":
		return ir.Jump{Label: e.Label}, nil
	case "cjump":
		x := ir.CondJump{Cmp: ir.Cmp(e.Cmp), Label: e.Label}

		if !x.Cmp.Valid() {
			return nil, errors.New("bad comparison: %q", e.Cmp)
		}

		x.L, x.R, _, err = values3(e.Op1, e.Op2, "")

		return x, err
	case "return":
		v, err := ir.ParseValue(e.Op1)

		return ir.Return{Value: v}, err
	case "comment":
		return ir.Comment{Text: e.Text}, nil
	case "loop":
		return ir.Loop{Continue: e.Continue, Break: e.Break}, nil
	case "endloop":
		return ir.EndLoop{}, nil
	case "break":
		return ir.Break{}, nil
	case "continue":
		return ir.Continue{}, nil
	default:
		return nil, errors.New("unknown kind: %q", e.Kind)
	}
}

func fromEntry(x ir.Entry) (e entry, err error) {
	switch x := x.(type) {
	case ir.Func:
		e = entry{Kind: "func", Name: x.Name, Ret: x.RetSize, Static: x.Static}

		for _, a := range x.Args {
			e.Params = append(e.Params, param{Name: a.Name, Size: a.Size})
		}
	case ir.Label:
		e = entry{Kind: "label", Name: x.Name}
	case ir.Data:
		if int(x.Class) >= len(classes) || x.Class < 0 {
			return e, errors.New("bad class: %d", x.Class)
		}

		e = entry{Kind: "data", Name: x.Name, Size: x.Size, Init: x.Init, Class: classes[x.Class]}
	case ir.Code:
		e = entry{Kind: "code", Dest: text(x.Dest), Op1: text(x.Op1), Op: string(x.Op), Op2: text(x.Op2)}
	case ir.Call:
		e = entry{Kind: "call", Dest: text(x.Dest), Target: text(x.Target)}

		for _, a := range x.Args {
			e.Args = append(e.Args, text(a))
		}
	case ir.Jump:
		e = entry{Kind: "jump", Label: x.Label}
	case ir.CondJump:
		e = entry{Kind: "cjump", Op1: text(x.L), Cmp: string(x.Cmp), Op2: text(x.R), Label: x.Label}
	case ir.Return:
		e = entry{Kind: "return", Op1: text(x.Value)}
	case ir.Comment:
		e = entry{Kind: "comment", Text: x.Text}
	case ir.Loop:
		e = entry{Kind: "loop", Continue: x.Continue, Break: x.Break}
	case ir.EndLoop:
		e = entry{Kind: "endloop"}
	case ir.Break:
		e = entry{Kind: "break"}
	case ir.Continue:
		e = entry{Kind: "continue"}
	default:
		return e, errors.New("unsupported entry: %T", x)
	}

	return e, nil
}

func values3(a, b, c string) (x, y, z ir.Value, err error) {
	x, err = ir.ParseValue(a)
	if err != nil {
		return
	}

	y, err = ir.ParseValue(b)
	if err != nil {
		return
	}

	z, err = ir.ParseValue(c)

	return
}

func text(v ir.Value) string {
	if v.IsNone() {
		return ""
	}

	return v.String()
}

func parseClass(s string) (ir.Class, error) {
	if s == "" {
		return ir.Auto, nil
	}

	for c, n := range classes {
		if n == s {
			return ir.Class(c), nil
		}
	}

	if c, err := strconv.Atoi(s); err == nil && c >= 0 && c < len(classes) {
		return ir.Class(c), nil
	}

	return 0, errors.New("bad class: %q", s)
}
