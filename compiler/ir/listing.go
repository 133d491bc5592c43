package ir

import (
	"tlog.app/go/errors"
)

type (
	// Range is a function's slice of a listing: Start is the index of the
	// Func entry, End is exclusive.
	Range struct {
		Func  *Func
		Start int
		End   int
	}

	Layout struct {
		Module []int // module-level entry indexes
		Funcs  []Range
	}
)

// Layout splits the listing into module-level entries and function ranges.
// Auto and Static data inside a function range belong to the function,
// Global and Extern data are always module-level.
func (l Listing) Layout() (lay Layout, err error) {
	cur := -1

	for i, x := range l {
		switch x := x.(type) {
		case Func:
			if cur >= 0 {
				lay.Funcs[cur].End = i
			}

			f := x
			lay.Funcs = append(lay.Funcs, Range{Func: &f, Start: i, End: len(l)})
			cur = len(lay.Funcs) - 1
		case *Func:
			return lay, errors.New("entry %d: func must be a value", i)
		case Data:
			if cur < 0 || x.Class == Global || x.Class == Extern {
				lay.Module = append(lay.Module, i)
			}
		case Comment:
			if cur < 0 {
				lay.Module = append(lay.Module, i)
			}
		default:
			if cur < 0 {
				return lay, errors.New("entry %d: %T outside of a function", i, x)
			}
		}
	}

	return lay, nil
}

// LastUse returns the index (relative to code) of the last entry
// referencing every temp register in code.
//
// A temp live across a backward jump has its range extended to the jump,
// so its register is not reused inside the loop body.
func LastUse(code []Entry) map[int]int {
	first := map[int]int{}
	last := map[int]int{}
	labels := map[string]int{}

	for i, x := range code {
		if l, ok := x.(Label); ok {
			labels[l.Name] = i
		}

		for _, v := range x.Uses() {
			if v.Kind != KindTemp {
				continue
			}

			if _, ok := first[v.Temp]; !ok {
				first[v.Temp] = i
			}

			last[v.Temp] = i
		}
	}

	type edge struct{ from, to int }

	var back []edge
	var loops []Loop

	jump := func(i int, name string) {
		if to, ok := labels[name]; ok && to <= i {
			back = append(back, edge{from: i, to: to})
		}
	}

	for i, x := range code {
		switch x := x.(type) {
		case Jump:
			jump(i, x.Label)
		case CondJump:
			jump(i, x.Label)
		case Loop:
			loops = append(loops, x)
		case EndLoop:
			if len(loops) != 0 {
				loops = loops[:len(loops)-1]
			}
		case Continue:
			if len(loops) != 0 {
				jump(i, loops[len(loops)-1].Continue)
			}
		}
	}

	for changed := true; changed; {
		changed = false

		for _, e := range back {
			for t, l := range last {
				if first[t] < e.to && l >= e.to && l < e.from {
					last[t] = e.from
					changed = true
				}
			}
		}
	}

	return last
}
