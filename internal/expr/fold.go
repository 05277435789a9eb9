package expr

import (
	"math"

	"github.com/tuannm99/novacat/internal/record"
)

// Fold evaluates constant subexpressions of a cooked tree. Volatile
// functions and aggregates are never folded.
func Fold(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := *n
	if len(n.Args) > 0 {
		out.Args = make([]*Node, len(n.Args))
		for i, a := range n.Args {
			out.Args[i] = Fold(a)
		}
	}

	switch out.Kind {
	case KindOp:
		return foldOp(&out)
	case KindBool:
		return foldBool(&out)
	case KindNullTest:
		if a := out.Args[0]; a.IsConst() {
			isNull := a.IsNull
			if out.Name == "IS NOT NULL" {
				isNull = !isNull
			}
			return Const(isNull, record.TypeBool)
		}
	case KindCast:
		if a := out.Args[0]; a.IsConst() {
			if c, err := Coerce(a, out.Type, record.CoerceExplicit); err == nil {
				return c
			}
		}
	case KindFunc:
		return foldFunc(&out)
	}
	return &out
}

func allConst(args []*Node) (vals []any, anyNull, ok bool) {
	vals = make([]any, len(args))
	for i, a := range args {
		if !a.IsConst() {
			return nil, false, false
		}
		if a.IsNull {
			anyNull = true
		}
		vals[i] = a.Value
	}
	return vals, anyNull, true
}

// fits reports whether an evaluated value can be stored in t.
func fits(v any, t record.Oid) bool {
	switch x := v.(type) {
	case int64:
		return checkIntRange(x, t) == nil
	case float64:
		return !math.IsInf(x, 0) && !math.IsNaN(x)
	}
	return true
}

func foldOp(n *Node) *Node {
	op, ok := operators[n.OpID]
	if !ok || op.eval == nil {
		return n
	}
	vals, anyNull, ok := allConst(n.Args)
	if !ok {
		return n
	}
	// all operators are strict
	if anyNull {
		return NullConst(n.Type)
	}
	var v any
	if len(vals) == 1 {
		v = op.eval(nil, vals[0])
	} else {
		v = op.eval(vals[0], vals[1])
	}
	// division by zero and overflow are left for run time
	if v == nil || !fits(v, n.Type) {
		return n
	}
	return Const(v, n.Type)
}

func foldBool(n *Node) *Node {
	switch n.Name {
	case BoolNot:
		a := n.Args[0]
		if !a.IsConst() {
			return n
		}
		if a.IsNull {
			return NullConst(record.TypeBool)
		}
		return Const(!a.Value.(bool), record.TypeBool)

	case BoolAnd, BoolOr:
		// AND: false wins, true drops out. OR: the reverse.
		short := n.Name == BoolOr
		var keep []*Node
		sawNull := false
		for _, a := range n.Args {
			if !a.IsConst() {
				keep = append(keep, a)
				continue
			}
			if a.IsNull {
				sawNull = true
				continue
			}
			if a.Value.(bool) == short {
				return Const(short, record.TypeBool)
			}
		}
		if sawNull {
			keep = append(keep, NullConst(record.TypeBool))
		}
		switch len(keep) {
		case 0:
			return Const(!short, record.TypeBool)
		case 1:
			return keep[0]
		}
		n.Args = keep
	}
	return n
}

func foldFunc(n *Node) *Node {
	f, ok := funcsByOid[n.FuncID]
	if !ok || f.volatile || f.agg || f.retset || f.eval == nil || n.Star {
		return n
	}
	vals, anyNull, ok := allConst(n.Args)
	if !ok {
		return n
	}
	if anyNull {
		return NullConst(n.Type)
	}
	v := f.eval(vals)
	if v == nil || !fits(v, n.Type) {
		return n
	}
	return Const(v, n.Type)
}

// FixOpFuncs fills in the implementing function of every operator node.
func FixOpFuncs(n *Node) {
	Walk(n, func(x *Node) bool {
		if x.Kind == KindOp && x.FuncID == record.InvalidOid {
			if fn, ok := OperatorFunc(x.OpID); ok {
				x.FuncID = fn
			}
		}
		return true
	})
}
