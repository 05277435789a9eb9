package expr

import (
	"github.com/tuannm99/novacat/internal/record"
)

// Kind tags a node. Raw trees use ColumnRef, SubLink and untyped casts;
// cooked trees use Var and carry a result Type on every node.
type Kind uint8

const (
	KindConst Kind = iota + 1
	KindColumnRef
	KindVar
	KindOp
	KindFunc
	KindBool
	KindNullTest
	KindCast
	KindSubLink
)

func (k Kind) String() string {
	switch k {
	case KindConst:
		return "Const"
	case KindColumnRef:
		return "ColumnRef"
	case KindVar:
		return "Var"
	case KindOp:
		return "Op"
	case KindFunc:
		return "Func"
	case KindBool:
		return "BoolExpr"
	case KindNullTest:
		return "NullTest"
	case KindCast:
		return "Cast"
	case KindSubLink:
		return "SubLink"
	}
	return "Unknown"
}

// Boolean operator names used by KindBool nodes.
const (
	BoolAnd = "AND"
	BoolOr  = "OR"
	BoolNot = "NOT"
)

// Node is one expression tree node. A single struct keeps the tree trivially
// serializable.
type Node struct {
	Kind Kind `msgpack:"k"`
	// operator symbol, function name, bool op, "IS NULL"/"IS NOT NULL",
	// cast target name (raw) or subquery text
	Name string `msgpack:"n,omitempty"`
	// qualified column reference, raw only
	Names []string `msgpack:"q,omitempty"`

	Value  any  `msgpack:"v"`
	IsNull bool `msgpack:"z,omitempty"`

	Type   record.Oid `msgpack:"t,omitempty"`
	AttNum int16      `msgpack:"a,omitempty"`
	OpID   record.Oid `msgpack:"o,omitempty"`
	FuncID record.Oid `msgpack:"f,omitempty"`
	Star   bool       `msgpack:"s,omitempty"`

	Args []*Node `msgpack:"x,omitempty"`
}

func Const(v any, typ record.Oid) *Node {
	return &Node{Kind: KindConst, Value: v, Type: typ, IsNull: v == nil}
}

func NullConst(typ record.Oid) *Node {
	return &Node{Kind: KindConst, Type: typ, IsNull: true}
}

func (n *Node) IsConst() bool { return n != nil && n.Kind == KindConst }

// Walk visits n and its descendants depth-first; fn returns false to prune.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, a := range n.Args {
		Walk(a, fn)
	}
}

// contains reports whether any node satisfies pred.
func contains(n *Node, pred func(*Node) bool) bool {
	found := false
	Walk(n, func(x *Node) bool {
		if found {
			return false
		}
		if pred(x) {
			found = true
			return false
		}
		return true
	})
	return found
}

// ContainsVars reports column references of either raw or cooked form.
func ContainsVars(n *Node) bool {
	return contains(n, func(x *Node) bool { return x.Kind == KindVar || x.Kind == KindColumnRef })
}

func ContainsAggregate(n *Node) bool {
	return contains(n, func(x *Node) bool {
		if x.Kind != KindFunc {
			return false
		}
		f, ok := lookupFuncByName(x.Name)
		return ok && f.agg
	})
}

func ReturnsSet(n *Node) bool {
	return contains(n, func(x *Node) bool {
		if x.Kind != KindFunc {
			return false
		}
		f, ok := lookupFuncByName(x.Name)
		return ok && f.retset
	})
}

// MakeAndsImplicit flattens a top-level AND into its conjuncts.
func MakeAndsImplicit(n *Node) []*Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindBool && n.Name == BoolAnd {
		var out []*Node
		for _, a := range n.Args {
			out = append(out, MakeAndsImplicit(a)...)
		}
		return out
	}
	if n.IsConst() && !n.IsNull && n.Value == true {
		return nil
	}
	return []*Node{n}
}

// MakeAndsExplicit is the inverse of MakeAndsImplicit. An empty list is TRUE.
func MakeAndsExplicit(list []*Node) *Node {
	switch len(list) {
	case 0:
		return Const(true, record.TypeBool)
	case 1:
		return list[0]
	}
	return &Node{Kind: KindBool, Name: BoolAnd, Type: record.TypeBool, Args: list}
}
