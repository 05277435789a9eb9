package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tuannm99/novacat/internal/record"
)

// Column is one name visible to an expression.
type Column struct {
	Name string
	Num  int16
	Type record.Oid
}

// Scope is the single-relation name scope raw expressions resolve against.
type Scope struct {
	RelName string
	Columns []Column
	// NoColumns rejects every column reference (defaults).
	NoColumns bool
	// Clause names the construct in error messages, e.g. "DEFAULT clause".
	Clause string
}

func (s *Scope) clause() string {
	if s.Clause == "" {
		return "expression"
	}
	return s.Clause
}

// Cook resolves a raw tree into a typed tree. Subqueries are rejected here;
// aggregates and set-returning calls are resolved and left for the caller to
// reject via ContainsAggregate and ReturnsSet.
func Cook(raw *Node, sc *Scope) (*Node, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	switch raw.Kind {
	case KindConst:
		return cookConst(raw), nil

	case KindColumnRef:
		return cookColumn(raw, sc)

	case KindVar:
		out := *raw
		return &out, nil

	case KindSubLink:
		return nil, fmt.Errorf("%w: cannot use subselect in %s", ErrSubquery, sc.clause())

	case KindBool:
		out := &Node{Kind: KindBool, Name: raw.Name, Type: record.TypeBool}
		for _, a := range raw.Args {
			c, err := Cook(a, sc)
			if err != nil {
				return nil, err
			}
			c, err = CoerceToBoolean(c, raw.Name)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, c)
		}
		return out, nil

	case KindNullTest:
		arg, err := Cook(raw.Args[0], sc)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindNullTest, Name: raw.Name, Type: record.TypeBool, Args: []*Node{arg}}, nil

	case KindCast:
		target, ok := record.TypeByName(raw.Name)
		if !ok {
			return nil, fmt.Errorf("%w: type %q", ErrUndefinedType, raw.Name)
		}
		arg, err := Cook(raw.Args[0], sc)
		if err != nil {
			return nil, err
		}
		return Coerce(arg, target, record.CoerceExplicit)

	case KindOp:
		return cookOp(raw, sc)

	case KindFunc:
		return cookFunc(raw, sc)
	}
	return nil, fmt.Errorf("%w: unexpected node %s", ErrSyntax, raw.Kind)
}

func cookConst(raw *Node) *Node {
	out := *raw
	out.Name = ""
	if raw.IsNull {
		out.Type = record.TypeUnknown
		return &out
	}
	switch v := raw.Value.(type) {
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			out.Type = record.TypeInt4
		} else {
			out.Type = record.TypeInt8
		}
	case float64:
		out.Type = record.TypeFloat8
	case bool:
		out.Type = record.TypeBool
	case string:
		out.Type = record.TypeUnknown
	}
	return &out
}

func cookColumn(raw *Node, sc *Scope) (*Node, error) {
	name := raw.Names[len(raw.Names)-1]
	if sc.NoColumns {
		return nil, fmt.Errorf("%w: cannot use column reference %q in %s", ErrColumnRef, name, sc.clause())
	}
	if len(raw.Names) > 2 || (len(raw.Names) == 2 && raw.Names[0] != sc.RelName) {
		return nil, fmt.Errorf("%w: only table %q can be referenced in %s", ErrOtherRelation, sc.RelName, sc.clause())
	}
	for _, c := range sc.Columns {
		if c.Name == name {
			return &Node{Kind: KindVar, AttNum: c.Num, Type: c.Type}, nil
		}
	}
	return nil, fmt.Errorf("%w: column %q", ErrUndefinedColumn, name)
}

func rank(t record.Oid) int {
	for i, n := range numericList {
		if n == t {
			return i + 1
		}
	}
	return 0
}

func isString(t record.Oid) bool {
	for _, s := range stringList {
		if s == t {
			return true
		}
	}
	return false
}

// commonType picks the operand type a binary operator is resolved for.
func commonType(l, r record.Oid) record.Oid {
	switch {
	case l == r && l != record.TypeUnknown:
		if isString(l) {
			return record.TypeText
		}
		return l
	case l == record.TypeUnknown && r == record.TypeUnknown:
		return record.TypeText
	case l == record.TypeUnknown:
		return commonType(r, r)
	case r == record.TypeUnknown:
		return commonType(l, l)
	case rank(l) > 0 && rank(r) > 0:
		if rank(l) > rank(r) {
			return l
		}
		return r
	case isString(l) && isString(r):
		return record.TypeText
	}
	return record.InvalidOid
}

func cookOp(raw *Node, sc *Scope) (*Node, error) {
	args := make([]*Node, 0, len(raw.Args))
	for _, a := range raw.Args {
		c, err := Cook(a, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, c)
	}

	var op *operator
	if len(args) == 1 {
		t := args[0].Type
		if t == record.TypeUnknown {
			t = record.TypeFloat8
		}
		for _, o := range opsByName[raw.Name] {
			if o.left == record.InvalidOid && o.right == t {
				op = o
				break
			}
		}
		if op == nil {
			return nil, fmt.Errorf("%w: %s %s", ErrUndefinedOp, raw.Name, record.FormatType(args[0].Type))
		}
		arg, err := Coerce(args[0], op.right, record.CoerceImplicit)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindOp, Name: raw.Name, OpID: op.id, Type: op.result, Args: []*Node{arg}}, nil
	}

	l, r := args[0].Type, args[1].Type
	target := commonType(l, r)
	for _, o := range opsByName[raw.Name] {
		if o.left == target && o.right == target {
			op = o
			break
		}
	}
	if op == nil {
		return nil, fmt.Errorf("%w: %s %s %s", ErrUndefinedOp, record.FormatType(l), raw.Name, record.FormatType(r))
	}
	left, err := Coerce(args[0], op.left, record.CoerceImplicit)
	if err != nil {
		return nil, err
	}
	right, err := Coerce(args[1], op.right, record.CoerceImplicit)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindOp, Name: raw.Name, OpID: op.id, Type: op.result, Args: []*Node{left, right}}, nil
}

func cookFunc(raw *Node, sc *Scope) (*Node, error) {
	f, ok := lookupFuncByName(raw.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s()", ErrUndefinedFunc, raw.Name)
	}
	out := &Node{Kind: KindFunc, Name: raw.Name, FuncID: f.id, Star: raw.Star}

	if raw.Star {
		if f.name != "count" {
			return nil, fmt.Errorf("%w: %s(*)", ErrUndefinedFunc, raw.Name)
		}
		out.Type = f.result
		return out, nil
	}

	for _, a := range raw.Args {
		c, err := Cook(a, sc)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, c)
	}

	if f.args == nil {
		if len(out.Args) != 1 {
			return nil, fmt.Errorf("%w: %s takes one argument", ErrUndefinedFunc, raw.Name)
		}
		out.Type = f.result
		if out.Type == record.InvalidOid {
			out.Type = out.Args[0].Type
		}
		return out, nil
	}

	if len(out.Args) != len(f.args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments", ErrUndefinedFunc, raw.Name, len(f.args))
	}
	for i, want := range f.args {
		c, err := Coerce(out.Args[i], want, record.CoerceImplicit)
		if err != nil {
			return nil, err
		}
		out.Args[i] = c
	}
	out.Type = f.result
	return out, nil
}

// CoerceToBoolean requires n to be boolean; unknown literals are converted.
func CoerceToBoolean(n *Node, construct string) (*Node, error) {
	if n.Type == record.TypeBool {
		return n, nil
	}
	if n.Type == record.TypeUnknown {
		return Coerce(n, record.TypeBool, record.CoerceImplicit)
	}
	return nil, fmt.Errorf("%w: argument of %s must be type boolean, not type %s",
		ErrCannotCoerce, construct, record.FormatType(n.Type))
}

// Coerce converts n to target. Constants are converted in place; anything
// else is wrapped in a cast node.
func Coerce(n *Node, target record.Oid, cctx record.CoercionContext) (*Node, error) {
	if n.Type == target {
		return n, nil
	}
	if !record.CanCoerce(n.Type, target, cctx) {
		return nil, fmt.Errorf("%w: %s to %s", ErrCannotCoerce, record.FormatType(n.Type), record.FormatType(target))
	}
	if n.Kind == KindConst {
		if n.IsNull {
			return NullConst(target), nil
		}
		v, err := convertValue(n.Value, target)
		if err != nil {
			return nil, err
		}
		return Const(v, target), nil
	}
	return &Node{Kind: KindCast, Type: target, Args: []*Node{n}}, nil
}

func intRange(t record.Oid) (int64, int64) {
	switch t {
	case record.TypeInt2:
		return math.MinInt16, math.MaxInt16
	case record.TypeInt4:
		return math.MinInt32, math.MaxInt32
	}
	return math.MinInt64, math.MaxInt64
}

func checkIntRange(v int64, t record.Oid) error {
	lo, hi := intRange(t)
	if v < lo || v > hi {
		return fmt.Errorf("%w: %d out of range for type %s", ErrCannotCoerce, v, record.FormatType(t))
	}
	return nil
}

func convertValue(v any, target record.Oid) (any, error) {
	switch {
	case isInt(target):
		var i int64
		switch x := v.(type) {
		case int64:
			i = x
		case float64:
			i = int64(math.Round(x))
		case bool:
			if x {
				i = 1
			}
		case string:
			p, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid input syntax for %s: %q", ErrCannotCoerce, record.FormatType(target), x)
			}
			i = p
		}
		if err := checkIntRange(i, target); err != nil {
			return nil, err
		}
		return i, nil

	case target == record.TypeFloat4 || target == record.TypeFloat8:
		switch x := v.(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid input syntax for %s: %q", ErrCannotCoerce, record.FormatType(target), x)
			}
			return f, nil
		}

	case target == record.TypeOid:
		switch x := v.(type) {
		case int64:
			return x, nil
		case string:
			u, err := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid input syntax for oid: %q", ErrCannotCoerce, x)
			}
			return int64(u), nil
		}

	case target == record.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "t", "true", "y", "yes", "on", "1":
				return true, nil
			case "f", "false", "n", "no", "off", "0":
				return false, nil
			}
			return nil, fmt.Errorf("%w: invalid input syntax for boolean: %q", ErrCannotCoerce, x)
		}

	case isString(target) || target == record.TypeBytea || target == record.TypeTimestamp:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		case bool:
			if x {
				return "true", nil
			}
			return "false", nil
		}
	}
	return nil, fmt.Errorf("%w: cannot convert %v to %s", ErrCannotCoerce, v, record.FormatType(target))
}
