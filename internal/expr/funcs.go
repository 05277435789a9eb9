package expr

import (
	"math"
	"strings"

	"github.com/tuannm99/novacat/internal/record"
)

// operator is one resolved binary or prefix operator.
type operator struct {
	id     record.Oid
	name   string
	left   record.Oid // InvalidOid for prefix operators
	right  record.Oid
	result record.Oid
	fn     record.Oid
	eval   func(a, b any) any
}

type function struct {
	id       record.Oid
	name     string
	args     []record.Oid // nil = any single argument of the result type
	result   record.Oid   // InvalidOid = same as the argument
	agg      bool
	retset   bool
	volatile bool
	eval     func(args []any) any
}

var (
	operators   = map[record.Oid]*operator{}
	opsByName   = map[string][]*operator{}
	functions   = map[string]*function{}
	funcsByOid  = map[record.Oid]*function{}
	numericList = []record.Oid{record.TypeInt2, record.TypeInt4, record.TypeInt8, record.TypeFloat4, record.TypeFloat8}
	stringList  = []record.Oid{record.TypeText, record.TypeVarchar, record.TypeName, record.TypeChar}
)

const (
	opBase   record.Oid = 3000
	funcBase record.Oid = 7000
)

func addOp(name string, left, right, result record.Oid, eval func(a, b any) any) {
	id := opBase + record.Oid(len(operators))
	op := &operator{id: id, name: name, left: left, right: right, result: result, fn: funcBase + id, eval: eval}
	operators[id] = op
	opsByName[name] = append(opsByName[name], op)
}

func addFunc(f *function) {
	f.id = funcBase + 1000 + record.Oid(len(functions))
	functions[f.name] = f
	funcsByOid[f.id] = f
}

func isInt(t record.Oid) bool {
	return t == record.TypeInt2 || t == record.TypeInt4 || t == record.TypeInt8
}

// Checked int64 arithmetic. A false result leaves the expression unfolded.
func addInt64(x, y int64) (int64, bool) {
	s := x + y
	if (x > 0 && y > 0 && s < 0) || (x < 0 && y < 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func subInt64(x, y int64) (int64, bool) {
	s := x - y
	if (x >= 0 && y < 0 && s < 0) || (x < 0 && y > 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func mulInt64(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	if (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return 0, false
	}
	p := x * y
	if p/y != x {
		return 0, false
	}
	return p, true
}

func init() {
	for _, t := range numericList {
		t := t
		arith := func(f func(x, y float64) float64, i func(x, y int64) (int64, bool)) func(a, b any) any {
			return func(a, b any) any {
				if isInt(t) {
					v, ok := i(toInt(a), toInt(b))
					if !ok {
						return nil
					}
					return v
				}
				return f(toFloat(a), toFloat(b))
			}
		}
		addOp("+", t, t, t, arith(func(x, y float64) float64 { return x + y }, addInt64))
		addOp("-", t, t, t, arith(func(x, y float64) float64 { return x - y }, subInt64))
		addOp("*", t, t, t, arith(func(x, y float64) float64 { return x * y }, mulInt64))
		addOp("/", t, t, t, arith(func(x, y float64) float64 { return x / y }, func(x, y int64) (int64, bool) {
			if y == 0 || (x == math.MinInt64 && y == -1) {
				return 0, false
			}
			return x / y, true
		}))
		if isInt(t) {
			addOp("%", t, t, t, arith(nil, func(x, y int64) (int64, bool) {
				if y == 0 {
					return 0, false
				}
				return x % y, true
			}))
		}
		addOp("-", record.InvalidOid, t, t, func(_, b any) any {
			if isInt(t) {
				v, ok := subInt64(0, toInt(b))
				if !ok {
					return nil
				}
				return v
			}
			return -toFloat(b)
		})
		addCompare(t, func(a, b any) int {
			x, y := toFloat(a), toFloat(b)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		})
	}

	addCompare(record.TypeText, func(a, b any) int { return strings.Compare(a.(string), b.(string)) })
	addCompare(record.TypeTimestamp, nil)
	addCompare(record.TypeOid, func(a, b any) int {
		x, y := toInt(a), toInt(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	addOp("=", record.TypeBool, record.TypeBool, record.TypeBool, func(a, b any) any { return a.(bool) == b.(bool) })
	addOp("<>", record.TypeBool, record.TypeBool, record.TypeBool, func(a, b any) any { return a.(bool) != b.(bool) })
	addOp("||", record.TypeText, record.TypeText, record.TypeText, func(a, b any) any { return a.(string) + b.(string) })

	addFunc(&function{name: "abs", eval: func(a []any) any {
		switch v := a[0].(type) {
		case int64:
			if v < 0 {
				return -v
			}
			return v
		case float64:
			return math.Abs(v)
		}
		return nil
	}})
	addFunc(&function{name: "lower", args: []record.Oid{record.TypeText}, result: record.TypeText,
		eval: func(a []any) any { return strings.ToLower(a[0].(string)) }})
	addFunc(&function{name: "upper", args: []record.Oid{record.TypeText}, result: record.TypeText,
		eval: func(a []any) any { return strings.ToUpper(a[0].(string)) }})
	addFunc(&function{name: "length", args: []record.Oid{record.TypeText}, result: record.TypeInt4,
		eval: func(a []any) any { return int64(len([]rune(a[0].(string)))) }})
	addFunc(&function{name: "now", args: []record.Oid{}, result: record.TypeTimestamp, volatile: true})
	addFunc(&function{name: "random", args: []record.Oid{}, result: record.TypeFloat8, volatile: true})
	addFunc(&function{name: "nextval", args: []record.Oid{record.TypeText}, result: record.TypeInt8, volatile: true})
	addFunc(&function{name: "generate_series", args: []record.Oid{record.TypeInt4, record.TypeInt4}, result: record.TypeInt4, retset: true})
	addFunc(&function{name: "count", result: record.TypeInt8, agg: true})
	addFunc(&function{name: "sum", agg: true})
	addFunc(&function{name: "min", agg: true})
	addFunc(&function{name: "max", agg: true})
	addFunc(&function{name: "avg", result: record.TypeFloat8, agg: true})
}

func addCompare(t record.Oid, cmp func(a, b any) int) {
	mk := func(test func(int) bool) func(a, b any) any {
		if cmp == nil {
			return nil
		}
		return func(a, b any) any { return test(cmp(a, b)) }
	}
	addOp("=", t, t, record.TypeBool, mk(func(c int) bool { return c == 0 }))
	addOp("<>", t, t, record.TypeBool, mk(func(c int) bool { return c != 0 }))
	addOp("<", t, t, record.TypeBool, mk(func(c int) bool { return c < 0 }))
	addOp(">", t, t, record.TypeBool, mk(func(c int) bool { return c > 0 }))
	addOp("<=", t, t, record.TypeBool, mk(func(c int) bool { return c <= 0 }))
	addOp(">=", t, t, record.TypeBool, mk(func(c int) bool { return c >= 0 }))
}

func lookupFuncByName(name string) (*function, bool) {
	f, ok := functions[name]
	return f, ok
}

// OperatorFunc returns the implementing function of an operator.
func OperatorFunc(op record.Oid) (record.Oid, bool) {
	o, ok := operators[op]
	if !ok {
		return record.InvalidOid, false
	}
	return o.fn, true
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
