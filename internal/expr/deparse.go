package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tuannm99/novacat/internal/record"
)

// AttrNamer maps an attribute number of the scope relation to its name.
type AttrNamer func(attnum int16) (string, bool)

// Deparse renders a cooked tree as source text.
func Deparse(n *Node, names AttrNamer) (string, error) {
	var sb strings.Builder
	if err := deparse(&sb, n, names); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func quoteIdent(s string) string {
	if id, err := parseIdent(s); err == nil && id == s {
		return s
	}
	return `"` + s + `"`
}

func deparse(sb *strings.Builder, n *Node, names AttrNamer) error {
	switch n.Kind {
	case KindConst:
		deparseConst(sb, n)

	case KindVar:
		name, ok := names(n.AttNum)
		if !ok {
			return fmt.Errorf("%w: attribute %d", ErrUndefinedColumn, n.AttNum)
		}
		sb.WriteString(quoteIdent(name))

	case KindOp:
		sb.WriteByte('(')
		if len(n.Args) == 1 {
			sb.WriteString(n.Name)
			sb.WriteByte(' ')
			if err := deparse(sb, n.Args[0], names); err != nil {
				return err
			}
		} else {
			if err := deparse(sb, n.Args[0], names); err != nil {
				return err
			}
			sb.WriteString(" " + n.Name + " ")
			if err := deparse(sb, n.Args[1], names); err != nil {
				return err
			}
		}
		sb.WriteByte(')')

	case KindBool:
		sb.WriteByte('(')
		if n.Name == BoolNot {
			sb.WriteString("NOT ")
			if err := deparse(sb, n.Args[0], names); err != nil {
				return err
			}
		} else {
			for i, a := range n.Args {
				if i > 0 {
					sb.WriteString(" " + n.Name + " ")
				}
				if err := deparse(sb, a, names); err != nil {
					return err
				}
			}
		}
		sb.WriteByte(')')

	case KindNullTest:
		sb.WriteByte('(')
		if err := deparse(sb, n.Args[0], names); err != nil {
			return err
		}
		sb.WriteString(" " + n.Name + ")")

	case KindCast:
		sb.WriteByte('(')
		if err := deparse(sb, n.Args[0], names); err != nil {
			return err
		}
		sb.WriteString(")::" + record.FormatType(n.Type))

	case KindFunc:
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		if n.Star {
			sb.WriteByte('*')
		}
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := deparse(sb, a, names); err != nil {
				return err
			}
		}
		sb.WriteByte(')')

	default:
		return fmt.Errorf("%w: cannot deparse %s", ErrCodec, n.Kind)
	}
	return nil
}

func deparseConst(sb *strings.Builder, n *Node) {
	if n.IsNull {
		sb.WriteString("NULL")
		return
	}
	switch v := n.Value.(type) {
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
		if n.Type == record.TypeInt8 && v >= -1<<31 && v < 1<<31 {
			sb.WriteString("::bigint")
		} else if n.Type == record.TypeInt2 {
			sb.WriteString("::smallint")
		}
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		if n.Type == record.TypeFloat4 {
			sb.WriteString("::real")
		}
	case string:
		sb.WriteString("'" + strings.ReplaceAll(v, "'", "''") + "'")
		if n.Type != record.TypeUnknown {
			sb.WriteString("::" + record.FormatType(n.Type))
		}
	default:
		fmt.Fprintf(sb, "'%v'", v)
	}
}
