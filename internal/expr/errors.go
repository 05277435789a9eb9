package expr

import "errors"

var (
	ErrSyntax          = errors.New("expr: syntax error")
	ErrUndefinedColumn = errors.New("expr: column does not exist")
	ErrOtherRelation   = errors.New("expr: reference to another relation")
	ErrColumnRef       = errors.New("expr: column reference not allowed")
	ErrSubquery        = errors.New("expr: subquery not allowed")
	ErrAggregate       = errors.New("expr: aggregate not allowed")
	ErrSetReturning    = errors.New("expr: set-returning function not allowed")
	ErrUndefinedFunc   = errors.New("expr: function does not exist")
	ErrUndefinedOp     = errors.New("expr: operator does not exist")
	ErrUndefinedType   = errors.New("expr: type does not exist")
	ErrCannotCoerce    = errors.New("expr: cannot coerce")
	ErrCodec           = errors.New("expr: bad serialized expression")
)
