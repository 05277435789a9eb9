package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNameConflict         = errors.New("catalog: name already in use")
	ErrSchema               = errors.New("catalog: invalid relation schema")
	ErrDependentChildren    = errors.New("catalog: relation has inheriting children")
	ErrDependentColumns     = errors.New("catalog: relation type is used by other columns")
	ErrProtectedRelation    = errors.New("catalog: system relation may not be modified")
	ErrTypeMismatch         = errors.New("catalog: type mismatch")
	ErrConstraintExpression = errors.New("catalog: invalid constraint expression")
	ErrInvariantViolation   = errors.New("catalog: catalog invariant violated")
	ErrTransactionBlock     = errors.New("catalog: cannot run inside a transaction block")
	ErrRelationNotFound     = errors.New("catalog: relation does not exist")
)

// exprError tags an expression failure as a constraint error while keeping
// the underlying cause matchable.
func exprError(err error) error {
	return fmt.Errorf("%w: %w", ErrConstraintExpression, err)
}
