package catalog

import (
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/expr"
	"github.com/tuannm99/novacat/internal/record"
)

// MaxColumns bounds the user columns of one relation.
const MaxColumns = 1600

// ColumnDefinition is a caller-owned column description. Registration
// derives attribute rows from it and never writes back.
type ColumnDefinition struct {
	Name       string
	TypeID     record.Oid
	Len        int16 // 0 = take the type's length
	NotNull    bool
	HasDefault bool
}

// CookedDefault is a default expression already resolved and serialized.
type CookedDefault struct {
	Num int16
	Bin []byte
}

// CookedCheck is a serialized implicit-AND check list.
type CookedCheck struct {
	Name string
	Bin  []byte
}

// RawColumnDefault is a default still in source form. Raw takes precedence
// over Source when set.
type RawColumnDefault struct {
	Num    int16
	Source string
	Raw    *expr.Node
}

// RawCheck is a check constraint still in source form; an empty Name asks
// for a generated "$N" name.
type RawCheck struct {
	Name   string
	Source string
	Raw    *expr.Node
}

// ConstraintBlock carries constraints that travel with a tuple descriptor
// during creation and inheritance.
type ConstraintBlock struct {
	Defaults    []CookedDefault
	Checks      []CookedCheck
	RawDefaults []RawColumnDefault
	RawChecks   []RawCheck
}

func (c *ConstraintBlock) empty() bool {
	if c == nil {
		return true
	}
	return len(c.Defaults)+len(c.Checks)+len(c.RawDefaults)+len(c.RawChecks) == 0
}

type TupleDescriptor struct {
	Columns     []ColumnDefinition
	Constraints *ConstraintBlock
}

// CreateParams describes one relation to create.
type CreateParams struct {
	Name            string
	Namespace       record.Oid
	Tuple           TupleDescriptor
	Kind            systable.RelKind
	Shared          bool
	HasOids         bool
	AllowSystemMods bool
}
