package record

import (
	"fmt"
	"strconv"
)

// Oid identifies any cataloged object: relations, types, namespaces, functions.
type Oid uint64

const InvalidOid Oid = 0

func (o Oid) Valid() bool { return o != InvalidOid }

func (o Oid) String() string { return strconv.FormatUint(uint64(o), 10) }

// Builtin type identities. Values follow the classic pg_type assignments so
// catalog dumps stay readable.
const (
	TypeBool      Oid = 16
	TypeBytea     Oid = 17
	TypeChar      Oid = 18
	TypeName      Oid = 19
	TypeInt8      Oid = 20
	TypeInt2      Oid = 21
	TypeInt4      Oid = 23
	TypeText      Oid = 25
	TypeOid       Oid = 26
	TypeTid       Oid = 27
	TypeXid       Oid = 28
	TypeCid       Oid = 29
	TypeFloat4    Oid = 700
	TypeFloat8    Oid = 701
	TypeUnknown   Oid = 705
	TypeVarchar   Oid = 1043
	TypeTimestamp Oid = 1114
)

// Conversion functions shared by every complex (row) type.
const (
	FuncOidIn  Oid = 1798
	FuncOidOut Oid = 1799
)

// Well-known namespaces.
const (
	NamespaceCatalog Oid = 11
	NamespaceToast   Oid = 99
	NamespacePublic  Oid = 2200
)

// Type categories drive implicit coercion.
const (
	CategoryBool      byte = 'B'
	CategoryNumeric   byte = 'N'
	CategoryString    byte = 'S'
	CategoryUser      byte = 'U'
	CategoryDate      byte = 'D'
	CategoryUnknown   byte = 'X'
	CategoryComposite byte = 'C'
)

type TypeInfo struct {
	ID       Oid
	Name     string
	Len      int16 // -1 = varlena
	ByVal    bool
	Align    byte
	Storage  byte
	Category byte
}

var builtinTypes = map[Oid]TypeInfo{
	TypeBool:      {TypeBool, "boolean", 1, true, 'c', 'p', CategoryBool},
	TypeBytea:     {TypeBytea, "bytea", -1, false, 'i', 'x', CategoryUser},
	TypeChar:      {TypeChar, "\"char\"", 1, true, 'c', 'p', CategoryString},
	TypeName:      {TypeName, "name", 64, false, 'i', 'p', CategoryString},
	TypeInt8:      {TypeInt8, "bigint", 8, true, 'd', 'p', CategoryNumeric},
	TypeInt2:      {TypeInt2, "smallint", 2, true, 's', 'p', CategoryNumeric},
	TypeInt4:      {TypeInt4, "integer", 4, true, 'i', 'p', CategoryNumeric},
	TypeText:      {TypeText, "text", -1, false, 'i', 'x', CategoryString},
	TypeOid:       {TypeOid, "oid", 8, true, 'd', 'p', CategoryNumeric},
	TypeTid:       {TypeTid, "tid", 6, false, 's', 'p', CategoryUser},
	TypeXid:       {TypeXid, "xid", 8, true, 'd', 'p', CategoryUser},
	TypeCid:       {TypeCid, "cid", 4, true, 'i', 'p', CategoryUser},
	TypeFloat4:    {TypeFloat4, "real", 4, true, 'i', 'p', CategoryNumeric},
	TypeFloat8:    {TypeFloat8, "double precision", 8, true, 'd', 'p', CategoryNumeric},
	TypeUnknown:   {TypeUnknown, "unknown", -2, false, 'c', 'p', CategoryUnknown},
	TypeVarchar:   {TypeVarchar, "character varying", -1, false, 'i', 'x', CategoryString},
	TypeTimestamp: {TypeTimestamp, "timestamp without time zone", 8, true, 'd', 'p', CategoryDate},
}

// LookupType returns the builtin type description for id.
func LookupType(id Oid) (TypeInfo, bool) {
	t, ok := builtinTypes[id]
	return t, ok
}

// TypeByName resolves a SQL type name (as written in a cast) to a builtin type.
func TypeByName(name string) (Oid, bool) {
	switch name {
	case "bool", "boolean":
		return TypeBool, true
	case "bytea":
		return TypeBytea, true
	case "int2", "smallint":
		return TypeInt2, true
	case "int", "int4", "integer":
		return TypeInt4, true
	case "int8", "bigint":
		return TypeInt8, true
	case "text":
		return TypeText, true
	case "varchar":
		return TypeVarchar, true
	case "name":
		return TypeName, true
	case "oid":
		return TypeOid, true
	case "float4", "real":
		return TypeFloat4, true
	case "float8", "float", "double":
		return TypeFloat8, true
	case "timestamp":
		return TypeTimestamp, true
	}
	return InvalidOid, false
}

// FormatType renders a type identity for error messages.
func FormatType(id Oid) string {
	if t, ok := builtinTypes[id]; ok {
		return t.Name
	}
	return fmt.Sprintf("type %d", uint64(id))
}

// numericRank orders numeric types along the implicit widening path.
var numericRank = map[Oid]int{
	TypeInt2:   1,
	TypeInt4:   2,
	TypeInt8:   3,
	TypeFloat4: 4,
	TypeFloat8: 5,
}

type CoercionContext uint8

const (
	CoerceImplicit CoercionContext = iota + 1
	CoerceAssignment
	CoerceExplicit
)

// CanCoerce reports whether a value of type from can be converted to type to
// in the given context.
func CanCoerce(from, to Oid, cctx CoercionContext) bool {
	if from == to {
		return true
	}
	// string literals of unknown type are accepted by every input function
	if from == TypeUnknown {
		return true
	}
	fi, okf := builtinTypes[from]
	ti, okt := builtinTypes[to]
	if !okf || !okt {
		return false
	}

	switch {
	case fi.Category == CategoryNumeric && ti.Category == CategoryNumeric:
		if from == TypeOid || to == TypeOid {
			return cctx >= CoerceAssignment
		}
		if numericRank[from] < numericRank[to] {
			return true
		}
		return cctx >= CoerceAssignment
	case fi.Category == CategoryString && ti.Category == CategoryString:
		return true
	case ti.Category == CategoryString:
		// anything has an output function
		return cctx >= CoerceAssignment
	case fi.Category == CategoryString:
		return cctx == CoerceExplicit
	case from == TypeBool && to == TypeInt4:
		return cctx == CoerceExplicit
	case from == TypeInt4 && to == TypeBool:
		return cctx == CoerceExplicit
	}
	return false
}
