package catalog

import (
	"github.com/tuannm99/novacat/internal/record"
)

// System column positions.
const (
	SelfItemPointerAttributeNumber  int16 = -1
	ObjectIDAttributeNumber         int16 = -2
	MinTransactionIDAttributeNumber int16 = -3
	MinCommandIDAttributeNumber     int16 = -4
	MaxTransactionIDAttributeNumber int16 = -5
	MaxCommandIDAttributeNumber     int16 = -6
	TableOIDAttributeNumber         int16 = -7
)

type systemColumn struct {
	Name   string
	Num    int16
	TypeID record.Oid
}

// systemColumns are registered for every kind but views. All seven names
// stay reserved even when the relation has no oids.
var systemColumns = []systemColumn{
	{"ctid", SelfItemPointerAttributeNumber, record.TypeTid},
	{"oid", ObjectIDAttributeNumber, record.TypeOid},
	{"xmin", MinTransactionIDAttributeNumber, record.TypeXid},
	{"cmin", MinCommandIDAttributeNumber, record.TypeCid},
	{"xmax", MaxTransactionIDAttributeNumber, record.TypeXid},
	{"cmax", MaxCommandIDAttributeNumber, record.TypeCid},
	{"tableoid", TableOIDAttributeNumber, record.TypeOid},
}

// IsSystemColumnName reports whether name is reserved for a system column.
func IsSystemColumnName(name string) bool {
	for _, c := range systemColumns {
		if c.Name == name {
			return true
		}
	}
	return false
}
