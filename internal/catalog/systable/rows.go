package systable

import (
	"github.com/tuannm99/novacat/internal/record"
)

// Stamp records which transaction command wrote a row.
type Stamp struct {
	Xmin uint64 `msgpack:"xmin"`
	Cmin uint32 `msgpack:"cmin"`
}

func (s *Stamp) stamp() *Stamp { return s }

// Row is implemented by every catalog row type.
type Row interface {
	stamp() *Stamp
	// RelationID is the relation the row describes, used for invalidation.
	RelationID() record.Oid
}

// RelKind tags the closed set of relation kinds.
type RelKind byte

const (
	KindTable    RelKind = 'r'
	KindIndex    RelKind = 'i'
	KindSequence RelKind = 'S'
	KindView     RelKind = 'v'
	KindToast    RelKind = 't'
)

func (k RelKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindIndex:
		return "index"
	case KindSequence:
		return "sequence"
	case KindView:
		return "view"
	case KindToast:
		return "toast table"
	}
	return "unknown"
}

type ClassRow struct {
	Stamp
	ID          record.Oid `msgpack:"oid"`
	Name        string     `msgpack:"relname"`
	Namespace   record.Oid `msgpack:"relnamespace"`
	TypeID      record.Oid `msgpack:"reltype"`
	Owner       record.Oid `msgpack:"relowner"`
	Kind        RelKind    `msgpack:"relkind"`
	Pages       int32      `msgpack:"relpages"`
	Tuples      float64    `msgpack:"reltuples"`
	ToastRelID  record.Oid `msgpack:"reltoastrelid"`
	HasIndex    bool       `msgpack:"relhasindex"`
	Shared      bool       `msgpack:"relisshared"`
	Natts       int16      `msgpack:"relnatts"`
	Checks      int16      `msgpack:"relchecks"`
	HasOids     bool       `msgpack:"relhasoids"`
	HasSubclass bool       `msgpack:"relhassubclass"`
}

func (r *ClassRow) RelationID() record.Oid { return r.ID }

// TypeRow is the composite type paired with every relation.
type TypeRow struct {
	Stamp
	ID        record.Oid `msgpack:"oid"`
	Name      string     `msgpack:"typname"`
	Namespace record.Oid `msgpack:"typnamespace"`
	Owner     record.Oid `msgpack:"typowner"`
	Len       int16      `msgpack:"typlen"`
	ByVal     bool       `msgpack:"typbyval"`
	Type      byte       `msgpack:"typtype"`
	Defined   bool       `msgpack:"typisdefined"`
	Delim     byte       `msgpack:"typdelim"`
	RelID     record.Oid `msgpack:"typrelid"`
	Input     record.Oid `msgpack:"typinput"`
	Output    record.Oid `msgpack:"typoutput"`
	Align     byte       `msgpack:"typalign"`
	Storage   byte       `msgpack:"typstorage"`
}

func (r *TypeRow) RelationID() record.Oid { return r.RelID }

type AttributeRow struct {
	Stamp
	RelID      record.Oid `msgpack:"attrelid"`
	Name       string     `msgpack:"attname"`
	TypeID     record.Oid `msgpack:"atttypid"`
	Num        int16      `msgpack:"attnum"`
	Len        int16      `msgpack:"attlen"`
	ByVal      bool       `msgpack:"attbyval"`
	Align      byte       `msgpack:"attalign"`
	Storage    byte       `msgpack:"attstorage"`
	NotNull    bool       `msgpack:"attnotnull"`
	HasDef     bool       `msgpack:"atthasdef"`
	StatTarget int32      `msgpack:"attstattarget"`
}

func (r *AttributeRow) RelationID() record.Oid { return r.RelID }

type DefaultRow struct {
	Stamp
	RelID record.Oid `msgpack:"adrelid"`
	Num   int16      `msgpack:"adnum"`
	Bin   []byte     `msgpack:"adbin"`
	Src   string     `msgpack:"adsrc"`
}

func (r *DefaultRow) RelationID() record.Oid { return r.RelID }

// CheckRow names are not unique per relation; ID distinguishes duplicates.
type CheckRow struct {
	Stamp
	ID    record.Oid `msgpack:"oid"`
	RelID record.Oid `msgpack:"rcrelid"`
	Name  string     `msgpack:"rcname"`
	Bin   []byte     `msgpack:"rcbin"`
	Src   string     `msgpack:"rcsrc"`
}

func (r *CheckRow) RelationID() record.Oid { return r.RelID }

type InheritsRow struct {
	Stamp
	RelID  record.Oid `msgpack:"inhrelid"`
	Parent record.Oid `msgpack:"inhparent"`
	Seq    int32      `msgpack:"inhseqno"`
}

func (r *InheritsRow) RelationID() record.Oid { return r.RelID }

type StatisticRow struct {
	Stamp
	RelID    record.Oid `msgpack:"starelid"`
	Num      int16      `msgpack:"staattnum"`
	NullFrac float32    `msgpack:"stanullfrac"`
	Width    int32      `msgpack:"stawidth"`
	Distinct float32    `msgpack:"stadistinct"`
}

func (r *StatisticRow) RelationID() record.Oid { return r.RelID }

type DescriptionRow struct {
	Stamp
	ObjID    record.Oid `msgpack:"objoid"`
	ClassOid record.Oid `msgpack:"classoid"`
	SubID    int32      `msgpack:"objsubid"`
	Text     string     `msgpack:"description"`
}

func (r *DescriptionRow) RelationID() record.Oid { return r.ObjID }

type IndexRow struct {
	Stamp
	IndexRelID record.Oid `msgpack:"indexrelid"`
	HeapRelID  record.Oid `msgpack:"indrelid"`
	Keys       []int16    `msgpack:"indkey"`
	Unique     bool       `msgpack:"indisunique"`
}

func (r *IndexRow) RelationID() record.Oid { return r.HeapRelID }

type NamespaceRow struct {
	Stamp
	ID   record.Oid `msgpack:"oid"`
	Name string     `msgpack:"nspname"`
}

func (r *NamespaceRow) RelationID() record.Oid { return r.ID }
