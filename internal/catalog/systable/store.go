package systable

import (
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
)

// Catalog identities. The first four double as bootstrap relation ids.
const (
	TypeCatalogID        record.Oid = 1247
	AttributeCatalogID   record.Oid = 1249
	ProcCatalogID        record.Oid = 1255
	ClassCatalogID       record.Oid = 1259
	DefaultCatalogID     record.Oid = 2604
	CheckCatalogID       record.Oid = 2606
	DescriptionCatalogID record.Oid = 2609
	IndexCatalogID       record.Oid = 2610
	InheritsCatalogID    record.Oid = 2611
	NamespaceCatalogID   record.Oid = 2615
	StatisticCatalogID   record.Oid = 2619
)

// Index names used by callers.
const (
	IdxClassName     = "relname_nsp"
	IdxTypeName      = "typname_nsp"
	IdxTypeRel       = "typrelid"
	IdxAttrName      = "relid_attnam"
	IdxAttrType      = "atttypid"
	IdxCheckName     = "relid_name"
	IdxInheritParent = "parent"
	IdxIndexHeap     = "indrelid"
	IdxNamespaceName = "nspname"
)

func ClassNameKey(ns record.Oid, name string) []byte { return K().Oid(ns).Str(name) }

var Classes = &Def[ClassRow]{
	Name:   "pg_class",
	LockID: ClassCatalogID,
	Key:    func(r *ClassRow) []byte { return K().Oid(r.ID) },
	Indexes: []IndexDef[ClassRow]{
		{Name: IdxClassName, Unique: true, Key: func(r *ClassRow) []byte { return ClassNameKey(r.Namespace, r.Name) }},
	},
}

var Types = &Def[TypeRow]{
	Name:   "pg_type",
	LockID: TypeCatalogID,
	Key:    func(r *TypeRow) []byte { return K().Oid(r.ID) },
	Indexes: []IndexDef[TypeRow]{
		{Name: IdxTypeName, Unique: true, Key: func(r *TypeRow) []byte { return K().Oid(r.Namespace).Str(r.Name) }},
		{Name: IdxTypeRel, Key: func(r *TypeRow) []byte { return K().Oid(r.RelID) }},
	},
}

var Attributes = &Def[AttributeRow]{
	Name:   "pg_attribute",
	LockID: AttributeCatalogID,
	Key:    func(r *AttributeRow) []byte { return K().Oid(r.RelID).Int16(r.Num) },
	Indexes: []IndexDef[AttributeRow]{
		{Name: IdxAttrName, Unique: true, Key: func(r *AttributeRow) []byte { return K().Oid(r.RelID).Str(r.Name) }},
		{Name: IdxAttrType, Key: func(r *AttributeRow) []byte { return K().Oid(r.TypeID) }},
	},
}

var Defaults = &Def[DefaultRow]{
	Name:   "pg_attrdef",
	LockID: DefaultCatalogID,
	Key:    func(r *DefaultRow) []byte { return K().Oid(r.RelID).Int16(r.Num) },
}

var Checks = &Def[CheckRow]{
	Name:   "pg_relcheck",
	LockID: CheckCatalogID,
	Key:    func(r *CheckRow) []byte { return K().Oid(r.RelID).Oid(r.ID) },
	Indexes: []IndexDef[CheckRow]{
		{Name: IdxCheckName, Key: func(r *CheckRow) []byte { return K().Oid(r.RelID).Str(r.Name) }},
	},
}

var Inherits = &Def[InheritsRow]{
	Name:   "pg_inherits",
	LockID: InheritsCatalogID,
	Key:    func(r *InheritsRow) []byte { return K().Oid(r.RelID).Int32(r.Seq) },
	Indexes: []IndexDef[InheritsRow]{
		{Name: IdxInheritParent, Key: func(r *InheritsRow) []byte { return K().Oid(r.Parent) }},
	},
}

var Statistics = &Def[StatisticRow]{
	Name:   "pg_statistic",
	LockID: StatisticCatalogID,
	Key:    func(r *StatisticRow) []byte { return K().Oid(r.RelID).Int16(r.Num) },
}

var Descriptions = &Def[DescriptionRow]{
	Name:   "pg_description",
	LockID: DescriptionCatalogID,
	Key:    func(r *DescriptionRow) []byte { return K().Oid(r.ObjID).Oid(r.ClassOid).Int32(r.SubID) },
}

var Indexes = &Def[IndexRow]{
	Name:   "pg_index",
	LockID: IndexCatalogID,
	Key:    func(r *IndexRow) []byte { return K().Oid(r.IndexRelID) },
	Indexes: []IndexDef[IndexRow]{
		{Name: IdxIndexHeap, Key: func(r *IndexRow) []byte { return K().Oid(r.HeapRelID) }},
	},
}

var Namespaces = &Def[NamespaceRow]{
	Name:   "pg_namespace",
	LockID: NamespaceCatalogID,
	Key:    func(r *NamespaceRow) []byte { return K().Oid(r.ID) },
	Indexes: []IndexDef[NamespaceRow]{
		{Name: IdxNamespaceName, Unique: true, Key: func(r *NamespaceRow) []byte { return K().Str(r.Name) }},
	},
}

type catalogDef interface {
	create(tx *bolt.Tx) error
	rebuild(tx *bolt.Tx) error
}

var all = []catalogDef{
	Classes, Types, Attributes, Defaults, Checks,
	Inherits, Statistics, Descriptions, Indexes, Namespaces,
}

// Store owns catalog-wide settings shared by every handle.
type Store struct {
	locks         *lock.Manager
	ignoreIndexes atomic.Bool
}

func NewStore(locks *lock.Manager) *Store {
	return &Store{locks: locks}
}

// SetIgnoreIndexes toggles the bootstrap mode in which inserts and deletes
// skip secondary index maintenance and index scans become full scans.
func (s *Store) SetIgnoreIndexes(v bool) { s.ignoreIndexes.Store(v) }

func (s *Store) IgnoreIndexes() bool { return s.ignoreIndexes.Load() }

// Init creates every catalog bucket that does not exist yet.
func (s *Store) Init(tx *bolt.Tx) error {
	for _, d := range all {
		if err := d.create(tx); err != nil {
			return err
		}
	}
	return nil
}

// RebuildIndexes recomputes all secondary indexes from the catalog rows.
func (s *Store) RebuildIndexes(tx *bolt.Tx) error {
	for _, d := range all {
		if err := d.rebuild(tx); err != nil {
			return err
		}
	}
	return nil
}
