package relcache

import (
	"path/filepath"

	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/storage"
)

// Attribute is the cached form of one column of a relation.
type Attribute struct {
	Name    string
	TypeID  record.Oid
	Num     int16
	Len     int16
	NotNull bool
	HasDef  bool
}

// Descriptor is the in-memory handle of a relation.
type Descriptor struct {
	ID        record.Oid
	Name      string
	Namespace record.Oid
	Kind      systable.RelKind
	TypeID    record.Oid
	HasOids   bool
	Shared    bool
	Checks    int16
	ToastID   record.Oid
	// CreatedXid is non-zero while the creating transaction is in progress;
	// only that transaction may see the descriptor.
	CreatedXid uint64
	Pinned     bool

	Storage storage.LocalFileSet
	Attrs   []Attribute

	refs refCount
}

// UserAttrs returns the columns with positive positions, in order.
func (d *Descriptor) UserAttrs() []Attribute {
	out := make([]Attribute, 0, len(d.Attrs))
	for _, a := range d.Attrs {
		if a.Num > 0 {
			out = append(out, a)
		}
	}
	return out
}

// Attr finds a column by name.
func (d *Descriptor) Attr(name string) (Attribute, bool) {
	for _, a := range d.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// AttrByNum finds a column by position.
func (d *Descriptor) AttrByNum(num int16) (Attribute, bool) {
	for _, a := range d.Attrs {
		if a.Num == num {
			return a, true
		}
	}
	return Attribute{}, false
}

func (d *Descriptor) Refs() int32 { return d.refs.get() }

// FileSetFor returns where a relation's segment files live. Shared relations
// go under global/, everything else under base/.
func FileSetFor(dataDir string, id record.Oid, shared bool) storage.LocalFileSet {
	sub := "base"
	if shared {
		sub = "global"
	}
	return storage.LocalFileSet{Dir: filepath.Join(dataDir, sub), Base: id.String()}
}

func fromRows(dataDir string, cls *systable.ClassRow, attrs []*systable.AttributeRow) *Descriptor {
	d := &Descriptor{
		ID:        cls.ID,
		Name:      cls.Name,
		Namespace: cls.Namespace,
		Kind:      cls.Kind,
		TypeID:    cls.TypeID,
		HasOids:   cls.HasOids,
		Shared:    cls.Shared,
		Checks:    cls.Checks,
		ToastID:   cls.ToastRelID,
		Storage:   FileSetFor(dataDir, cls.ID, cls.Shared),
		Attrs:     make([]Attribute, 0, len(attrs)),
	}
	for _, a := range attrs {
		d.Attrs = append(d.Attrs, Attribute{
			Name:    a.Name,
			TypeID:  a.TypeID,
			Num:     a.Num,
			Len:     a.Len,
			NotNull: a.NotNull,
			HasDef:  a.HasDef,
		})
	}
	return d
}
