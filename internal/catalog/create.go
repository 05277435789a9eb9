package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/txn"
)

// CreateCatalogedRelation registers a new relation in every catalog and
// allocates its storage. The new relation is visible to the rest of the
// transaction when it returns.
func (m *Manager) CreateCatalogedRelation(ctx context.Context, tx *txn.Txn, p CreateParams) (record.Oid, error) {
	var id record.Oid
	err := m.obs.observe(ctx, "create_relation", func(ctx context.Context) error {
		var err error
		id, err = m.createRelation(ctx, tx, p)
		return err
	})
	if err != nil {
		return record.InvalidOid, err
	}
	tx.CommandCounterIncrement()
	return id, nil
}

func checkColumns(cols []ColumnDefinition, kind systable.RelKind) error {
	if len(cols) < 1 || len(cols) > MaxColumns {
		return fmt.Errorf("%w: number of columns is out of range (1 to %d)", ErrSchema, MaxColumns)
	}
	if kind != systable.KindView {
		for _, c := range cols {
			if IsSystemColumnName(c.Name) {
				return fmt.Errorf("%w: name of column %q conflicts with an existing system column", ErrSchema, c.Name)
			}
		}
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: column name %q is duplicated", ErrSchema, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// planner placeholders keyed by kind; unanalyzed tables should not look
// small enough for nested loops
func sizeEstimate(kind systable.RelKind) (int32, float64) {
	switch kind {
	case systable.KindTable, systable.KindIndex, systable.KindToast:
		return 10, 1000
	case systable.KindSequence:
		return 1, 1
	}
	return 0, 0
}

func (m *Manager) createRelation(ctx context.Context, tx *txn.Txn, p CreateParams) (record.Oid, error) {
	if err := checkColumns(p.Tuple.Columns, p.Kind); err != nil {
		return record.InvalidOid, err
	}
	if isProtectedNamespace(p.Namespace) && !p.AllowSystemMods {
		return record.InvalidOid, fmt.Errorf("%w: cannot create %q in a system namespace", ErrProtectedRelation, p.Name)
	}
	// optimistic: a concurrent creator is caught by the unique name index
	if exists, err := m.relationExists(ctx, tx, p.Namespace, p.Name); err != nil {
		return record.InvalidOid, err
	} else if exists {
		return record.InvalidOid, fmt.Errorf("%w: relation %q already exists", ErrNameConflict, p.Name)
	}

	id, pin := m.ids.Assign(p.Name, p.Namespace)
	typeID := m.ids.Fresh()

	desc := &relcache.Descriptor{
		ID:        id,
		Name:      p.Name,
		Namespace: p.Namespace,
		Kind:      p.Kind,
		TypeID:    typeID,
		HasOids:   p.HasOids,
		Shared:    p.Shared,
		Storage:   relcache.FileSetFor(m.cache.DataDir(), id, p.Shared),
	}

	if err := m.addClassRow(ctx, tx, desc, len(p.Tuple.Columns)); err != nil {
		return record.InvalidOid, err
	}
	if err := m.addTypeRow(ctx, tx, desc); err != nil {
		return record.InvalidOid, err
	}
	attrs, err := m.addAttributeRows(ctx, tx, desc, p.Tuple.Columns)
	if err != nil {
		return record.InvalidOid, err
	}
	desc.Attrs = attrs

	if !p.Tuple.Constraints.empty() {
		// constraint deparsing resolves names against the attribute rows
		tx.CommandCounterIncrement()
		if err := m.storeConstraints(ctx, tx, desc, p.Tuple.Constraints); err != nil {
			return record.InvalidOid, err
		}
	}

	if p.Kind != systable.KindView {
		if err := m.sm.Create(desc.Storage); err != nil {
			return record.InvalidOid, err
		}
		kind, fs := p.Kind, desc.Storage
		tx.OnAbort(func() {
			if err := m.unlinkStorage(kind, fs); err != nil {
				slog.Warn("catalog: unlink on abort", "oid", id, "err", err)
			}
		})
	}

	if pin {
		m.cache.Pin(desc)
	} else {
		desc.CreatedXid = tx.Xid()
		m.cache.Insert(desc)
	}

	slog.Info("catalog: relation created",
		"name", p.Name,
		"oid", id,
		"kind", p.Kind.String(),
		"natts", len(p.Tuple.Columns),
		"txn", tx.Label(),
	)
	return id, nil
}

func (m *Manager) relationExists(ctx context.Context, tx *txn.Txn, ns record.Oid, name string) (bool, error) {
	cls, err := systable.Open(ctx, m.store, tx, systable.Classes, lock.AccessShare)
	if err != nil {
		return false, err
	}
	defer cls.Close()
	_, ok, err := cls.Lookup(systable.IdxClassName, systable.ClassNameKey(ns, name))
	return ok, err
}

func (m *Manager) addClassRow(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor, natts int) error {
	cls, err := systable.Open(ctx, m.store, tx, systable.Classes, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer cls.Close()

	pages, tuples := sizeEstimate(d.Kind)
	row := &systable.ClassRow{
		ID:        d.ID,
		Name:      d.Name,
		Namespace: d.Namespace,
		TypeID:    d.TypeID,
		Kind:      d.Kind,
		Pages:     pages,
		Tuples:    tuples,
		Shared:    d.Shared,
		Natts:     int16(natts),
		HasOids:   d.HasOids,
	}
	if err := cls.Insert(row); err != nil {
		if errors.Is(err, systable.ErrUniqueViolation) {
			return fmt.Errorf("%w: relation %q already exists", ErrNameConflict, d.Name)
		}
		return err
	}
	return nil
}

// addTypeRow registers the composite type of the relation. Every complex
// type shares the oid input and output functions.
func (m *Manager) addTypeRow(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor) error {
	types, err := systable.Open(ctx, m.store, tx, systable.Types, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer types.Close()

	row := &systable.TypeRow{
		ID:        d.TypeID,
		Name:      d.Name,
		Namespace: d.Namespace,
		Len:       8,
		ByVal:     true,
		Type:      'c',
		Defined:   true,
		Delim:     ',',
		RelID:     d.ID,
		Input:     record.FuncOidIn,
		Output:    record.FuncOidOut,
		Align:     'i',
		Storage:   'p',
	}
	if err := types.Insert(row); err != nil {
		if errors.Is(err, systable.ErrUniqueViolation) {
			return fmt.Errorf("%w: type %q already exists", ErrNameConflict, d.Name)
		}
		return err
	}
	return nil
}

func attributeRow(rel record.Oid, name string, num int16, typeID record.Oid, length int16, notNull, hasDef bool) *systable.AttributeRow {
	row := &systable.AttributeRow{
		RelID:      rel,
		Name:       name,
		TypeID:     typeID,
		Num:        num,
		Len:        length,
		NotNull:    notNull,
		HasDef:     hasDef,
		StatTarget: -1,
		Align:      'i',
		Storage:    'p',
	}
	if ti, ok := record.LookupType(typeID); ok {
		if row.Len == 0 {
			row.Len = ti.Len
		}
		row.ByVal = ti.ByVal
		row.Align = ti.Align
		row.Storage = ti.Storage
	}
	return row
}

// addAttributeRows writes one row per user column, then the system columns
// unless the relation is a view. Input definitions are only read.
func (m *Manager) addAttributeRows(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor, cols []ColumnDefinition) ([]relcache.Attribute, error) {
	att, err := systable.Open(ctx, m.store, tx, systable.Attributes, lock.RowExclusive)
	if err != nil {
		return nil, err
	}
	defer att.Close()

	rows := make([]*systable.AttributeRow, 0, len(cols)+len(systemColumns))
	for i, c := range cols {
		rows = append(rows, attributeRow(d.ID, c.Name, int16(i+1), c.TypeID, c.Len, c.NotNull, c.HasDefault))
	}
	if d.Kind != systable.KindView {
		for _, sc := range systemColumns {
			rows = append(rows, attributeRow(d.ID, sc.Name, sc.Num, sc.TypeID, 0, true, false))
		}
	}

	attrs := make([]relcache.Attribute, 0, len(rows))
	for _, r := range rows {
		if err := att.Insert(r); err != nil {
			return nil, err
		}
		attrs = append(attrs, relcache.Attribute{
			Name:    r.Name,
			TypeID:  r.TypeID,
			Num:     r.Num,
			Len:     r.Len,
			NotNull: r.NotNull,
			HasDef:  r.HasDef,
		})
	}
	return attrs, nil
}

// storeConstraints persists the constraint block carried by a new relation.
func (m *Manager) storeConstraints(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor, cb *ConstraintBlock) error {
	for _, def := range cb.Defaults {
		if err := m.storeDefault(ctx, tx, d.ID, def.Num, def.Bin); err != nil {
			return err
		}
	}
	for _, chk := range cb.Checks {
		if err := m.storeCheck(ctx, tx, d.ID, chk.Name, chk.Bin); err != nil {
			return err
		}
	}
	if len(cb.Checks) > 0 {
		if err := m.setCheckCount(ctx, tx, d.ID, int16(len(cb.Checks))); err != nil {
			return err
		}
	}
	if len(cb.RawDefaults) == 0 && len(cb.RawChecks) == 0 {
		return nil
	}
	tx.CommandCounterIncrement()
	return m.addRawConstraints(ctx, tx, d, cb.RawDefaults, cb.RawChecks)
}

// StoreInheritance records child as inheriting from parents, in order.
func (m *Manager) StoreInheritance(ctx context.Context, tx *txn.Txn, child record.Oid, parents []record.Oid) error {
	err := m.obs.observe(ctx, "store_inheritance", func(ctx context.Context) error {
		if _, err := m.classRow(ctx, tx, child); err != nil {
			return err
		}
		below, err := m.descendants(ctx, tx, child)
		if err != nil {
			return err
		}
		banned := make(map[record.Oid]bool, len(below))
		for _, d := range below {
			banned[d] = true
		}
		seen := make(map[record.Oid]bool, len(parents))
		for _, p := range parents {
			if p == child {
				return fmt.Errorf("%w: relation %d cannot inherit from itself", ErrSchema, child)
			}
			if seen[p] {
				return fmt.Errorf("%w: relation %d would be inherited from more than once", ErrSchema, p)
			}
			seen[p] = true
			if banned[p] {
				return fmt.Errorf("%w: circular inheritance between %d and %d", ErrSchema, child, p)
			}
			if _, err := m.classRow(ctx, tx, p); err != nil {
				return err
			}
		}

		inh, err := systable.Open(ctx, m.store, tx, systable.Inherits, lock.RowExclusive)
		if err != nil {
			return err
		}
		defer inh.Close()
		for i, p := range parents {
			if err := inh.Insert(&systable.InheritsRow{RelID: child, Parent: p, Seq: int32(i + 1)}); err != nil {
				return err
			}
		}
		for _, p := range parents {
			err := m.updateClass(ctx, tx, p, func(r *systable.ClassRow) bool {
				if r.HasSubclass {
					return false
				}
				r.HasSubclass = true
				return true
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

// CreateToastTable gives rel a toast side-table with its chunk index and
// links it from rel's class row. A relation that already has one is left
// alone.
func (m *Manager) CreateToastTable(ctx context.Context, tx *txn.Txn, rel record.Oid) (record.Oid, error) {
	var toastID record.Oid
	err := m.obs.observe(ctx, "create_toast_table", func(ctx context.Context) error {
		d, err := m.openRelation(ctx, tx, rel, lock.AccessExclusive)
		if err != nil {
			return err
		}
		defer m.cache.Release(d)

		cls, err := m.classRow(ctx, tx, rel)
		if err != nil {
			return err
		}
		if cls.ToastRelID.Valid() {
			toastID = cls.ToastRelID
			return nil
		}
		if d.Kind != systable.KindTable {
			return fmt.Errorf("%w: %q is a %s and cannot have a toast table", ErrSchema, d.Name, d.Kind)
		}

		name := fmt.Sprintf("pg_toast_%d", rel)
		toastID, err = m.createRelation(ctx, tx, CreateParams{
			Name:      name,
			Namespace: record.NamespaceToast,
			Kind:      systable.KindToast,
			Shared:    d.Shared,
			Tuple: TupleDescriptor{Columns: []ColumnDefinition{
				{Name: "chunk_id", TypeID: record.TypeOid, NotNull: true},
				{Name: "chunk_seq", TypeID: record.TypeInt4, NotNull: true},
				{Name: "chunk_data", TypeID: record.TypeBytea, NotNull: true},
			}},
			AllowSystemMods: true,
		})
		if err != nil {
			return err
		}
		// the index below looks the toast relation up by id
		tx.CommandCounterIncrement()
		if _, err := m.createIndex(ctx, tx, toastID, name+"_index", []int16{1, 2}, true, true); err != nil {
			return err
		}

		return m.updateClass(ctx, tx, rel, func(r *systable.ClassRow) bool {
			r.ToastRelID = toastID
			return true
		})
	})
	if err != nil {
		return record.InvalidOid, err
	}
	tx.CommandCounterIncrement()
	return toastID, nil
}

// CreateIndexRelation creates an index relation over heap's key columns and
// builds it from the heap's current contents.
func (m *Manager) CreateIndexRelation(ctx context.Context, tx *txn.Txn, heap record.Oid, name string, keys []int16, unique bool) (record.Oid, error) {
	var id record.Oid
	err := m.obs.observe(ctx, "create_index", func(ctx context.Context) error {
		var err error
		id, err = m.createIndex(ctx, tx, heap, name, keys, unique, false)
		return err
	})
	if err != nil {
		return record.InvalidOid, err
	}
	tx.CommandCounterIncrement()
	return id, nil
}

func (m *Manager) createIndex(ctx context.Context, tx *txn.Txn, heapID record.Oid, name string, keys []int16, unique, allowSystemMods bool) (record.Oid, error) {
	heap, err := m.openRelation(ctx, tx, heapID, lock.AccessExclusive)
	if err != nil {
		return record.InvalidOid, err
	}
	defer m.cache.Release(heap)

	if heap.Kind != systable.KindTable && heap.Kind != systable.KindToast {
		return record.InvalidOid, fmt.Errorf("%w: cannot index %s %q", ErrSchema, heap.Kind, heap.Name)
	}
	if len(keys) == 0 {
		return record.InvalidOid, fmt.Errorf("%w: index %q needs at least one key column", ErrSchema, name)
	}
	cols := make([]ColumnDefinition, 0, len(keys))
	for _, k := range keys {
		a, ok := heap.AttrByNum(k)
		if !ok || k <= 0 {
			return record.InvalidOid, fmt.Errorf("%w: relation %q has no column %d", ErrSchema, heap.Name, k)
		}
		cols = append(cols, ColumnDefinition{Name: a.Name, TypeID: a.TypeID, Len: a.Len})
	}

	id, err := m.createRelation(ctx, tx, CreateParams{
		Name:            name,
		Namespace:       heap.Namespace,
		Kind:            systable.KindIndex,
		Shared:          heap.Shared,
		Tuple:           TupleDescriptor{Columns: cols},
		AllowSystemMods: allowSystemMods,
	})
	if err != nil {
		return record.InvalidOid, err
	}

	idx, err := systable.Open(ctx, m.store, tx, systable.Indexes, lock.RowExclusive)
	if err != nil {
		return record.InvalidOid, err
	}
	err = idx.Insert(&systable.IndexRow{IndexRelID: id, HeapRelID: heapID, Keys: append([]int16(nil), keys...), Unique: unique})
	idx.Close()
	if err != nil {
		return record.InvalidOid, err
	}

	err = m.updateClass(ctx, tx, heapID, func(r *systable.ClassRow) bool {
		if r.HasIndex {
			return false
		}
		r.HasIndex = true
		return true
	})
	if err != nil {
		return record.InvalidOid, err
	}

	if err := m.builder.Build(ctx, heap.Storage, relcache.FileSetFor(m.cache.DataDir(), id, heap.Shared), keys); err != nil {
		return record.InvalidOid, err
	}
	return id, nil
}
