package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/txn"
)

// DropCatalogedRelation removes id from every catalog, together with its
// indexes and toast table. Storage is unlinked when the transaction commits;
// the exclusive lock is held until then.
func (m *Manager) DropCatalogedRelation(ctx context.Context, tx *txn.Txn, id record.Oid, allowSystemMods bool) error {
	err := m.obs.observe(ctx, "drop_relation", func(ctx context.Context) error {
		return m.dropRelation(ctx, tx, id, allowSystemMods)
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

func (m *Manager) dropRelation(ctx context.Context, tx *txn.Txn, id record.Oid, allowSystemMods bool) error {
	d, err := m.openRelation(ctx, tx, id, lock.AccessExclusive)
	if err != nil {
		return err
	}
	defer m.cache.Release(d)

	if !allowSystemMods && (isProtectedNamespace(d.Namespace) || d.Pinned || m.cache.IsPinned(id)) {
		return fmt.Errorf("%w: permission denied to drop %q", ErrProtectedRelation, d.Name)
	}
	if err := m.checkDependents(ctx, tx, d); err != nil {
		return err
	}

	if d.Kind != systable.KindView {
		if err := m.pool.DropRelation(d.Storage); err != nil {
			return err
		}
	}
	if err := m.rules.RemoveRules(ctx, tx, id); err != nil {
		return err
	}
	if err := m.triggers.RemoveTriggers(ctx, tx, id); err != nil {
		return err
	}

	if err := deleteAll(ctx, m.store, tx, systable.Inherits, systable.K().Oid(id)); err != nil {
		return err
	}

	indexes, err := m.indexesOf(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if err := m.dropRelation(ctx, tx, ix.IndexRelID, true); err != nil {
			return err
		}
	}
	if d.Kind == systable.KindIndex {
		if err := deleteAll(ctx, m.store, tx, systable.Indexes, systable.K().Oid(id)); err != nil {
			return err
		}
	}

	if err := deleteAll(ctx, m.store, tx, systable.Attributes, systable.K().Oid(id)); err != nil {
		return err
	}
	if err := deleteAll(ctx, m.store, tx, systable.Descriptions, systable.K().Oid(id)); err != nil {
		return err
	}
	if err := deleteAll(ctx, m.store, tx, systable.Statistics, systable.K().Oid(id)); err != nil {
		return err
	}
	if err := m.removeConstraints(ctx, tx, id); err != nil {
		return err
	}

	if err := m.deleteType(ctx, tx, d); err != nil {
		return err
	}
	toast, err := m.deleteClass(ctx, tx, id)
	if err != nil {
		return err
	}

	if d.Kind != systable.KindView {
		kind, fs := d.Kind, d.Storage
		tx.OnCommit(func() error { return m.unlinkStorage(kind, fs) })
	}
	m.cache.Forget(id)

	slog.Info("catalog: relation dropped",
		"name", d.Name,
		"oid", id,
		"kind", d.Kind.String(),
		"txn", tx.Label(),
	)

	if toast.Valid() {
		return m.dropRelation(ctx, tx, toast, true)
	}
	return nil
}

// checkDependents fails when rel still has inheriting children or when
// columns of other relations use its row type. Nothing has been deleted yet
// when it runs.
func (m *Manager) checkDependents(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor) error {
	inh, err := systable.Open(ctx, m.store, tx, systable.Inherits, lock.AccessShare)
	if err != nil {
		return err
	}
	kids, err := inh.CollectIndex(systable.IdxInheritParent, systable.K().Oid(d.ID))
	inh.Close()
	if err != nil {
		return err
	}
	if len(kids) > 0 {
		return fmt.Errorf("%w: relation %q inherits from %q", ErrDependentChildren, m.relName(ctx, tx, kids[0].RelID), d.Name)
	}

	att, err := systable.Open(ctx, m.store, tx, systable.Attributes, lock.AccessShare)
	if err != nil {
		return err
	}
	defer att.Close()
	users, err := att.CollectIndex(systable.IdxAttrType, systable.K().Oid(d.TypeID))
	if err != nil {
		return err
	}
	for _, a := range users {
		if a.RelID != d.ID {
			return fmt.Errorf("%w: column %q of relation %q uses type %q",
				ErrDependentColumns, a.Name, m.relName(ctx, tx, a.RelID), d.Name)
		}
	}
	return nil
}

// relName is for error messages only.
func (m *Manager) relName(ctx context.Context, tx *txn.Txn, id record.Oid) string {
	row, err := m.classRow(ctx, tx, id)
	if err != nil {
		return id.String()
	}
	return row.Name
}

func (m *Manager) indexesOf(ctx context.Context, tx *txn.Txn, heap record.Oid) ([]*systable.IndexRow, error) {
	idx, err := systable.Open(ctx, m.store, tx, systable.Indexes, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	return idx.CollectIndex(systable.IdxIndexHeap, systable.K().Oid(heap))
}

func (m *Manager) deleteType(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor) error {
	types, err := systable.Open(ctx, m.store, tx, systable.Types, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer types.Close()

	row, ok, err := types.Get(systable.K().Oid(d.TypeID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: type %d of relation %q is missing", ErrInvariantViolation, d.TypeID, d.Name)
	}
	return types.Delete(row)
}

// deleteClass removes the class row of id and returns its toast link.
func (m *Manager) deleteClass(ctx context.Context, tx *txn.Txn, id record.Oid) (record.Oid, error) {
	cls, err := systable.Open(ctx, m.store, tx, systable.Classes, lock.RowExclusive)
	if err != nil {
		return record.InvalidOid, err
	}
	defer cls.Close()

	row, ok, err := cls.Get(systable.K().Oid(id))
	if err != nil {
		return record.InvalidOid, err
	}
	if !ok {
		return record.InvalidOid, fmt.Errorf("%w: class row of %d is missing", ErrInvariantViolation, id)
	}
	if err := cls.Delete(row); err != nil {
		return record.InvalidOid, err
	}
	return row.ToastRelID, nil
}
