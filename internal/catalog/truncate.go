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

// TruncateRelationStorage empties id and rebuilds its indexes. Discarded
// pages cannot be rolled back, so inside a transaction block only relations
// created by that transaction qualify.
func (m *Manager) TruncateRelationStorage(ctx context.Context, tx *txn.Txn, id record.Oid) error {
	return m.obs.observe(ctx, "truncate_relation", func(ctx context.Context) error {
		return m.truncate(ctx, tx, id)
	})
}

func (m *Manager) truncate(ctx context.Context, tx *txn.Txn, id record.Oid) error {
	d, err := m.openRelation(ctx, tx, id, lock.AccessExclusive)
	if err != nil {
		return err
	}
	defer m.cache.Release(d)

	if tx.InBlock() && d.CreatedXid != tx.Xid() {
		return fmt.Errorf("%w: TRUNCATE TABLE %q", ErrTransactionBlock, d.Name)
	}
	switch d.Kind {
	case systable.KindView:
		return fmt.Errorf("%w: %q is a view", ErrSchema, d.Name)
	case systable.KindIndex:
		// indexes are reset through their heap
		return fmt.Errorf("%w: %q is an index", ErrSchema, d.Name)
	}

	if err := m.pool.DiscardRelation(d.Storage); err != nil {
		return err
	}
	if err := m.sm.Truncate(d.Storage, 0); err != nil {
		return err
	}

	indexes, err := m.indexesOf(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if err := tx.Lock(ctx, ix.IndexRelID, lock.AccessExclusive); err != nil {
			return err
		}
		cls, err := m.classRow(ctx, tx, ix.IndexRelID)
		if err != nil {
			return err
		}
		ifs := relcache.FileSetFor(m.cache.DataDir(), cls.ID, cls.Shared)
		if err := m.pool.DiscardRelation(ifs); err != nil {
			return err
		}
		if err := m.sm.Truncate(ifs, 0); err != nil {
			return err
		}
		if err := m.builder.Build(ctx, d.Storage, ifs, ix.Keys); err != nil {
			return err
		}
	}

	slog.Info("catalog: relation truncated",
		"name", d.Name,
		"oid", id,
		"indexes", len(indexes),
		"txn", tx.Label(),
	)
	return nil
}
