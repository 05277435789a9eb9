package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuannm99/novacat/internal/bufferpool"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/index"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/storage"
	"github.com/tuannm99/novacat/internal/txn"
)

// RuleRemover drops the rewrite rules attached to a relation.
type RuleRemover interface {
	RemoveRules(ctx context.Context, tx *txn.Txn, rel record.Oid) error
}

// TriggerRemover drops the triggers attached to a relation.
type TriggerRemover interface {
	RemoveTriggers(ctx context.Context, tx *txn.Txn, rel record.Oid) error
}

type noRules struct{}

func (noRules) RemoveRules(context.Context, *txn.Txn, record.Oid) error { return nil }

type noTriggers struct{}

func (noTriggers) RemoveTriggers(context.Context, *txn.Txn, record.Oid) error { return nil }

type Options struct {
	Store    *systable.Store
	Cache    *relcache.Cache
	Pool     *bufferpool.Pool
	IDs      *IdentityAllocator
	Builder  index.Builder
	Rules    RuleRemover
	Triggers TriggerRemover
	Observer *Observer
}

// Manager creates, alters and drops cataloged relations. Every call runs
// inside the caller's transaction and never commits or aborts it; on error
// the caller must abort.
type Manager struct {
	store    *systable.Store
	cache    *relcache.Cache
	pool     *bufferpool.Pool
	sm       *storage.StorageManager
	ids      *IdentityAllocator
	builder  index.Builder
	rules    RuleRemover
	triggers TriggerRemover
	obs      *Observer
}

func NewManager(o Options) *Manager {
	m := &Manager{
		store:    o.Store,
		cache:    o.Cache,
		pool:     o.Pool,
		sm:       o.Pool.StorageManager(),
		ids:      o.IDs,
		builder:  o.Builder,
		rules:    o.Rules,
		triggers: o.Triggers,
		obs:      o.Observer,
	}
	if m.builder == nil {
		m.builder = index.NewBTreeBuilder(o.Pool)
	}
	if m.rules == nil {
		m.rules = noRules{}
	}
	if m.triggers == nil {
		m.triggers = noTriggers{}
	}
	return m
}

func (m *Manager) Store() *systable.Store { return m.store }

func (m *Manager) Cache() *relcache.Cache { return m.cache }

// openRelation locks id in mode and returns its descriptor. The lock is
// kept until the transaction ends even if the lookup fails.
func (m *Manager) openRelation(ctx context.Context, tx *txn.Txn, id record.Oid, mode lock.Mode) (*relcache.Descriptor, error) {
	if err := tx.Lock(ctx, id, mode); err != nil {
		return nil, err
	}
	d, err := m.cache.Lookup(ctx, tx, id)
	if errors.Is(err, relcache.ErrNotFound) {
		return nil, fmt.Errorf("%w: relation %d", ErrRelationNotFound, id)
	}
	return d, err
}

// classRow fetches the visible class row of id.
func (m *Manager) classRow(ctx context.Context, tx *txn.Txn, id record.Oid) (*systable.ClassRow, error) {
	cls, err := systable.Open(ctx, m.store, tx, systable.Classes, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer cls.Close()

	row, ok, err := cls.Get(systable.K().Oid(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: relation %d", ErrRelationNotFound, id)
	}
	return row, nil
}

// updateClass applies fn to the class row of id and writes it back when fn
// reports a change.
func (m *Manager) updateClass(ctx context.Context, tx *txn.Txn, id record.Oid, fn func(*systable.ClassRow) bool) error {
	cls, err := systable.Open(ctx, m.store, tx, systable.Classes, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer cls.Close()

	row, ok, err := cls.Get(systable.K().Oid(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: relation %d", ErrRelationNotFound, id)
	}
	if !fn(row) {
		return nil
	}
	return cls.Update(row)
}

func isProtectedNamespace(ns record.Oid) bool {
	return ns == record.NamespaceCatalog || ns == record.NamespaceToast
}

// unlinkStorage removes a relation's files. Index files carry btree
// metadata next to the segments.
func (m *Manager) unlinkStorage(kind systable.RelKind, fs storage.LocalFileSet) error {
	if err := m.pool.DiscardRelation(fs); err != nil {
		return err
	}
	if kind == systable.KindIndex {
		return index.Drop(fs)
	}
	return m.sm.Unlink(fs)
}
