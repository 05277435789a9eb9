package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tuannm99/novacat/internal/catalog"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/txn"
)

// RelationInfo is one line of the catalog listing.
type RelationInfo struct {
	ID        record.Oid
	Name      string
	Namespace string
	Kind      systable.RelKind
	Natts     int16
	Checks    int16
	Pinned    bool
}

// CreateTable creates a user table in the public namespace in its own
// transaction.
func (db *Database) CreateTable(ctx context.Context, name string, cols []catalog.ColumnDefinition, cons *catalog.ConstraintBlock) (record.Oid, error) {
	var id record.Oid
	err := db.Exec(ctx, func(tx *txn.Txn) error {
		var err error
		id, err = db.catalog.CreateCatalogedRelation(ctx, tx, catalog.CreateParams{
			Name:      name,
			Namespace: record.NamespacePublic,
			Tuple:     catalog.TupleDescriptor{Columns: cols, Constraints: cons},
			Kind:      systable.KindTable,
		})
		return err
	})
	return id, err
}

// Resolve finds a relation by name inside tx.
func (db *Database) Resolve(ctx context.Context, tx *txn.Txn, ns record.Oid, name string) (record.Oid, error) {
	d, err := db.cache.LookupByName(ctx, tx, ns, name)
	if errors.Is(err, relcache.ErrNotFound) {
		return record.InvalidOid, fmt.Errorf("%w: %q", catalog.ErrRelationNotFound, name)
	}
	if err != nil {
		return record.InvalidOid, err
	}
	defer db.cache.Release(d)
	return d.ID, nil
}

// DropTable drops a public relation by name in its own transaction.
func (db *Database) DropTable(ctx context.Context, name string) error {
	return db.Exec(ctx, func(tx *txn.Txn) error {
		id, err := db.Resolve(ctx, tx, record.NamespacePublic, name)
		if err != nil {
			return err
		}
		return db.catalog.DropCatalogedRelation(ctx, tx, id, false)
	})
}

// TruncateTable empties a public relation by name in its own transaction.
func (db *Database) TruncateTable(ctx context.Context, name string) error {
	return db.Exec(ctx, func(tx *txn.Txn) error {
		id, err := db.Resolve(ctx, tx, record.NamespacePublic, name)
		if err != nil {
			return err
		}
		return db.catalog.TruncateRelationStorage(ctx, tx, id)
	})
}

// Relations lists every visible class row ordered by namespace and name.
func (db *Database) Relations(ctx context.Context) ([]RelationInfo, error) {
	var out []RelationInfo
	err := db.Exec(ctx, func(tx *txn.Txn) error {
		nsNames, err := db.namespaceNames(ctx, tx)
		if err != nil {
			return err
		}

		cls, err := systable.Open(ctx, db.store, tx, systable.Classes, lock.AccessShare)
		if err != nil {
			return err
		}
		defer cls.Close()

		rows, err := cls.Collect(nil)
		if err != nil {
			return err
		}
		for _, r := range rows {
			ns, ok := nsNames[r.Namespace]
			if !ok {
				ns = r.Namespace.String()
			}
			out = append(out, RelationInfo{
				ID:        r.ID,
				Name:      r.Name,
				Namespace: ns,
				Kind:      r.Kind,
				Natts:     r.Natts,
				Checks:    r.Checks,
				Pinned:    db.cache.IsPinned(r.ID),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (db *Database) namespaceNames(ctx context.Context, tx *txn.Txn) (map[record.Oid]string, error) {
	ns, err := systable.Open(ctx, db.store, tx, systable.Namespaces, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer ns.Close()

	rows, err := ns.Collect(nil)
	if err != nil {
		return nil, err
	}
	names := make(map[record.Oid]string, len(rows))
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}
