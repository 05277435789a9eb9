package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/novacat/internal/catalog"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/txn"
)

var bootstrapNamespaces = []systable.NamespaceRow{
	{ID: record.NamespaceCatalog, Name: "pg_catalog"},
	{ID: record.NamespaceToast, Name: "pg_toast"},
	{ID: record.NamespacePublic, Name: "public"},
}

type bootstrapCatalog struct {
	name   string
	shared bool
	cols   []catalog.ColumnDefinition
}

func col(name string, typ record.Oid) catalog.ColumnDefinition {
	return catalog.ColumnDefinition{Name: name, TypeID: typ, NotNull: true}
}

// Catalogs that describe themselves plus the shared database catalog.
var bootstrapCatalogs = []bootstrapCatalog{
	{name: "pg_type", cols: []catalog.ColumnDefinition{
		col("typname", record.TypeName),
		col("typnamespace", record.TypeOid),
		col("typlen", record.TypeInt2),
		col("typbyval", record.TypeBool),
		col("typtype", record.TypeChar),
		col("typrelid", record.TypeOid),
	}},
	{name: "pg_attribute", cols: []catalog.ColumnDefinition{
		col("attrelid", record.TypeOid),
		col("attname", record.TypeName),
		col("atttypid", record.TypeOid),
		col("attlen", record.TypeInt2),
		col("attnum", record.TypeInt2),
		col("attnotnull", record.TypeBool),
		col("atthasdef", record.TypeBool),
	}},
	{name: "pg_proc", cols: []catalog.ColumnDefinition{
		col("proname", record.TypeName),
		col("pronamespace", record.TypeOid),
		col("prorettype", record.TypeOid),
	}},
	{name: "pg_class", cols: []catalog.ColumnDefinition{
		col("relname", record.TypeName),
		col("relnamespace", record.TypeOid),
		col("reltype", record.TypeOid),
		col("relkind", record.TypeChar),
		col("relpages", record.TypeInt4),
		col("reltuples", record.TypeFloat4),
		col("reltoastrelid", record.TypeOid),
		col("relnatts", record.TypeInt2),
		col("relchecks", record.TypeInt2),
	}},
	{name: "pg_database", shared: true, cols: []catalog.ColumnDefinition{
		col("datname", record.TypeName),
		col("datdba", record.TypeInt4),
		col("datpath", record.TypeText),
	}},
}

// initCatalog registers the system catalogs when the catalog file is new and
// pins the bootstrap relations in the relation cache.
func (db *Database) initCatalog(ctx context.Context) error {
	err := db.Exec(ctx, func(tx *txn.Txn) error {
		done, err := db.bootstrapped(ctx, tx)
		if err != nil || done {
			return err
		}
		return db.runBootstrap(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return db.pinBootstrap(ctx)
}

func (db *Database) bootstrapped(ctx context.Context, tx *txn.Txn) (bool, error) {
	ns, err := systable.Open(ctx, db.store, tx, systable.Namespaces, lock.AccessShare)
	if err != nil {
		return false, err
	}
	defer ns.Close()
	_, ok, err := ns.Get(systable.K().Oid(record.NamespaceCatalog))
	return ok, err
}

// runBootstrap writes the catalogs with index maintenance off, then builds
// every secondary index in one pass.
func (db *Database) runBootstrap(ctx context.Context, tx *txn.Txn) error {
	db.store.SetIgnoreIndexes(true)
	defer db.store.SetIgnoreIndexes(false)

	ns, err := systable.Open(ctx, db.store, tx, systable.Namespaces, lock.RowExclusive)
	if err != nil {
		return err
	}
	for i := range bootstrapNamespaces {
		row := bootstrapNamespaces[i]
		if err := ns.Insert(&row); err != nil {
			ns.Close()
			return err
		}
	}
	ns.Close()

	for _, c := range bootstrapCatalogs {
		id, err := db.catalog.CreateCatalogedRelation(ctx, tx, catalog.CreateParams{
			Name:            c.name,
			Namespace:       record.NamespaceCatalog,
			Tuple:           catalog.TupleDescriptor{Columns: c.cols},
			Kind:            systable.KindTable,
			Shared:          c.shared,
			AllowSystemMods: true,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", c.name, err)
		}
		slog.Debug("engine: bootstrap catalog", "name", c.name, "oid", id)
	}

	if err := db.store.RebuildIndexes(tx.Bolt()); err != nil {
		return err
	}
	slog.Info("engine: catalog bootstrapped", "catalogs", len(bootstrapCatalogs))
	return nil
}

// pinBootstrap keeps the pinned bootstrap relations resident. Creation pins
// them already; a reopened database has to do it here.
func (db *Database) pinBootstrap(ctx context.Context) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	defer db.Abort(tx)

	for _, b := range db.bootstrap {
		if !b.Pin || db.cache.IsPinned(b.ID) {
			continue
		}
		d, err := db.cache.Lookup(ctx, tx, b.ID)
		if errors.Is(err, relcache.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("pin %s: %w", b.Name, err)
		}
		db.cache.Pin(d)
		db.cache.Release(d)
	}
	return nil
}
