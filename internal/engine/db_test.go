package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novacat/internal"
	"github.com/tuannm99/novacat/internal/catalog"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/txn"
)

func testConfig(t *testing.T, dir string) *internal.NovaCatConfig {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  workdir: %s\nlock:\n  deadlock_timeout: 100ms\n", filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := internal.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func openDB(t *testing.T, cfg *internal.NovaCatConfig) *Database {
	t.Helper()
	db, err := Open(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func relationNames(t *testing.T, db *Database) map[string]RelationInfo {
	t.Helper()
	rels, err := db.Relations(context.Background())
	require.NoError(t, err)
	out := make(map[string]RelationInfo, len(rels))
	for _, r := range rels {
		out[r.Name] = r
	}
	return out
}

func TestOpen_Bootstraps(t *testing.T) {
	db := openDB(t, testConfig(t, t.TempDir()))

	rels := relationNames(t, db)
	for _, name := range []string{"pg_type", "pg_attribute", "pg_proc", "pg_class", "pg_database"} {
		require.Contains(t, rels, name)
		assert.Equal(t, "pg_catalog", rels[name].Namespace)
	}
	assert.Equal(t, systable.ClassCatalogID, rels["pg_class"].ID)
	assert.True(t, rels["pg_class"].Pinned)
	assert.False(t, rels["pg_database"].Pinned)

	pgdb := relcache.FileSetFor(db.DataDir, rels["pg_database"].ID, true)
	assert.DirExists(t, pgdb.Dir)
	assert.Equal(t, "global", filepath.Base(pgdb.Dir))
}

func TestOpen_ReopenKeepsCatalogAndPins(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ctx := context.Background()

	db, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = db.CreateTable(ctx, "accounts", []catalog.ColumnDefinition{
		{Name: "id", TypeID: record.TypeInt4},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db = openDB(t, cfg)
	rels := relationNames(t, db)
	assert.Contains(t, rels, "accounts")
	assert.Equal(t, "public", rels["accounts"].Namespace)
	assert.True(t, db.Cache().IsPinned(systable.TypeCatalogID))

	// the name index was rebuilt after bootstrap
	require.NoError(t, db.Exec(ctx, func(tx *txn.Txn) error {
		id, err := db.Resolve(ctx, tx, record.NamespaceCatalog, "pg_attribute")
		assert.Equal(t, systable.AttributeCatalogID, id)
		return err
	}))
	_, err = db.CreateTable(ctx, "accounts", []catalog.ColumnDefinition{{Name: "a", TypeID: record.TypeInt4}}, nil)
	require.ErrorIs(t, err, catalog.ErrNameConflict)
}

func TestClosedDatabase(t *testing.T) {
	db, err := Open(context.Background(), testConfig(t, t.TempDir()), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Begin(false)
	require.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestTableLifecycle(t *testing.T) {
	db := openDB(t, testConfig(t, t.TempDir()))
	ctx := context.Background()

	id, err := db.CreateTable(ctx, "orders", []catalog.ColumnDefinition{
		{Name: "id", TypeID: record.TypeInt4, NotNull: true},
		{Name: "qty", TypeID: record.TypeInt4},
	}, &catalog.ConstraintBlock{
		RawChecks: []catalog.RawCheck{{Name: "qty_pos", Source: "qty > 0"}},
	})
	require.NoError(t, err)

	rels := relationNames(t, db)
	require.Contains(t, rels, "orders")
	assert.Equal(t, id, rels["orders"].ID)
	assert.Equal(t, int16(2), rels["orders"].Natts)
	assert.Equal(t, int16(1), rels["orders"].Checks)

	require.NoError(t, db.TruncateTable(ctx, "orders"))
	require.NoError(t, db.DropTable(ctx, "orders"))
	assert.NotContains(t, relationNames(t, db), "orders")

	err = db.DropTable(ctx, "orders")
	require.ErrorIs(t, err, catalog.ErrRelationNotFound)
}

func TestExec_AbortsOnError(t *testing.T) {
	db := openDB(t, testConfig(t, t.TempDir()))
	ctx := context.Background()

	err := db.Exec(ctx, func(tx *txn.Txn) error {
		_, err := db.Catalog().CreateCatalogedRelation(ctx, tx, catalog.CreateParams{
			Name:      "scratch",
			Namespace: record.NamespacePublic,
			Tuple:     catalog.TupleDescriptor{Columns: []catalog.ColumnDefinition{{Name: "a", TypeID: record.TypeInt4}}},
			Kind:      systable.KindTable,
		})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.NotContains(t, relationNames(t, db), "scratch")
}
