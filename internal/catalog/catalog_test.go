package catalog

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/tuannm99/novacat/internal/bufferpool"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/expr"
	"github.com/tuannm99/novacat/internal/index"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/storage"
	"github.com/tuannm99/novacat/internal/txn"
)

type testEnv struct {
	m     *Manager
	txm   *txn.Manager
	store *systable.Store
	cache *relcache.Cache
	pool  *bufferpool.Pool
	obs   *Observer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "catalog.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	locks := lock.NewManager(100 * time.Millisecond)
	store := systable.NewStore(locks)
	require.NoError(t, db.Update(store.Init))

	cache := relcache.New(store, dir, 64)
	txm := txn.NewManager(db, locks, nil)
	txm.OnInvalidate(cache.Invalidate)

	pool := bufferpool.NewPool(storage.NewStorageManager(), 32)
	obs := NewObserver(prometheus.NewRegistry())
	m := NewManager(Options{
		Store:    store,
		Cache:    cache,
		Pool:     pool,
		IDs:      NewIdentityAllocator(DefaultBootstrapIdentities, record.NewOidGenerator(1)),
		Observer: obs,
	})
	return &testEnv{m: m, txm: txm, store: store, cache: cache, pool: pool, obs: obs}
}

func (e *testEnv) begin(t *testing.T, block bool) *txn.Txn {
	t.Helper()
	tx, err := e.txm.Begin(txn.BeginOptions{Block: block})
	require.NoError(t, err)
	return tx
}

func (e *testEnv) commit(t *testing.T, tx *txn.Txn) {
	t.Helper()
	require.NoError(t, e.txm.Commit(context.Background(), tx))
}

func (e *testEnv) fileSet(id record.Oid) storage.LocalFileSet {
	return relcache.FileSetFor(e.cache.DataDir(), id, false)
}

func intCol(name string) ColumnDefinition {
	return ColumnDefinition{Name: name, TypeID: record.TypeInt4}
}

func relParams(name string, kind systable.RelKind, cols ...ColumnDefinition) CreateParams {
	return CreateParams{
		Name:      name,
		Namespace: record.NamespacePublic,
		Kind:      kind,
		Tuple:     TupleDescriptor{Columns: cols},
	}
}

func (e *testEnv) createTable(t *testing.T, tx *txn.Txn, name string, cols ...ColumnDefinition) record.Oid {
	t.Helper()
	id, err := e.m.CreateCatalogedRelation(context.Background(), tx, relParams(name, systable.KindTable, cols...))
	require.NoError(t, err)
	return id
}

func rows[R any, P interface {
	*R
	systable.Row
}](t *testing.T, e *testEnv, tx *txn.Txn, def *systable.Def[R], prefix []byte) []P {
	t.Helper()
	tbl, err := systable.Open[R, P](context.Background(), e.store, tx, def, lock.AccessShare)
	require.NoError(t, err)
	defer tbl.Close()
	out, err := tbl.Collect(prefix)
	require.NoError(t, err)
	return out
}

func rowsByIndex[R any, P interface {
	*R
	systable.Row
}](t *testing.T, e *testEnv, tx *txn.Txn, def *systable.Def[R], idx string, prefix []byte) []P {
	t.Helper()
	tbl, err := systable.Open[R, P](context.Background(), e.store, tx, def, lock.AccessShare)
	require.NoError(t, err)
	defer tbl.Close()
	out, err := tbl.CollectIndex(idx, prefix)
	require.NoError(t, err)
	return out
}

func (e *testEnv) class(t *testing.T, tx *txn.Txn, id record.Oid) *systable.ClassRow {
	t.Helper()
	row, err := e.m.classRow(context.Background(), tx, id)
	require.NoError(t, err)
	return row
}

func (e *testEnv) checkNames(t *testing.T, tx *txn.Txn, id record.Oid) []string {
	t.Helper()
	var names []string
	for _, r := range rows(t, e, tx, systable.Checks, systable.K().Oid(id)) {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// cookedCheck serializes src the way stored checks are.
func cookedCheck(t *testing.T, src string, cols ...ColumnDefinition) []byte {
	t.Helper()
	sc := &expr.Scope{RelName: "t"}
	for i, c := range cols {
		sc.Columns = append(sc.Columns, expr.Column{Name: c.Name, Num: int16(i + 1), Type: c.TypeID})
	}
	raw, err := expr.Parse(src)
	require.NoError(t, err)
	n, err := expr.Cook(raw, sc)
	require.NoError(t, err)
	b, err := expr.EncodeList(expr.MakeAndsImplicit(n))
	require.NoError(t, err)
	return b
}

func TestCreate_RegistersCatalogRows(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)

	id := e.createTable(t, tx, "t", intCol("a"), intCol("b"))
	view, err := e.m.CreateCatalogedRelation(context.Background(), tx, relParams("v", systable.KindView, intCol("a"), intCol("b")))
	require.NoError(t, err)
	seq, err := e.m.CreateCatalogedRelation(context.Background(), tx, relParams("s", systable.KindSequence, intCol("last_value")))
	require.NoError(t, err)
	e.commit(t, tx)

	tx = e.begin(t, false)
	defer e.txm.Abort(tx)

	require.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(id)), 2+7)
	require.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(view)), 2)
	require.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(seq)), 1+7)

	types := rowsByIndex(t, e, tx, systable.Types, systable.IdxTypeRel, systable.K().Oid(id))
	require.Len(t, types, 1)
	assert.Equal(t, byte('c'), types[0].Type)
	assert.Equal(t, record.FuncOidIn, types[0].Input)
	assert.Equal(t, record.FuncOidOut, types[0].Output)

	cls := e.class(t, tx, id)
	assert.Equal(t, "t", cls.Name)
	assert.Equal(t, int16(2), cls.Natts)
	assert.Equal(t, types[0].ID, cls.TypeID)
	assert.Equal(t, int32(10), cls.Pages)
	assert.Equal(t, 1000.0, cls.Tuples)

	assert.Equal(t, int32(0), e.class(t, tx, view).Pages)
	assert.Equal(t, int32(1), e.class(t, tx, seq).Pages)

	sm := e.pool.StorageManager()
	assert.True(t, sm.Exists(e.fileSet(id)))
	assert.True(t, sm.Exists(e.fileSet(seq)))
	assert.False(t, sm.Exists(e.fileSet(view)))

	d, err := e.cache.LookupByName(context.Background(), tx, record.NamespacePublic, "t")
	require.NoError(t, err)
	defer e.cache.Release(d)
	assert.Equal(t, id, d.ID)
	assert.Zero(t, d.CreatedXid)
	assert.Len(t, d.UserAttrs(), 2)
}

func TestCreate_SystemColumnNames(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	for _, name := range []string{"ctid", "oid", "xmin", "cmin", "xmax", "cmax", "tableoid"} {
		_, err := e.m.CreateCatalogedRelation(ctx, tx, relParams("t_"+name, systable.KindTable, intCol(name)))
		require.ErrorIs(t, err, ErrSchema, name)
	}

	_, err := e.m.CreateCatalogedRelation(ctx, tx, relParams("v", systable.KindView, intCol("xmin")))
	require.NoError(t, err)
}

func TestCreate_ColumnChecks(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	_, err := e.m.CreateCatalogedRelation(ctx, tx, relParams("dup", systable.KindTable, intCol("x"), intCol("x")))
	require.ErrorIs(t, err, ErrSchema)

	_, err = e.m.CreateCatalogedRelation(ctx, tx, relParams("none", systable.KindTable))
	require.ErrorIs(t, err, ErrSchema)

	wide := make([]ColumnDefinition, MaxColumns+1)
	for i := range wide {
		wide[i] = intCol("c" + record.Oid(i).String())
	}
	_, err = e.m.CreateCatalogedRelation(ctx, tx, relParams("wide", systable.KindTable, wide...))
	require.ErrorIs(t, err, ErrSchema)
}

func TestCreate_NameConflict(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	e.createTable(t, tx, "t", intCol("a"))
	e.commit(t, tx)

	tx = e.begin(t, false)
	defer e.txm.Abort(tx)
	_, err := e.m.CreateCatalogedRelation(context.Background(), tx, relParams("t", systable.KindTable, intCol("b")))
	require.ErrorIs(t, err, ErrNameConflict)

	// same name in another namespace is fine
	p := relParams("t", systable.KindTable, intCol("b"))
	p.Namespace = 3000
	_, err = e.m.CreateCatalogedRelation(context.Background(), tx, p)
	require.NoError(t, err)
}

func TestCreate_SystemNamespace(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	p := relParams("pg_class", systable.KindTable, intCol("relname"))
	p.Namespace = record.NamespaceCatalog
	_, err := e.m.CreateCatalogedRelation(ctx, tx, p)
	require.ErrorIs(t, err, ErrProtectedRelation)

	p.AllowSystemMods = true
	id, err := e.m.CreateCatalogedRelation(ctx, tx, p)
	require.NoError(t, err)
	assert.Equal(t, record.Oid(1259), id)
	assert.True(t, e.cache.IsPinned(id))

	p = relParams("pg_database", systable.KindTable, intCol("datname"))
	p.Namespace = record.NamespaceCatalog
	p.AllowSystemMods = true
	id, err = e.m.CreateCatalogedRelation(ctx, tx, p)
	require.NoError(t, err)
	assert.Equal(t, record.Oid(1262), id)
	assert.False(t, e.cache.IsPinned(id))
}

func TestCreate_AbortRollsBack(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	id := e.createTable(t, tx, "t", intCol("a"))
	require.True(t, e.pool.StorageManager().Exists(e.fileSet(id)))
	e.txm.Abort(tx)

	assert.False(t, e.pool.StorageManager().Exists(e.fileSet(id)))
	assert.False(t, e.cache.Cached(id))

	tx = e.begin(t, false)
	defer e.txm.Abort(tx)
	_, err := e.cache.LookupByName(context.Background(), tx, record.NamespacePublic, "t")
	require.ErrorIs(t, err, relcache.ErrNotFound)
	require.Empty(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(id)))
}

func TestCreate_InlineConstraints(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	cols := []ColumnDefinition{
		{Name: "a", TypeID: record.TypeInt4, HasDefault: true},
		intCol("b"),
	}
	p := relParams("t", systable.KindTable, cols...)
	p.Tuple.Constraints = &ConstraintBlock{
		Checks:      []CookedCheck{{Name: "b_pos", Bin: cookedCheck(t, "b > 0", cols...)}},
		RawDefaults: []RawColumnDefault{{Num: 1, Source: "40 + 2"}},
		RawChecks:   []RawCheck{{Source: "a < 100"}},
	}
	id, err := e.m.CreateCatalogedRelation(ctx, tx, p)
	require.NoError(t, err)

	defs := rows(t, e, tx, systable.Defaults, systable.K().Oid(id))
	require.Len(t, defs, 1)
	assert.Equal(t, int16(1), defs[0].Num)
	assert.Equal(t, "42", defs[0].Src)

	assert.Equal(t, []string{"$2", "b_pos"}, e.checkNames(t, tx, id))
	assert.Equal(t, int16(2), e.class(t, tx, id).Checks)

	chk := rowsByIndex(t, e, tx, systable.Checks, systable.IdxCheckName, systable.K().Oid(id).Str("b_pos"))
	require.Len(t, chk, 1)
	assert.Equal(t, "(b > 0)", chk[0].Src)

	d, err := e.cache.Lookup(ctx, tx, id)
	require.NoError(t, err)
	defer e.cache.Release(d)
	assert.Equal(t, int16(2), d.Checks)
	assert.Equal(t, tx.Xid(), d.CreatedXid)
}

func TestStoreDefault_FlipsHasDefault(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	id := e.createTable(t, tx, "t", intCol("a"))
	bin, err := expr.Encode(expr.Const(int64(7), record.TypeInt4))
	require.NoError(t, err)
	require.NoError(t, e.m.StoreDefault(ctx, tx, id, 1, bin))

	att := rows(t, e, tx, systable.Attributes, systable.K().Oid(id).Int16(1))
	require.Len(t, att, 1)
	assert.True(t, att[0].HasDef)

	err = e.m.StoreDefault(ctx, tx, id, 1, bin)
	require.ErrorIs(t, err, ErrNameConflict)
}

func TestAddRawConstraints_GeneratedNames(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	ctx := context.Background()

	id := e.createTable(t, tx, "t", intCol("a"), intCol("b"))
	require.NoError(t, e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{
		{Source: "a > 0"},
		{Source: "b > 0"},
	}))
	assert.Equal(t, []string{"$1", "$2"}, e.checkNames(t, tx, id))
	assert.Equal(t, int16(2), e.class(t, tx, id).Checks)

	require.NoError(t, e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{{Source: "a <> b"}}))
	assert.Equal(t, []string{"$1", "$2", "$3"}, e.checkNames(t, tx, id))
	e.commit(t, tx)

	tx = e.begin(t, false)
	err := e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{{Name: "$1", Source: "a > 1"}})
	require.ErrorIs(t, err, ErrNameConflict)
	e.txm.Abort(tx)

	tx = e.begin(t, false)
	err = e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{
		{Name: "c", Source: "a > 1"},
		{Name: "c", Source: "b > 1"},
	})
	require.ErrorIs(t, err, ErrNameConflict)
	e.txm.Abort(tx)

	tx = e.begin(t, false)
	defer e.txm.Abort(tx)
	assert.Equal(t, int16(3), e.class(t, tx, id).Checks)
}

func TestAddRawConstraints_GeneratedNamesSkipTaken(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	id := e.createTable(t, tx, "t", intCol("a"))
	require.NoError(t, e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{
		{Name: "$2", Source: "a > 0"},
		{Source: "a > 1"},
		{Source: "a > 2"},
	}))
	assert.Equal(t, []string{"$2", "$3", "$4"}, e.checkNames(t, tx, id))
}

func TestAddRawConstraints_Rejections(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	id := e.createTable(t, tx, "t", intCol("a"), ColumnDefinition{Name: "s", TypeID: record.TypeText})
	e.commit(t, tx)
	ctx := context.Background()

	checks := map[string]error{
		"count(*) > 0":              ErrConstraintExpression,
		"generate_series(1, a) > 0": ErrConstraintExpression,
		"a > (SELECT 1)":            ErrConstraintExpression,
		"other.a > 0":               ErrConstraintExpression,
		"nosuch > 0":                ErrConstraintExpression,
		"a + 1":                     ErrTypeMismatch,
		"a >":                       ErrConstraintExpression,
	}
	for src, want := range checks {
		tx := e.begin(t, false)
		err := e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{{Source: src}})
		assert.ErrorIs(t, err, want, src)
		e.txm.Abort(tx)
	}

	defaults := map[string]error{
		"a + 1":  ErrConstraintExpression,
		"true":   ErrTypeMismatch,
		"sum(1)": ErrConstraintExpression,
		"(1 + 2": ErrConstraintExpression,
	}
	for src, want := range defaults {
		tx := e.begin(t, false)
		err := e.m.AddRawConstraints(ctx, tx, id, []RawColumnDefault{{Num: 1, Source: src}}, nil)
		assert.ErrorIs(t, err, want, src)
		e.txm.Abort(tx)
	}

	tx = e.begin(t, false)
	defer e.txm.Abort(tx)
	err := e.m.AddRawConstraints(ctx, tx, id, []RawColumnDefault{{Num: 1, Source: "true"}}, nil)
	require.ErrorContains(t, err, "integer")
	require.ErrorContains(t, err, "boolean")

	err = e.m.AddRawConstraints(ctx, tx, id, []RawColumnDefault{{Num: 9, Source: "1"}}, nil)
	require.ErrorIs(t, err, ErrSchema)

	require.NoError(t, e.m.AddRawConstraints(ctx, tx, id, []RawColumnDefault{{Num: 2, Source: "'abc'"}}, nil))
	require.NoError(t, e.m.AddRawConstraints(ctx, tx, id, []RawColumnDefault{{Num: 1, Source: "NULL"}}, nil))
	defs := rows(t, e, tx, systable.Defaults, systable.K().Oid(id))
	require.Len(t, defs, 1)
	assert.Equal(t, int16(2), defs[0].Num)
}

func TestSetCheckCount_UnchangedStillInvalidates(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	id := e.createTable(t, tx, "t", intCol("a"))
	d, err := e.cache.Lookup(ctx, tx, id)
	require.NoError(t, err)
	e.cache.Release(d)
	require.True(t, e.cache.Cached(id))

	require.NoError(t, e.m.SetCheckCount(ctx, tx, id, 0))
	assert.False(t, e.cache.Cached(id))

	require.NoError(t, e.m.SetCheckCount(ctx, tx, id, 3))
	assert.Equal(t, int16(3), e.class(t, tx, id).Checks)
}

func TestRemoveCheckConstraint_Recursive(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	parent := e.createTable(t, tx, "parent", intCol("a"))
	child := e.createTable(t, tx, "child", intCol("a"), intCol("b"))
	require.NoError(t, e.m.StoreInheritance(ctx, tx, child, []record.Oid{parent}))

	for _, rel := range []record.Oid{parent, child} {
		require.NoError(t, e.m.AddRawConstraints(ctx, tx, rel, nil, []RawCheck{
			{Name: "mycheck", Source: "a > 0"},
			{Source: "a < 10"},
		}))
	}
	require.Equal(t, int16(2), e.class(t, tx, parent).Checks)
	require.Equal(t, int16(2), e.class(t, tx, child).Checks)

	n, err := e.m.RemoveCheckConstraint(ctx, tx, parent, "mycheck", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int16(1), e.class(t, tx, parent).Checks)
	assert.Equal(t, int16(1), e.class(t, tx, child).Checks)
	assert.Equal(t, []string{"$2"}, e.checkNames(t, tx, parent))
	assert.Equal(t, []string{"$2"}, e.checkNames(t, tx, child))

	n, err = e.m.RemoveCheckConstraint(ctx, tx, parent, "$2", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"$2"}, e.checkNames(t, tx, child))
}

func TestStoreCheckThenRemove_RestoresState(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	cols := []ColumnDefinition{intCol("a")}
	id := e.createTable(t, tx, "t", cols...)
	require.NoError(t, e.m.AddRawConstraints(ctx, tx, id, nil, []RawCheck{{Source: "a > 0"}}))

	beforeCount := e.class(t, tx, id).Checks
	beforeNames := e.checkNames(t, tx, id)

	require.NoError(t, e.m.StoreCheck(ctx, tx, id, "extra", cookedCheck(t, "a < 5 AND a <> 3", cols...)))
	require.NoError(t, e.m.SetCheckCount(ctx, tx, id, beforeCount+1))

	extra := rowsByIndex(t, e, tx, systable.Checks, systable.IdxCheckName, systable.K().Oid(id).Str("extra"))
	require.Len(t, extra, 1)
	assert.Equal(t, "((a < 5) AND (a <> 3))", extra[0].Src)

	n, err := e.m.RemoveCheckConstraint(ctx, tx, id, "extra", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, beforeCount, e.class(t, tx, id).Checks)
	assert.Equal(t, beforeNames, e.checkNames(t, tx, id))
}

func TestRemoveCheckConstraint_DuplicatesAndInvariant(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	cols := []ColumnDefinition{intCol("a")}
	id := e.createTable(t, tx, "t", cols...)
	bin := cookedCheck(t, "a > 0", cols...)

	// the count was never raised
	require.NoError(t, e.m.StoreCheck(ctx, tx, id, "dup", bin))
	_, err := e.m.RemoveCheckConstraint(ctx, tx, id, "dup", false)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestRemoveCheckConstraint_RemovesAllDuplicates(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	cols := []ColumnDefinition{intCol("a")}
	id := e.createTable(t, tx, "t", cols...)
	bin := cookedCheck(t, "a > 0", cols...)
	require.NoError(t, e.m.StoreCheck(ctx, tx, id, "dup", bin))
	require.NoError(t, e.m.StoreCheck(ctx, tx, id, "dup", bin))
	require.NoError(t, e.m.SetCheckCount(ctx, tx, id, 2))

	n, err := e.m.RemoveCheckConstraint(ctx, tx, id, "dup", false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, e.class(t, tx, id).Checks)
}

func TestStoreInheritance(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	p1 := e.createTable(t, tx, "p1", intCol("a"))
	p2 := e.createTable(t, tx, "p2", intCol("b"))
	child := e.createTable(t, tx, "c", intCol("a"), intCol("b"))
	require.NoError(t, e.m.StoreInheritance(ctx, tx, child, []record.Oid{p1, p2}))

	inh := rows(t, e, tx, systable.Inherits, systable.K().Oid(child))
	require.Len(t, inh, 2)
	assert.Equal(t, p1, inh[0].Parent)
	assert.Equal(t, int32(1), inh[0].Seq)
	assert.Equal(t, p2, inh[1].Parent)
	assert.True(t, e.class(t, tx, p1).HasSubclass)

	require.ErrorIs(t, e.m.StoreInheritance(ctx, tx, child, []record.Oid{child}), ErrSchema)
	require.ErrorIs(t, e.m.StoreInheritance(ctx, tx, child, []record.Oid{424242}), ErrRelationNotFound)
}

func TestStoreInheritance_DuplicateParent(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	p := e.createTable(t, tx, "p", intCol("a"))
	child := e.createTable(t, tx, "c", intCol("a"))
	require.ErrorIs(t, e.m.StoreInheritance(ctx, tx, child, []record.Oid{p, p}), ErrSchema)

	assert.Empty(t, rows(t, e, tx, systable.Inherits, systable.K().Oid(child)))
	assert.False(t, e.class(t, tx, p).HasSubclass)
}

func TestStoreInheritance_Cycle(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	a := e.createTable(t, tx, "a", intCol("x"))
	b := e.createTable(t, tx, "b", intCol("x"))
	c := e.createTable(t, tx, "c", intCol("x"))
	require.NoError(t, e.m.StoreInheritance(ctx, tx, a, []record.Oid{b}))
	require.NoError(t, e.m.StoreInheritance(ctx, tx, b, []record.Oid{c}))

	// direct and transitive loops
	require.ErrorIs(t, e.m.StoreInheritance(ctx, tx, b, []record.Oid{a}), ErrSchema)
	require.ErrorIs(t, e.m.StoreInheritance(ctx, tx, c, []record.Oid{a}), ErrSchema)
	assert.Empty(t, rows(t, e, tx, systable.Inherits, systable.K().Oid(c)))
	assert.False(t, e.class(t, tx, a).HasSubclass)
}

func TestDrop_DependentChildren(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	ctx := context.Background()
	parent := e.createTable(t, tx, "parent", intCol("a"))
	child := e.createTable(t, tx, "child", intCol("a"))
	require.NoError(t, e.m.StoreInheritance(ctx, tx, child, []record.Oid{parent}))
	e.commit(t, tx)

	tx = e.begin(t, false)
	err := e.m.DropCatalogedRelation(ctx, tx, parent, false)
	require.ErrorIs(t, err, ErrDependentChildren)
	require.ErrorContains(t, err, "child")
	// nothing was touched before the check failed
	assert.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(parent)), 1+7)
	e.txm.Abort(tx)

	tx = e.begin(t, false)
	require.NoError(t, e.m.DropCatalogedRelation(ctx, tx, child, false))
	require.Empty(t, rows(t, e, tx, systable.Inherits, systable.K().Oid(child)))
	require.NoError(t, e.m.DropCatalogedRelation(ctx, tx, parent, false))
	e.commit(t, tx)
}

func TestDrop_DependentColumns(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	base := e.createTable(t, tx, "base", intCol("a"))
	rowType := e.class(t, tx, base).TypeID
	e.createTable(t, tx, "holder", ColumnDefinition{Name: "r", TypeID: rowType})

	err := e.m.DropCatalogedRelation(ctx, tx, base, false)
	require.ErrorIs(t, err, ErrDependentColumns)
	require.ErrorContains(t, err, "holder")
}

func TestDrop_ProtectedRelation(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	p := relParams("pg_class", systable.KindTable, intCol("relname"))
	p.Namespace = record.NamespaceCatalog
	p.AllowSystemMods = true
	pinned, err := e.m.CreateCatalogedRelation(ctx, tx, p)
	require.NoError(t, err)

	p = relParams("my_catalog", systable.KindTable, intCol("x"))
	p.Namespace = record.NamespaceCatalog
	p.AllowSystemMods = true
	sys, err := e.m.CreateCatalogedRelation(ctx, tx, p)
	require.NoError(t, err)

	require.ErrorIs(t, e.m.DropCatalogedRelation(ctx, tx, pinned, false), ErrProtectedRelation)
	require.ErrorIs(t, e.m.DropCatalogedRelation(ctx, tx, sys, false), ErrProtectedRelation)
	require.NoError(t, e.m.DropCatalogedRelation(ctx, tx, sys, true))

	require.ErrorIs(t, e.m.DropCatalogedRelation(ctx, tx, 424242, false), ErrRelationNotFound)
}

func TestDrop_RemovesRelationIndexesAndToast(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	tx := e.begin(t, false)
	cols := []ColumnDefinition{intCol("a"), {Name: "body", TypeID: record.TypeText}}
	p := relParams("docs", systable.KindTable, cols...)
	p.Tuple.Constraints = &ConstraintBlock{
		RawDefaults: []RawColumnDefault{{Num: 2, Source: "'none'"}},
		RawChecks:   []RawCheck{{Source: "a > 0"}},
	}
	rel, err := e.m.CreateCatalogedRelation(ctx, tx, p)
	require.NoError(t, err)
	toast, err := e.m.CreateToastTable(ctx, tx, rel)
	require.NoError(t, err)
	idx, err := e.m.CreateIndexRelation(ctx, tx, rel, "docs_a_idx", []int16{1}, true)
	require.NoError(t, err)

	toastIdx := rowsByIndex(t, e, tx, systable.Indexes, systable.IdxIndexHeap, systable.K().Oid(toast))
	require.Len(t, toastIdx, 1)

	descs, err := systable.Open(ctx, e.store, tx, systable.Descriptions, lock.RowExclusive)
	require.NoError(t, err)
	require.NoError(t, descs.Insert(&systable.DescriptionRow{ObjID: rel, ClassOid: systable.ClassCatalogID, Text: "documents"}))
	descs.Close()
	stats, err := systable.Open(ctx, e.store, tx, systable.Statistics, lock.RowExclusive)
	require.NoError(t, err)
	require.NoError(t, stats.Insert(&systable.StatisticRow{RelID: rel, Num: 1, Width: 4}))
	stats.Close()
	e.commit(t, tx)

	all := []record.Oid{rel, toast, idx, toastIdx[0].IndexRelID}
	sm := e.pool.StorageManager()
	for _, id := range all {
		require.True(t, sm.Exists(e.fileSet(id)), id)
	}

	tx = e.begin(t, false)
	require.NoError(t, e.m.DropCatalogedRelation(ctx, tx, rel, false))
	for _, id := range all {
		_, err := e.m.classRow(ctx, tx, id)
		require.ErrorIs(t, err, ErrRelationNotFound, id)
		require.Empty(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(id)), id)
		require.Empty(t, rowsByIndex(t, e, tx, systable.Types, systable.IdxTypeRel, systable.K().Oid(id)), id)
		// unlinked only at commit
		require.True(t, sm.Exists(e.fileSet(id)), id)
	}
	require.Empty(t, rows(t, e, tx, systable.Defaults, systable.K().Oid(rel)))
	require.Empty(t, rows(t, e, tx, systable.Checks, systable.K().Oid(rel)))
	require.Empty(t, rows(t, e, tx, systable.Descriptions, systable.K().Oid(rel)))
	require.Empty(t, rows(t, e, tx, systable.Statistics, systable.K().Oid(rel)))
	require.Empty(t, rows(t, e, tx, systable.Indexes, systable.K().Oid(idx)))
	e.commit(t, tx)

	for _, id := range all {
		assert.False(t, sm.Exists(e.fileSet(id)), id)
		assert.False(t, e.cache.Cached(id), id)
	}
	_, ok, err := index.ReadMeta(e.fileSet(idx))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDrop_AbortKeepsEverything(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	tx := e.begin(t, false)
	id := e.createTable(t, tx, "t", intCol("a"))
	e.commit(t, tx)

	tx = e.begin(t, false)
	require.NoError(t, e.m.DropCatalogedRelation(ctx, tx, id, false))
	e.txm.Abort(tx)

	tx = e.begin(t, false)
	defer e.txm.Abort(tx)
	assert.True(t, e.pool.StorageManager().Exists(e.fileSet(id)))
	assert.Equal(t, "t", e.class(t, tx, id).Name)
	assert.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(id)), 1+7)
}

func TestDrop_View(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	id, err := e.m.CreateCatalogedRelation(ctx, tx, relParams("v", systable.KindView, intCol("a")))
	require.NoError(t, err)
	require.NoError(t, e.m.DropCatalogedRelation(ctx, tx, id, false))
	_, err = e.m.classRow(ctx, tx, id)
	require.ErrorIs(t, err, ErrRelationNotFound)
}

func writeHeapPage(t *testing.T, e *testEnv, fs storage.LocalFileSet) {
	t.Helper()
	pg, err := e.pool.GetPage(fs, 0)
	require.NoError(t, err)
	e.pool.Unpin(fs, pg, true)
	require.NoError(t, e.pool.FlushRelation(fs))
}

func TestTruncate_TransactionBlock(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sm := e.pool.StorageManager()

	tx := e.begin(t, false)
	old := e.createTable(t, tx, "old", intCol("a"))
	e.commit(t, tx)

	tx = e.begin(t, true)
	err := e.m.TruncateRelationStorage(ctx, tx, old)
	require.ErrorIs(t, err, ErrTransactionBlock)
	e.txm.Abort(tx)

	tx = e.begin(t, true)
	fresh := e.createTable(t, tx, "fresh", intCol("a"), intCol("b"))
	idx, err := e.m.CreateIndexRelation(ctx, tx, fresh, "fresh_b_idx", []int16{2}, false)
	require.NoError(t, err)

	writeHeapPage(t, e, e.fileSet(fresh))
	n, err := sm.CountPages(e.fileSet(fresh))
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)

	require.NoError(t, e.m.TruncateRelationStorage(ctx, tx, fresh))
	n, err = sm.CountPages(e.fileSet(fresh))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = sm.CountPages(e.fileSet(idx))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
	meta, ok, err := index.ReadMeta(e.fileSet(idx))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, meta.HeapBlocks)
	assert.Equal(t, []int16{2}, meta.Keys)
	e.commit(t, tx)

	// outside a block pre-existing relations are fine
	tx = e.begin(t, false)
	defer e.txm.Abort(tx)
	writeHeapPage(t, e, e.fileSet(old))
	require.NoError(t, e.m.TruncateRelationStorage(ctx, tx, old))
	n, err = sm.CountPages(e.fileSet(old))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTruncate_View(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)

	id, err := e.m.CreateCatalogedRelation(context.Background(), tx, relParams("v", systable.KindView, intCol("a")))
	require.NoError(t, err)
	require.ErrorIs(t, e.m.TruncateRelationStorage(context.Background(), tx, id), ErrSchema)
}

func TestTruncate_IndexRejected(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	rel := e.createTable(t, tx, "t", intCol("a"))
	idx, err := e.m.CreateIndexRelation(ctx, tx, rel, "t_a_idx", []int16{1}, false)
	require.NoError(t, err)

	require.ErrorIs(t, e.m.TruncateRelationStorage(ctx, tx, idx), ErrSchema)

	// the index keeps its metapage and root
	m, ok, err := index.ReadMeta(e.fileSet(idx))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int16{1}, m.Keys)
	n, err := e.pool.StorageManager().CountPages(e.fileSet(idx))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	require.NoError(t, e.m.TruncateRelationStorage(ctx, tx, rel))
}

func TestCreateToastTable(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	rel := e.createTable(t, tx, "t", intCol("a"))
	toast, err := e.m.CreateToastTable(ctx, tx, rel)
	require.NoError(t, err)

	cls := e.class(t, tx, toast)
	assert.Equal(t, "pg_toast_"+rel.String(), cls.Name)
	assert.Equal(t, record.NamespaceToast, cls.Namespace)
	assert.Equal(t, systable.KindToast, cls.Kind)
	assert.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(toast)), 3+7)
	assert.Equal(t, toast, e.class(t, tx, rel).ToastRelID)
	assert.True(t, e.class(t, tx, toast).HasIndex)

	again, err := e.m.CreateToastTable(ctx, tx, rel)
	require.NoError(t, err)
	assert.Equal(t, toast, again)

	// toast tables belong to the system
	require.ErrorIs(t, e.m.DropCatalogedRelation(ctx, tx, toast, false), ErrProtectedRelation)
}

func TestCreateIndexRelation_Errors(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	rel := e.createTable(t, tx, "t", intCol("a"))
	_, err := e.m.CreateIndexRelation(ctx, tx, rel, "bad", []int16{9}, false)
	require.ErrorIs(t, err, ErrSchema)
	_, err = e.m.CreateIndexRelation(ctx, tx, rel, "sys", []int16{-1}, false)
	require.ErrorIs(t, err, ErrSchema)
	_, err = e.m.CreateIndexRelation(ctx, tx, rel, "none", nil, false)
	require.ErrorIs(t, err, ErrSchema)

	view, err := e.m.CreateCatalogedRelation(ctx, tx, relParams("v", systable.KindView, intCol("a")))
	require.NoError(t, err)
	_, err = e.m.CreateIndexRelation(ctx, tx, view, "v_idx", []int16{1}, false)
	require.ErrorIs(t, err, ErrSchema)

	idx, err := e.m.CreateIndexRelation(ctx, tx, rel, "t_a_idx", []int16{1}, false)
	require.NoError(t, err)
	assert.Equal(t, systable.KindIndex, e.class(t, tx, idx).Kind)
	assert.True(t, e.class(t, tx, rel).HasIndex)
	assert.Len(t, rows(t, e, tx, systable.Attributes, systable.K().Oid(idx)), 1+7)
}

func TestIdentityAllocator(t *testing.T) {
	a := NewIdentityAllocator(DefaultBootstrapIdentities, record.NewOidGenerator(3))

	id, pin := a.Assign("pg_class", record.NamespaceCatalog)
	assert.Equal(t, record.Oid(1259), id)
	assert.True(t, pin)

	id, pin = a.Assign("pg_shadow", record.NamespaceCatalog)
	assert.Equal(t, record.Oid(1260), id)
	assert.False(t, pin)

	id, pin = a.Assign("pg_class", record.NamespacePublic)
	assert.NotEqual(t, record.Oid(1259), id)
	assert.False(t, pin)

	assert.NotEqual(t, a.Fresh(), a.Fresh())
}

func TestObserver_RecordsOperations(t *testing.T) {
	e := newTestEnv(t)
	tx := e.begin(t, false)
	defer e.txm.Abort(tx)
	ctx := context.Background()

	e.createTable(t, tx, "t", intCol("a"))
	_, err := e.m.CreateCatalogedRelation(ctx, tx, relParams("t", systable.KindTable, intCol("a")))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.obs.ops.WithLabelValues("create_relation", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.obs.ops.WithLabelValues("create_relation", "error")))

	reg := prometheus.NewRegistry()
	o1 := NewObserver(reg)
	o2 := NewObserver(reg)
	assert.Same(t, o1.ops, o2.ops)

	var nilObs *Observer
	called := false
	require.NoError(t, nilObs.observe(ctx, "noop", func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
