package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/tuannm99/novacat/internal"
	"github.com/tuannm99/novacat/internal/bufferpool"
	"github.com/tuannm99/novacat/internal/catalog"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/storage"
	"github.com/tuannm99/novacat/internal/txn"
	"github.com/tuannm99/novacat/internal/txn/inval"
)

var ErrDatabaseClosed = errors.New("novacat: database is closed")

// Database owns one data directory: the catalog file, relation storage and
// the process-wide caches in front of them.
type Database struct {
	DataDir string

	bolt    *bolt.DB
	locks   *lock.Manager
	store   *systable.Store
	cache   *relcache.Cache
	pool    *bufferpool.Pool
	txns    *txn.Manager
	bc      inval.Broadcaster
	catalog *catalog.Manager

	bootstrap []catalog.BootstrapIdentity
	closed    atomic.Bool
}

// Open opens (creating if needed) the data directory described by cfg and
// bootstraps the system catalogs on first use. reg may be nil.
func Open(ctx context.Context, cfg *internal.NovaCatConfig, reg prometheus.Registerer) (*Database, error) {
	dataDir := cfg.Storage.Workdir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(filepath.Join(dataDir, cfg.Storage.CatalogFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	locks := lock.NewManager(cfg.Lock.DeadlockTimeout)
	store := systable.NewStore(locks)
	if err := bdb.Update(store.Init); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	bc, err := newBroadcaster(ctx, cfg)
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	cache := relcache.New(store, dataDir, cfg.RelCache.Capacity)
	txns := txn.NewManager(bdb, locks, bc)
	txns.OnInvalidate(cache.Invalidate)

	pool := bufferpool.NewPool(storage.NewStorageManager(), cfg.BufferPool.Capacity)
	if !cfg.Metrics.Enabled {
		reg = nil
	}

	db := &Database{
		DataDir: dataDir,
		bolt:    bdb,
		locks:   locks,
		store:   store,
		cache:   cache,
		pool:    pool,
		txns:    txns,
		bc:      bc,
		catalog: catalog.NewManager(catalog.Options{
			Store:    store,
			Cache:    cache,
			Pool:     pool,
			IDs:      catalog.NewIdentityAllocator(cfg.Catalog.Bootstrap, record.NewOidGenerator(cfg.Catalog.NodeID)),
			Observer: catalog.NewObserver(reg),
		}),
		bootstrap: cfg.Catalog.Bootstrap,
	}

	if err := db.initCatalog(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("engine: database opened", "dir", dataDir, "inval", cfg.Inval.Mode)
	return db, nil
}

func newBroadcaster(ctx context.Context, cfg *internal.NovaCatConfig) (inval.Broadcaster, error) {
	if cfg.Inval.Mode != "redis" {
		return inval.NewLocalBroadcaster(), nil
	}
	return inval.NewRedisBroadcaster(ctx, cfg.Inval.Redis)
}

func (db *Database) ensureOpen() error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	return nil
}

func (db *Database) Catalog() *catalog.Manager { return db.catalog }

func (db *Database) Cache() *relcache.Cache { return db.cache }

func (db *Database) Pool() *bufferpool.Pool { return db.pool }

// Begin starts a transaction. Only one transaction runs at a time; Begin
// waits for the current one to finish.
func (db *Database) Begin(block bool) (*txn.Txn, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	return db.txns.Begin(txn.BeginOptions{Block: block})
}

func (db *Database) Commit(ctx context.Context, tx *txn.Txn) error {
	return db.txns.Commit(ctx, tx)
}

func (db *Database) Abort(tx *txn.Txn) {
	db.txns.Abort(tx)
}

// Exec runs fn in its own transaction, committing when fn succeeds and
// aborting otherwise.
func (db *Database) Exec(ctx context.Context, fn func(tx *txn.Txn) error) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		db.Abort(tx)
		return err
	}
	return db.Commit(ctx, tx)
}

// Close flushes dirty pages and releases the catalog file. Calling it again
// is a no-op.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := db.pool.FlushAll(); err != nil {
		errs = append(errs, fmt.Errorf("flush buffers: %w", err))
	}
	if err := db.bc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broadcaster: %w", err))
	}
	if err := db.bolt.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close catalog: %w", err))
	}
	return errors.Join(errs...)
}
