package txn

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/txn/inval"
)

var (
	ErrTxDone = errors.New("txn: transaction already finished")

	xidBucket = []byte("pg_xact")
)

// Txn is the explicit transaction context every catalog operation runs in.
// It owns one bbolt write transaction, so rolling it back undoes every
// catalog row written or deleted through it.
type Txn struct {
	mgr *Manager

	xid   uint64
	cid   uint32
	label string
	block bool
	tx    *bolt.Tx

	// queued since the last command-counter bump
	pending []inval.Message
	// everything this transaction invalidated, broadcast at commit
	all []inval.Message

	onCommit []func() error
	onAbort  []func()

	done bool
}

func (t *Txn) Xid() uint64 { return t.xid }

// Cid is the current command id. Rows written by this transaction with
// Cmin >= Cid are not yet visible to it.
func (t *Txn) Cid() uint32 { return t.cid }

// Label is a unique session-visible name, used in logs.
func (t *Txn) Label() string { return t.label }

// InBlock reports whether the transaction spans several statements.
func (t *Txn) InBlock() bool { return t.block }

func (t *Txn) Bolt() *bolt.Tx { return t.tx }

func (t *Txn) Owner() lock.Owner { return lock.Owner(t.xid) }

// Visible reports whether a row stamped (xmin, cmin) can be seen.
// Rows from committed transactions are always visible: bbolt only exposes
// committed state plus this transaction's own writes.
func (t *Txn) Visible(xmin uint64, cmin uint32) bool {
	return xmin != t.xid || cmin < t.cid
}

// CommandCounterIncrement makes this transaction's previous writes visible
// to its subsequent reads and applies the queued invalidations locally.
func (t *Txn) CommandCounterIncrement() {
	t.cid++
	if len(t.pending) == 0 {
		return
	}
	msgs := t.pending
	t.pending = nil
	t.mgr.applyLocal(msgs)
}

// Invalidate queues a cache invalidation for rel.
func (t *Txn) Invalidate(kind inval.Kind, rel record.Oid, catalog string) {
	m := inval.Message{Kind: kind, RelID: rel, Catalog: catalog, Origin: t.mgr.origin}
	t.pending = append(t.pending, m)
	t.all = append(t.all, m)
}

// Lock acquires a relation lock held until the transaction ends.
func (t *Txn) Lock(ctx context.Context, id record.Oid, mode lock.Mode) error {
	return t.mgr.locks.Acquire(ctx, t.Owner(), id, mode)
}

// OnCommit registers fn to run after the catalog changes are durable.
func (t *Txn) OnCommit(fn func() error) {
	t.onCommit = append(t.onCommit, fn)
}

// OnAbort registers fn to run after rollback.
func (t *Txn) OnAbort(fn func()) {
	t.onAbort = append(t.onAbort, fn)
}

// Manager hands out transactions over one bbolt database.
type Manager struct {
	db     *bolt.DB
	locks  *lock.Manager
	bc     inval.Broadcaster
	origin string

	mu    sync.RWMutex
	local []inval.Handler
}

func NewManager(db *bolt.DB, locks *lock.Manager, bc inval.Broadcaster) *Manager {
	if bc == nil {
		bc = inval.NewLocalBroadcaster()
	}
	m := &Manager{
		db:     db,
		locks:  locks,
		bc:     bc,
		origin: uuid.NewString(),
	}
	// remote invalidations only; our own are applied before publish
	bc.Subscribe(func(msg inval.Message) {
		if msg.Origin == m.origin {
			return
		}
		m.applyLocal([]inval.Message{msg})
	})
	return m
}

func (m *Manager) Locks() *lock.Manager { return m.locks }

func (m *Manager) DB() *bolt.DB { return m.db }

// OnInvalidate registers a local cache that must see invalidations as soon
// as they are visible to this process.
func (m *Manager) OnInvalidate(h inval.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = append(m.local, h)
}

func (m *Manager) applyLocal(msgs []inval.Message) {
	m.mu.RLock()
	hs := m.local
	m.mu.RUnlock()
	for _, msg := range msgs {
		for _, h := range hs {
			h(msg)
		}
	}
}

type BeginOptions struct {
	// Block marks a multi-statement transaction block.
	Block bool
}

// Begin starts a write transaction. bbolt admits one writer at a time, so
// Begin waits for the previous writer to finish.
func (m *Manager) Begin(opts BeginOptions) (*Txn, error) {
	tx, err := m.db.Begin(true)
	if err != nil {
		return nil, err
	}
	b, err := tx.CreateBucketIfNotExists(xidBucket)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	xid, err := b.NextSequence()
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	t := &Txn{
		mgr:   m,
		xid:   xid,
		label: uuid.NewString(),
		block: opts.Block,
		tx:    tx,
	}
	slog.Debug("txn: begin", "xid", xid, "label", t.label, "block", opts.Block)
	return t, nil
}

// Commit makes the catalog changes durable, runs commit hooks, publishes the
// invalidations and releases every lock.
func (m *Manager) Commit(ctx context.Context, t *Txn) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer m.locks.ReleaseAll(t.Owner())

	if err := t.tx.Commit(); err != nil {
		m.finishAbort(t)
		return err
	}

	// the transaction is committed; hook failures only leave garbage behind
	for _, fn := range t.onCommit {
		if err := fn(); err != nil {
			slog.Warn("txn: commit hook failed", "xid", t.xid, "err", err)
		}
	}

	m.applyLocal(t.pending)
	t.pending = nil
	if err := m.bc.Publish(ctx, t.all); err != nil {
		slog.Warn("txn: invalidation publish failed", "xid", t.xid, "err", err)
	}
	slog.Debug("txn: commit", "xid", t.xid, "label", t.label)
	return nil
}

// Abort rolls back every catalog change of t. Safe to call after a failed
// Commit or twice.
func (m *Manager) Abort(t *Txn) {
	if t.done {
		return
	}
	t.done = true
	defer m.locks.ReleaseAll(t.Owner())

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		slog.Warn("txn: rollback", "xid", t.xid, "err", err)
	}
	m.finishAbort(t)
}

func (m *Manager) finishAbort(t *Txn) {
	for i := len(t.onAbort) - 1; i >= 0; i-- {
		t.onAbort[i]()
	}
	// caches may hold entries built from rows that no longer exist
	m.applyLocal(t.all)
	slog.Debug("txn: abort", "xid", t.xid, "label", t.label)
}
