package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tuannm99/novacat/internal/record"
)

var ErrDeadlock = errors.New("lock: wait timed out, possible deadlock")

// Mode is a relation-level lock strength.
type Mode uint8

const (
	AccessShare Mode = iota + 1
	RowExclusive
	AccessExclusive
)

func (m Mode) String() string {
	switch m {
	case AccessShare:
		return "AccessShareLock"
	case RowExclusive:
		return "RowExclusiveLock"
	case AccessExclusive:
		return "AccessExclusiveLock"
	}
	return "NoLock"
}

// Conflicts reports whether holding m blocks a request for o from another owner.
func (m Mode) Conflicts(o Mode) bool {
	return m == AccessExclusive || o == AccessExclusive
}

// Owner identifies a lock holder; transactions use their xid.
type Owner uint64

type entry struct {
	holders map[Owner]map[Mode]int
	wake    chan struct{}
}

// Manager grants relation locks keyed by object id. Locks are re-entrant
// per owner; a waiter that cannot be granted within the wait timeout
// gets ErrDeadlock.
type Manager struct {
	mu      sync.Mutex
	locks   map[record.Oid]*entry
	timeout time.Duration
}

func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Manager{
		locks:   make(map[record.Oid]*entry),
		timeout: timeout,
	}
}

func (m *Manager) entryFor(id record.Oid) *entry {
	e, ok := m.locks[id]
	if !ok {
		e = &entry{holders: make(map[Owner]map[Mode]int), wake: make(chan struct{})}
		m.locks[id] = e
	}
	return e
}

func (e *entry) grantable(owner Owner, mode Mode) bool {
	for o, modes := range e.holders {
		if o == owner {
			continue
		}
		for held, n := range modes {
			if n > 0 && held.Conflicts(mode) {
				return false
			}
		}
	}
	return true
}

// Acquire blocks until mode on id is granted to owner.
func (m *Manager) Acquire(ctx context.Context, owner Owner, id record.Oid, mode Mode) error {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		e := m.entryFor(id)
		if e.grantable(owner, mode) {
			modes, ok := e.holders[owner]
			if !ok {
				modes = make(map[Mode]int)
				e.holders[owner] = modes
			}
			modes[mode]++
			m.mu.Unlock()
			return nil
		}
		wake := e.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			slog.Warn("lock: wait timeout", "oid", id, "mode", mode.String(), "owner", owner)
			return ErrDeadlock
		}
	}
}

// Release drops one hold of mode on id by owner.
func (m *Manager) Release(owner Owner, id record.Oid, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[id]
	if !ok {
		return
	}
	modes := e.holders[owner]
	if modes[mode] == 0 {
		return
	}
	modes[mode]--
	if modes[mode] == 0 {
		delete(modes, mode)
	}
	if len(modes) == 0 {
		delete(e.holders, owner)
	}
	m.notify(id, e)
}

// ReleaseAll drops every lock owner holds, on any object.
func (m *Manager) ReleaseAll(owner Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.locks {
		if _, ok := e.holders[owner]; !ok {
			continue
		}
		delete(e.holders, owner)
		m.notify(id, e)
	}
}

// must hold m.mu
func (m *Manager) notify(id record.Oid, e *entry) {
	close(e.wake)
	if len(e.holders) == 0 {
		delete(m.locks, id)
		return
	}
	e.wake = make(chan struct{})
}

// Holds reports whether owner holds at least mode on id.
func (m *Manager) Holds(owner Owner, id record.Oid, mode Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[id]
	if !ok {
		return false
	}
	for held, n := range e.holders[owner] {
		if n > 0 && held >= mode {
			return true
		}
	}
	return false
}
