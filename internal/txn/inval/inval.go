package inval

import (
	"context"
	"sync"

	"github.com/tuannm99/novacat/internal/record"
)

// Kind says which cache a message targets.
type Kind uint8

const (
	// RelCache drops the relation descriptor for RelID.
	RelCache Kind = iota + 1
	// CatalogRow tells readers a row of catalog Catalog describing RelID changed.
	CatalogRow
)

// Message is one cache-invalidation notice.
type Message struct {
	Kind    Kind       `msgpack:"k"`
	RelID   record.Oid `msgpack:"r"`
	Catalog string     `msgpack:"c,omitempty"`
	Origin  string     `msgpack:"o"`
}

// Handler consumes invalidation notices.
type Handler func(Message)

// Broadcaster delivers committed invalidations to every cache in the cluster.
type Broadcaster interface {
	Publish(ctx context.Context, msgs []Message) error
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

// handlers is a copy-on-write handler list shared by both broadcasters.
type handlers struct {
	mu   sync.RWMutex
	next int
	hs   map[int]Handler
}

func (h *handlers) add(fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hs == nil {
		h.hs = make(map[int]Handler)
	}
	id := h.next
	h.next++
	h.hs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.hs, id)
	}
}

func (h *handlers) dispatch(msgs []Message) {
	h.mu.RLock()
	fns := make([]Handler, 0, len(h.hs))
	for _, fn := range h.hs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, m := range msgs {
		for _, fn := range fns {
			fn(m)
		}
	}
}

// LocalBroadcaster delivers messages synchronously inside one process.
type LocalBroadcaster struct {
	handlers
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{}
}

func (b *LocalBroadcaster) Publish(_ context.Context, msgs []Message) error {
	b.dispatch(msgs)
	return nil
}

func (b *LocalBroadcaster) Subscribe(h Handler) func() {
	return b.add(h)
}

func (b *LocalBroadcaster) Close() error { return nil }
