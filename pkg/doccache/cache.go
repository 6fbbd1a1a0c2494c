// Package doccache keeps the current user's document list in memory and
// serves it stale-while-revalidate.
//
// A Cache is created once per process and handed to whoever needs it. Reads
// never block on the network unless the cache has never been populated or the
// caller forces a refresh. Stale data triggers a single background fetch.
package doccache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/healthdocs/doctracker/internal/events"
	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metrics"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

// DefaultTTL is how long a successful fetch stays fresh.
const DefaultTTL = 2 * time.Minute

const fetchKey = "documents"

const (
	modeForeground = "foreground"
	modeBackground = "background"
	modeRefresh    = "refresh"
)

// Lister is the document listing service the cache refills from.
// *client.Client satisfies it.
type Lister interface {
	ListDocuments(ctx context.Context) (*protocol.ListResponse, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBroadcaster publishes change events on b instead of a private broadcaster.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(c *Cache) {
		if b != nil {
			c.events = b
		}
	}
}

// Snapshot is a consistent view of the cache state.
type Snapshot struct {
	Documents     []protocol.Document
	LastFetchedAt time.Time // zero if never fetched
	Loading       bool
	Stale         bool
}

// Cache is a TTL cache of the user's documents.
type Cache struct {
	lister Lister
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
	events *events.Broadcaster

	group singleflight.Group
	wg    sync.WaitGroup

	mu            sync.Mutex
	documents     []protocol.Document
	lastFetchedAt time.Time
	waiters       int    // foreground callers blocked on a fetch
	inflight      bool   // a listing call is running, whatever its generation
	generation    uint64 // bumped by InvalidateCache
}

// New creates an empty cache backed by lister.
func New(lister Lister, opts ...Option) *Cache {
	c := &Cache{
		lister: lister,
		ttl:    DefaultTTL,
		now:    time.Now,
		log:    logging.Named("doccache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = events.NewBroadcaster()
	}
	return c
}

// GetDocuments makes sure the cache holds documents.
//
// On an empty cache, or when force is set, it fetches in the foreground: the
// loading flag is raised and the caller waits for the result and receives its
// error. On a stale cache it starts a background fetch, unless one is already
// running, and returns immediately. A fresh cache is left alone.
func (c *Cache) GetDocuments(ctx context.Context, force bool) error {
	c.mu.Lock()
	empty := c.lastFetchedAt.IsZero()
	stale := !empty && c.isStaleLocked()
	c.mu.Unlock()

	switch {
	case force:
		metrics.RecordCacheRead("forced")
		return c.await(ctx, modeForeground)
	case empty:
		metrics.RecordCacheRead("empty")
		return c.await(ctx, modeForeground)
	case stale:
		metrics.RecordCacheRead("stale")
		c.revalidate(ctx)
		return nil
	default:
		metrics.RecordCacheRead("fresh")
		return nil
	}
}

// RefreshDocuments fetches without raising the loading flag and returns the
// fetch error, if any. A fetch already in flight is joined, not repeated.
func (c *Cache) RefreshDocuments(ctx context.Context) error {
	return c.await(ctx, modeRefresh)
}

// AddDocument puts doc at the front of the list. An entry with the same id is
// replaced. Freshness and loading state are untouched.
func (c *Cache) AddDocument(doc protocol.Document) {
	c.mu.Lock()
	docs := make([]protocol.Document, 0, len(c.documents)+1)
	docs = append(docs, doc)
	for _, d := range c.documents {
		if d.ID != doc.ID {
			docs = append(docs, d)
		}
	}
	c.documents = docs
	n := len(docs)
	c.mu.Unlock()

	metrics.SetCacheDocuments(n)
	c.events.Publish(events.Event{Type: events.EventAdded, DocumentID: doc.ID, Count: n})
}

// UpdateDocument replaces the entry with doc's id in place, keeping the list
// order. It reports whether an entry was replaced; unknown ids are ignored.
func (c *Cache) UpdateDocument(doc protocol.Document) bool {
	c.mu.Lock()
	idx := -1
	for i, d := range c.documents {
		if d.ID == doc.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	docs := cloneDocuments(c.documents)
	docs[idx] = doc
	c.documents = docs
	n := len(docs)
	c.mu.Unlock()

	c.events.Publish(events.Event{Type: events.EventUpdated, DocumentID: doc.ID, Count: n})
	return true
}

// RemoveDocument drops the entry with the given id. Unknown ids are ignored.
func (c *Cache) RemoveDocument(id string) {
	c.mu.Lock()
	idx := -1
	for i, d := range c.documents {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	docs := make([]protocol.Document, 0, len(c.documents)-1)
	docs = append(docs, c.documents[:idx]...)
	docs = append(docs, c.documents[idx+1:]...)
	c.documents = docs
	n := len(docs)
	c.mu.Unlock()

	metrics.SetCacheDocuments(n)
	c.events.Publish(events.Event{Type: events.EventRemoved, DocumentID: id, Count: n})
}

// InvalidateCache resets the cache to its never-fetched state. A fetch that
// started earlier still completes but its result is dropped, and callers
// arriving after the reset wait for it before fetching again.
func (c *Cache) InvalidateCache() {
	c.mu.Lock()
	c.documents = nil
	c.lastFetchedAt = time.Time{}
	c.waiters = 0
	c.generation++
	c.mu.Unlock()

	metrics.SetCacheDocuments(0)
	c.events.Publish(events.Event{Type: events.EventInvalidated})
}

// Documents returns a copy of the cached list.
func (c *Cache) Documents() []protocol.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneDocuments(c.documents)
}

// IsLoading reports whether a foreground fetch is in progress.
func (c *Cache) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters > 0
}

// LastFetchedAt returns the time of the last successful fetch.
func (c *Cache) LastFetchedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFetchedAt, !c.lastFetchedAt.IsZero()
}

// Snapshot returns the whole state under one lock.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Documents:     cloneDocuments(c.documents),
		LastFetchedAt: c.lastFetchedAt,
		Loading:       c.waiters > 0,
		Stale:         !c.lastFetchedAt.IsZero() && c.isStaleLocked(),
	}
}

// Subscribe returns a channel of change events. Release it with Unsubscribe.
func (c *Cache) Subscribe() chan events.Event {
	return c.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (c *Cache) Unsubscribe(ch chan events.Event) {
	c.events.Unsubscribe(ch)
}

// Wait blocks until no fetch started by this cache is running.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) isStaleLocked() bool {
	return c.now().Sub(c.lastFetchedAt) > c.ttl
}

// fetchResult is what a listing call reports to everyone who joined it.
type fetchResult struct {
	generation uint64
	count      int
}

// await starts or joins the running fetch and waits for it. A fetch from
// before the caller's generation is waited out and followed by a fresh one,
// so only one listing call is ever in flight. Foreground callers hold the
// loading flag while they wait. The fetch keeps running if ctx ends first.
func (c *Cache) await(ctx context.Context, mode string) error {
	c.mu.Lock()
	gen := c.generation
	raised := false
	if mode == modeForeground {
		c.waiters++
		raised = c.waiters == 1
	}
	c.mu.Unlock()

	if raised {
		c.events.Publish(events.Event{Type: events.EventLoading, Loading: true})
	}
	if mode == modeForeground {
		defer c.stopWaiting(gen)
	}

	for {
		c.mu.Lock()
		ch := c.startLocked(ctx, mode)
		c.mu.Unlock()

		select {
		case res := <-ch:
			if r, ok := res.Val.(fetchResult); ok && r.generation < gen {
				continue
			}
			return res.Err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Cache) stopWaiting(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.waiters == 0 {
		c.mu.Unlock()
		return
	}
	c.waiters--
	lowered := c.waiters == 0
	n := len(c.documents)
	c.mu.Unlock()

	if lowered {
		c.events.Publish(events.Event{Type: events.EventLoading, Loading: false, Count: n})
	}
}

// revalidate starts a background fetch unless one is already running.
func (c *Cache) revalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight {
		c.log.Debug("revalidation skipped, fetch in flight")
		return
	}
	c.startLocked(ctx, modeBackground)
}

// startLocked joins the running fetch or starts one for the current
// generation. c.mu must be held. singleflight runs fn on its own goroutine,
// so holding the lock here cannot deadlock with the fetch's completion.
func (c *Cache) startLocked(ctx context.Context, mode string) <-chan singleflight.Result {
	if !c.inflight {
		c.inflight = true
		c.wg.Add(1)
	}
	gen := c.generation
	fetchCtx := context.WithoutCancel(ctx)
	return c.group.DoChan(fetchKey, func() (any, error) {
		return c.fetch(fetchCtx, gen, mode)
	})
}

// fetch calls the lister once and, if the cache was not invalidated in the
// meantime, replaces the document list with the result.
func (c *Cache) fetch(ctx context.Context, gen uint64, mode string) (any, error) {
	defer c.wg.Done()

	log := c.log.With(zap.String("mode", mode), zap.Uint64("generation", gen))
	start := time.Now()
	resp, err := c.lister.ListDocuments(ctx)
	metrics.RecordCacheFetch(mode, time.Since(start), err == nil)

	c.mu.Lock()
	c.inflight = false
	c.group.Forget(fetchKey)
	res := fetchResult{generation: gen}

	if err != nil {
		c.mu.Unlock()
		if mode == modeBackground {
			log.Warn("background document fetch failed", zap.Error(err))
		} else {
			log.Debug("document fetch failed", zap.Error(err))
		}
		c.events.Publish(events.Event{Type: events.EventFetchFailed})
		return res, err
	}

	if gen != c.generation {
		c.mu.Unlock()
		log.Debug("discarding fetch result from before invalidation")
		return res, nil
	}

	var docs []protocol.Document
	if resp != nil {
		docs = cloneDocuments(resp.Documents)
	}
	c.documents = docs
	c.lastFetchedAt = c.now()
	res.count = len(docs)
	c.mu.Unlock()

	log.Debug("documents fetched", zap.Int("count", res.count), zap.Duration("took", time.Since(start)))
	metrics.SetCacheDocuments(res.count)
	c.events.Publish(events.Event{Type: events.EventFetched, Count: res.count})
	return res, nil
}

func cloneDocuments(docs []protocol.Document) []protocol.Document {
	out := make([]protocol.Document, len(docs))
	copy(out, docs)
	return out
}
