package flowstore

import (
	"container/list"
	"context"
	stderrors "errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/model"
)

const cacheService = "store_cache"

type cacheEntry struct {
	id   string
	data []byte
}

// Cached keeps the most recently read documents of a Store in memory.
// Entries hold encoded documents so callers never share memory with the
// cache. Writes go to the backend first; a conflict or not-found answer
// drops the entry so the next read sees the backend's copy.
type Cached struct {
	Store
	maxSize int

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// NewCached wraps store with an LRU of maxSize documents and registers its
// counters with reg when reg is not nil
func NewCached(store Store, maxSize int, reg metric.MetricsRegistrar) (*Cached, error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "cache size must be positive, got %d", maxSize),
			"flowstore", "NewCached", "validate size")
	}
	c := &Cached{
		Store:   store,
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowcanvas", Subsystem: cacheService, Name: "hits_total",
			Help: "Document reads served from the cache",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowcanvas", Subsystem: cacheService, Name: "misses_total",
			Help: "Document reads passed to the backend",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowcanvas", Subsystem: cacheService, Name: "evictions_total",
			Help: "Documents evicted to stay within the cache size",
		}),
	}
	if reg == nil {
		return c, nil
	}
	registered := make([]string, 0, 3)
	for name, counter := range map[string]prometheus.Counter{
		"hits_total":      c.hits,
		"misses_total":    c.misses,
		"evictions_total": c.evictions,
	} {
		if err := reg.RegisterCounter(cacheService, name, counter); err != nil {
			for _, done := range registered {
				reg.Unregister(cacheService, done)
			}
			return nil, errors.WrapTransient(err, "flowstore", "NewCached", "metrics registration")
		}
		registered = append(registered, name)
	}
	return c, nil
}

// Get serves id from the cache or reads it through
func (c *Cached) Get(ctx context.Context, id string) (*model.Document, error) {
	if data, ok := c.lookup(id); ok {
		c.hits.Inc()
		return decodeStored("Get", data)
	}
	c.misses.Inc()

	doc, err := c.Store.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			c.forget(id)
		}
		return nil, err
	}
	c.remember(doc)
	return doc, nil
}

// Create writes through and caches the stored document
func (c *Cached) Create(ctx context.Context, doc *model.Document) error {
	if err := c.Store.Create(ctx, doc); err != nil {
		return err
	}
	c.remember(doc)
	return nil
}

// Update writes through. A rejected write drops the entry.
func (c *Cached) Update(ctx context.Context, doc *model.Document) error {
	if err := c.Store.Update(ctx, doc); err != nil {
		if doc != nil {
			c.forget(doc.ID)
		}
		return err
	}
	c.remember(doc)
	return nil
}

// Delete removes the document from the backend and the cache
func (c *Cached) Delete(ctx context.Context, id string) error {
	err := c.Store.Delete(ctx, id)
	c.forget(id)
	return err
}

// Len returns the number of cached documents
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cached) lookup(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

func (c *Cached) remember(doc *model.Document) {
	data, err := encode("cache", doc)
	if err != nil {
		c.forget(doc.ID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[doc.ID]; ok {
		el.Value.(*cacheEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.items[doc.ID] = c.order.PushFront(&cacheEntry{id: doc.ID, data: data})
	for len(c.items) > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).id)
		c.evictions.Inc()
	}
}

func (c *Cached) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}
