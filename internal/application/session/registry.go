// Package session keeps the live guest trackers of a running service.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// ErrRegistryClosed is returned after Close.
var ErrRegistryClosed = errors.New("session: registry is closed")

// Lifecycle is notified when trackers enter and leave memory.
type Lifecycle interface {
	TrackerOpened()
	TrackerClosed()
}

// Config controls how trackers are built and how many stay resident.
type Config struct {
	Namespace         string
	FreeQuestionLimit int
	RearmAfter        int

	// Size is the LRU capacity. The least recently used tracker is closed
	// (flushing any pending write) when a new one needs room.
	Size int

	// LoadTimeout bounds the snapshot read when a tracker is first used.
	LoadTimeout time.Duration

	// AsyncPersist wraps each tracker's snapshot store in a guest.WriteBehind.
	AsyncPersist   bool
	PersistTimeout time.Duration
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Namespace:         guest.DefaultNamespace,
		FreeQuestionLimit: guest.DefaultFreeQuestionLimit,
		RearmAfter:        guest.DefaultRearmAfter,
		Size:              10000,
		LoadTimeout:       3 * time.Second,
		PersistTimeout:    3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.FreeQuestionLimit <= 0 {
		c.FreeQuestionLimit = d.FreeQuestionLimit
	}
	if c.RearmAfter <= 0 {
		c.RearmAfter = d.RearmAfter
	}
	if c.Size <= 0 {
		c.Size = d.Size
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver sets the observer handed to every tracker.
func WithObserver(o guest.Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLifecycle sets the tracker lifecycle hooks.
func WithLifecycle(l Lifecycle) Option {
	return func(r *Registry) {
		r.lifecycle = l
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator overrides guest ID issuance.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Registry maps guest IDs to trackers, loading them from the KV store on
// first use and keeping a bounded LRU in memory. Concurrent first requests
// for the same guest share one load.
//
// Callers pin a tracker with Acquire for the duration of a request. An
// evicted tracker that is still pinned stays open and is handed back to the
// next lookup instead of being reloaded, so a guest never has two live
// trackers.
type Registry struct {
	kv        guest.KVStore
	cfg       Config
	observer  guest.Observer
	lifecycle Lifecycle
	log       *logger.Logger
	newID     func() string

	cache gcache.Cache

	retiredMu sync.Mutex
	retired   map[guest.GuestID]*entry

	mu     sync.RWMutex
	closed bool
}

// entry is a cached tracker and its pin count.
type entry struct {
	tracker *guest.Tracker

	mu      sync.Mutex
	refs    int
	evicted bool
	closed  bool
}

// NewRegistry creates a registry backed by kv.
func NewRegistry(kv guest.KVStore, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		kv:       kv,
		cfg:      cfg.withDefaults(),
		observer: guest.NopObserver{},
		log:      logger.Nop(),
		newID:    uuid.NewString,
		retired:  make(map[guest.GuestID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.cache = gcache.New(r.cfg.Size).LRU().
		LoaderFunc(r.load).
		EvictedFunc(r.evicted).
		Build()

	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Acquire returns the tracker for id, loading it if needed, and pins it
// until release is called. release is safe to call more than once.
func (r *Registry) Acquire(ctx context.Context, id guest.GuestID) (*guest.Tracker, func(), error) {
	if !id.IsValid() {
		return nil, nil, shared.ErrInvalidGuestID
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, nil, ErrRegistryClosed
	}

	for {
		v, err := r.cache.Get(id)
		if err != nil {
			return nil, nil, fmt.Errorf("session: load tracker: %w", err)
		}
		e := v.(*entry)

		e.mu.Lock()
		if e.closed {
			// Evicted and closed between Get and here; load again.
			e.mu.Unlock()
			continue
		}
		e.refs++
		e.mu.Unlock()

		var once sync.Once
		return e.tracker, func() { once.Do(func() { r.release(id, e) }) }, nil
	}
}

// Issue creates a new guest ID and returns its (empty) tracker, pinned.
func (r *Registry) Issue(ctx context.Context) (*guest.Tracker, func(), error) {
	id := guest.GuestID(r.newID())
	return r.Acquire(ctx, id)
}

// Forget drops the in-memory tracker for id and closes it once unpinned.
// The stored snapshot is untouched; the next request reloads it.
func (r *Registry) Forget(id guest.GuestID) bool {
	return r.cache.Remove(id)
}

// Len returns the number of resident trackers.
func (r *Registry) Len() int {
	return r.cache.Len(false)
}

// Ping fails once the registry is closed. Used by the health check.
func (r *Registry) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRegistryClosed
	}
	return nil
}

// Close closes every resident tracker that is not pinned; pinned ones close
// on release. Pending write-behind saves are flushed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	for key := range r.cache.GetALL(false) {
		r.cache.Remove(key)
	}
	return nil
}

func (r *Registry) load(key interface{}) (interface{}, error) {
	id, ok := key.(guest.GuestID)
	if !ok {
		return nil, shared.ErrInvalidGuestID
	}

	if e := r.revive(id); e != nil {
		r.log.Debug("guest tracker revived", logger.GuestID(id.String()))
		return e, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LoadTimeout)
	defer cancel()

	var p guest.Persistence = guest.NewSnapshotStore(r.kv, r.cfg.Namespace, id, r.cfg.FreeQuestionLimit)
	if r.cfg.AsyncPersist {
		p = guest.NewWriteBehind(p, r.cfg.PersistTimeout, func(err error) {
			r.observer.PersistFailed(id, "write_behind", err)
		})
	}

	t := guest.NewTracker(ctx, id, p,
		guest.WithFreeQuestionLimit(r.cfg.FreeQuestionLimit),
		guest.WithRearmAfter(r.cfg.RearmAfter),
		guest.WithObserver(r.observer),
	)

	if r.lifecycle != nil {
		r.lifecycle.TrackerOpened()
	}
	r.log.Debug("guest tracker loaded", logger.GuestID(id.String()), logger.AnswerCount(t.AnswerCount()))
	return &entry{tracker: t}, nil
}

// revive takes back an evicted tracker that is still pinned.
func (r *Registry) revive(id guest.GuestID) *entry {
	r.retiredMu.Lock()
	e := r.retired[id]
	delete(r.retired, id)
	r.retiredMu.Unlock()

	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.evicted = false
	return e
}

// evicted runs under the cache lock, so a reload of the same guest waits
// until the tracker is either closed (pending write landed) or retired.
func (r *Registry) evicted(key, value interface{}) {
	e, ok := value.(*entry)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.evicted = true
	if e.refs > 0 {
		r.retiredMu.Lock()
		r.retired[e.tracker.ID()] = e
		r.retiredMu.Unlock()
		return
	}
	r.closeEntry(e)
}

func (r *Registry) release(id guest.GuestID, e *entry) {
	e.mu.Lock()
	e.refs--
	closing := e.refs == 0 && e.evicted && !e.closed
	if closing {
		r.closeEntry(e)
	}
	e.mu.Unlock()

	if closing {
		r.retiredMu.Lock()
		if r.retired[id] == e {
			delete(r.retired, id)
		}
		r.retiredMu.Unlock()
	}
}

// closeEntry must be called with e.mu held.
func (r *Registry) closeEntry(e *entry) {
	e.closed = true
	if err := e.tracker.Close(); err != nil {
		r.log.Warn("closing evicted tracker", logger.GuestID(e.tracker.ID().String()), logger.Err(err))
	}
	if r.lifecycle != nil {
		r.lifecycle.TrackerClosed()
	}
}
