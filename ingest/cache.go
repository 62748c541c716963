// Package ingest fetches the property dataset from its configured sources and
// keeps the normalized result in memory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"property-sync/models"
	"property-sync/parser"
	"property-sync/services"
	"property-sync/utils"
)

var (
	ErrSourceUnavailable = errors.New("no dataset source available")
	ErrEmptyDataset      = errors.New("dataset produced no valid properties")
)

// Phase is the cache's position in its load cycle.
type Phase string

const (
	PhaseEmpty   Phase = "empty"
	PhaseLoading Phase = "loading"
	PhaseLoaded  Phase = "loaded"
	PhaseFailed  Phase = "failed"
)

const syncKey = "sync"

type snapshot struct {
	props    []models.Property
	index    map[string]int
	syncedAt time.Time
	source   string
}

// Option customises a Cache.
type Option func(*Cache)

// WithMirror writes every successfully synced dataset text to m.
func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

// WithTimeout bounds each source fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithObserver is called once per sync attempt that actually ran.
func WithObserver(fn func(res models.IngestResult, elapsed time.Duration)) Option {
	return func(c *Cache) { c.observe = fn }
}

// Cache owns the in-memory dataset. The snapshot is swapped atomically, so
// readers never observe a partially replaced collection.
type Cache struct {
	logger     *utils.Logger
	normalizer *services.Normalizer
	sources    []Source
	mirror     Mirror
	timeout    time.Duration
	observe    func(models.IngestResult, time.Duration)

	group singleflight.Group
	data  atomic.Pointer[snapshot]

	mu      sync.Mutex
	phase   Phase
	lastErr error
}

// NewCache creates an empty Cache reading from sources in order.
func NewCache(logger *utils.Logger, normalizer *services.Normalizer, sources []Source, opts ...Option) *Cache {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if normalizer == nil {
		normalizer = services.NewNormalizer(logger, services.NormalizerOptions{})
	}
	c := &Cache{
		logger:     logger,
		normalizer: normalizer,
		sources:    sources,
		phase:      PhaseEmpty,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync fetches, parses and normalizes the dataset. A call made while another
// sync is running joins it instead of fetching again. On failure the
// previous dataset stays in place.
//
// The shared run is detached from the cancellation of whichever caller
// started it; each source fetch is still bounded by WithTimeout. A caller
// whose ctx ends stops waiting, the run carries on for the others.
func (c *Cache) Sync(ctx context.Context) models.IngestResult {
	if err := ctx.Err(); err != nil {
		return models.IngestResult{Err: fmt.Errorf("sync: %w", err)}
	}

	runCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(syncKey, func() (any, error) {
		return c.run(runCtx), nil
	})

	select {
	case r := <-ch:
		return r.Val.(models.IngestResult)
	case <-ctx.Done():
		return models.IngestResult{Err: fmt.Errorf("sync: %w", ctx.Err())}
	}
}

// AutoSync syncs only when the cache is not loaded yet.
func (c *Cache) AutoSync(ctx context.Context) models.IngestResult {
	if c.Phase() == PhaseLoaded {
		snap := c.data.Load()
		return models.IngestResult{
			Success:  true,
			Count:    len(snap.props),
			Cached:   true,
			Source:   snap.source,
			SyncedAt: snap.syncedAt,
		}
	}
	return c.Sync(ctx)
}

// GetAll returns the current dataset, or an empty slice before the first
// successful sync. Callers must not modify the returned slice.
func (c *Cache) GetAll() []models.Property {
	snap := c.data.Load()
	if snap == nil {
		return []models.Property{}
	}
	return snap.props
}

// Lookup returns the property with the given id.
func (c *Cache) Lookup(id string) (models.Property, bool) {
	snap := c.data.Load()
	if snap == nil {
		return models.Property{}, false
	}
	i, ok := snap.index[id]
	if !ok {
		return models.Property{}, false
	}
	return snap.props[i], true
}

func (c *Cache) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// LastSync is the time of the last successful sync, zero if none.
func (c *Cache) LastSync() time.Time {
	if snap := c.data.Load(); snap != nil {
		return snap.syncedAt
	}
	return time.Time{}
}

// LastError is the error of the most recent failed sync, nil after a success.
func (c *Cache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Cache) setPhase(p Phase, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
	c.lastErr = err
}

func (c *Cache) run(ctx context.Context) models.IngestResult {
	start := time.Now()
	c.setPhase(PhaseLoading, nil)

	res := c.load(ctx)
	if res.Err != nil {
		c.setPhase(PhaseFailed, res.Err)
		c.logger.Error("[cache] Sync failed: %v", res.Err)
	} else {
		c.setPhase(PhaseLoaded, nil)
		c.logger.Info("[cache] Synced %d properties from %s", res.Count, res.Source)
	}

	if c.observe != nil {
		c.observe(res, time.Since(start))
	}
	return res
}

func (c *Cache) load(ctx context.Context) models.IngestResult {
	src, text, err := c.fetch(ctx)
	if err != nil {
		return models.IngestResult{Err: err}
	}

	props, stats := c.normalizer.NormalizeAll(parser.Tokenize(text))
	res := models.IngestResult{
		Source:     src.Name(),
		Skipped:    stats.Skipped,
		Duplicates: stats.Duplicates,
	}
	if len(props) == 0 {
		res.Err = fmt.Errorf("%s: %w", src.Name(), ErrEmptyDataset)
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("sync aborted: %w", err)
		return res
	}

	snap := &snapshot{
		props:    props,
		index:    make(map[string]int, len(props)),
		syncedAt: time.Now().UTC(),
		source:   src.Name(),
	}
	for i, p := range props {
		snap.index[p.ID] = i
	}
	c.data.Store(snap)

	if c.mirror != nil && c.mirror.Name() != src.Name() {
		if err := c.mirror.Store(ctx, text); err != nil {
			c.logger.Warn("[cache] Mirror %s failed: %v", c.mirror.Name(), err)
		}
	}

	res.Success = true
	res.Count = len(props)
	res.SyncedAt = snap.syncedAt
	return res
}

// fetch returns the text of the first source that answers.
func (c *Cache) fetch(ctx context.Context) (Source, string, error) {
	if len(c.sources) == 0 {
		return nil, "", fmt.Errorf("%w: no sources configured", ErrSourceUnavailable)
	}

	var errs []error
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		text, err := c.fetchOne(ctx, src)
		if err != nil {
			c.logger.Warn("[cache] Source %s unavailable: %v", src.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		return src, text, nil
	}

	return nil, "", fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(errs...))
}

func (c *Cache) fetchOne(ctx context.Context, src Source) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return src.Fetch(ctx)
}
