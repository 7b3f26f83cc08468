package audit

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

// Cache layers reported to CacheObserver
const (
	CacheLayerMemory = "memory"
	CacheLayerRemote = "remote"
)

// RecordCache is a shared second-level cache, e.g. Redis
type RecordCache interface {
	// GetRecord returns (nil, nil) on a miss
	GetRecord(ctx context.Context, id int64) (*Record, error)
	SetRecord(ctx context.Context, record *Record) error
}

// CacheObserver receives cache hits and misses
type CacheObserver interface {
	CacheResult(layer string, hit bool)
}

// CachedReaderConfig configures a CachedReader
type CachedReaderConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultCachedReaderConfig returns default configuration
func DefaultCachedReaderConfig() CachedReaderConfig {
	return CachedReaderConfig{
		MaxEntries: 1024,
		TTL:        10 * time.Minute,
	}
}

// CachedReader caches Get results. Records never change after they are
// written, so entries are never invalidated. List and Stats pass through.
type CachedReader struct {
	reader   Reader
	memory   *lru.LRU[int64, *Record]
	remote   RecordCache
	observer CacheObserver
	logger   *observability.Logger
}

// NewCachedReader wraps reader. remote and observer may be nil.
func NewCachedReader(reader Reader, remote RecordCache, observer CacheObserver, logger *observability.Logger, cfg CachedReaderConfig) *CachedReader {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCachedReaderConfig().MaxEntries
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedReader{
		reader:   reader,
		memory:   lru.NewLRU[int64, *Record](cfg.MaxEntries, nil, cfg.TTL),
		remote:   remote,
		observer: observer,
		logger:   logger,
	}
}

func (c *CachedReader) List(ctx context.Context, filter Filter) (*Page, error) {
	return c.reader.List(ctx, filter)
}

func (c *CachedReader) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	return c.reader.Stats(ctx, filter)
}

// Get consults the memory cache, then the remote cache, then the reader
func (c *CachedReader) Get(ctx context.Context, id int64) (*Record, error) {
	if record, ok := c.memory.Get(id); ok {
		c.observe(CacheLayerMemory, true)
		return copyRecord(record), nil
	}
	c.observe(CacheLayerMemory, false)

	if c.remote != nil {
		record, err := c.remote.GetRecord(ctx, id)
		if err != nil {
			c.logger.For(ctx).WithError(err).WithField("record_id", id).Warn("remote audit cache read failed")
		}
		if record != nil {
			c.observe(CacheLayerRemote, true)
			c.memory.Add(id, record)
			return copyRecord(record), nil
		}
		c.observe(CacheLayerRemote, false)
	}

	record, err := c.reader.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.memory.Add(id, copyRecord(record))
	if c.remote != nil {
		if err := c.remote.SetRecord(ctx, record); err != nil {
			c.logger.For(ctx).WithError(err).WithField("record_id", id).Warn("remote audit cache write failed")
		}
	}
	return record, nil
}

func (c *CachedReader) observe(layer string, hit bool) {
	if c.observer != nil {
		c.observer.CacheResult(layer, hit)
	}
}
