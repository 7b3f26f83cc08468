package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	Reader
	mu   sync.Mutex
	gets int
}

func (c *countingReader) Get(ctx context.Context, id int64) (*Record, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Reader.Get(ctx, id)
}

type mapRecordCache struct {
	mu      sync.Mutex
	records map[int64]*Record
	getErr  error
	setErr  error
	sets    int
}

func newMapRecordCache() *mapRecordCache {
	return &mapRecordCache{records: make(map[int64]*Record)}
}

func (m *mapRecordCache) GetRecord(_ context.Context, id int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.records[id], nil
}

func (m *mapRecordCache) SetRecord(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.records[record.ID] = copyRecord(record)
	return nil
}

type recordingCacheObserver struct {
	mu      sync.Mutex
	results []string
}

func (r *recordingCacheObserver) CacheResult(layer string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.results = append(r.results, layer+":"+outcome)
}

func TestCachedReader_MemoryOnly(t *testing.T) {
	backing := &countingReader{Reader: seedMemoryStore(t)}
	observer := &recordingCacheObserver{}
	reader := NewCachedReader(backing, nil, observer, nil, DefaultCachedReaderConfig())
	ctx := context.Background()

	first, err := reader.Get(ctx, 2)
	require.NoError(t, err)
	second, err := reader.Get(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, []string{"memory:miss", "memory:hit"}, observer.results)

	// callers cannot mutate cached entries
	second.Message = "mutated"
	third, err := reader.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "create entity User", third.Message)
}

func TestCachedReader_RemoteLayer(t *testing.T) {
	store := seedMemoryStore(t)
	remote := newMapRecordCache()
	observer := &recordingCacheObserver{}
	ctx := context.Background()

	backing := &countingReader{Reader: store}
	reader := NewCachedReader(backing, remote, observer, nil, DefaultCachedReaderConfig())
	_, err := reader.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.sets)
	assert.Equal(t, []string{"memory:miss", "remote:miss"}, observer.results)

	// a second process shares the remote cache
	otherBacking := &countingReader{Reader: store}
	otherObserver := &recordingCacheObserver{}
	other := NewCachedReader(otherBacking, remote, otherObserver, nil, DefaultCachedReaderConfig())
	record, err := other.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "boom", record.Message)
	assert.Equal(t, 0, otherBacking.gets)
	assert.Equal(t, []string{"memory:miss", "remote:hit"}, otherObserver.results)
}

func TestCachedReader_RemoteFailuresFallBack(t *testing.T) {
	remote := newMapRecordCache()
	remote.getErr = errors.New("redis down")
	remote.setErr = errors.New("redis down")

	backing := &countingReader{Reader: seedMemoryStore(t)}
	reader := NewCachedReader(backing, remote, nil, nil, DefaultCachedReaderConfig())

	record, err := reader.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.ID)
	assert.Equal(t, 1, backing.gets)
}

func TestCachedReader_NotFoundIsNotCached(t *testing.T) {
	backing := &countingReader{Reader: NewMemoryStore()}
	reader := NewCachedReader(backing, nil, nil, nil, CachedReaderConfig{})

	_, err := reader.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reader.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, backing.gets)
}

func TestCachedReader_TTL(t *testing.T) {
	backing := &countingReader{Reader: seedMemoryStore(t)}
	reader := NewCachedReader(backing, nil, nil, nil, CachedReaderConfig{MaxEntries: 8, TTL: 20 * time.Millisecond})

	_, err := reader.Get(context.Background(), 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := reader.Get(context.Background(), 1)
		return err == nil && backing.gets >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestCachedReader_PassesThroughListAndStats(t *testing.T) {
	reader := NewCachedReader(seedMemoryStore(t), nil, nil, nil, DefaultCachedReaderConfig())

	page, err := reader.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)

	stats, err := reader.Stats(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
}
