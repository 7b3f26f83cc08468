package main

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/audittrail/pkg/app"
	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/config"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		Storage: storage.DefaultConfig(),
		Audit:   config.DefaultAuditConfig(),
		I18n:    config.I18nConfig{Locale: "en"},
	}
	cfg.Storage.Type = app.StorageMemory
	cfg.Storage.FilesystemRoot = t.TempDir()

	a, err := app.New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestParseDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	day, err := parseDay("", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", day.Format(time.DateOnly))

	day, err = parseDay("2025-12-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), day)

	_, err = parseDay("31/12/2025", now)
	assert.Error(t, err)
}

func TestJob_WritesArchive(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Recorder.Audit(ctx, audit.CategoryETLPipeline, "nightly import", nil))

	j, err := newJob(ctx, a)
	require.NoError(t, err)

	day := time.Now().UTC()
	require.NoError(t, j.run(ctx, day))

	store, err := storage.NewFileSystemObjectStore(filepath.Join(a.Config.Storage.FilesystemRoot, "archive"))
	require.NoError(t, err)
	rc, err := store.GetObject(ctx, j.archiver.ArchiveKey(day))
	require.NoError(t, err)
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "\n"))
	assert.Contains(t, string(content), "nightly import")
}

type brokenStore struct {
	storage.ObjectStore
}

func (brokenStore) PutObject(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

func TestJob_FailureIsAudited(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	j := &job{
		archiver:   audit.NewArchiver(a.Reader, brokenStore{}, nil, nil, audit.ArchiverConfig{}),
		exceptions: a.Exceptions,
		logger:     a.Logger,
	}

	err := j.run(ctx, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")

	page, err := a.Reader.List(ctx, audit.Filter{Categories: []string{audit.CategoryException}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Contains(t, page.Items[0].Message, "bucket unavailable")
}

func TestDayRange(t *testing.T) {
	first := time.Date(2026, 2, 27, 15, 0, 0, 0, time.UTC)
	last := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)

	days, err := dayRange(first, last)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, "2026-02-27", days[0].Format(time.DateOnly))
	assert.Equal(t, "2026-03-01", days[2].Format(time.DateOnly))

	_, err = dayRange(last, first)
	assert.Error(t, err)
}

func TestJob_Backfill(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	j, err := newJob(ctx, a)
	require.NoError(t, err)

	days, err := dayRange(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, j.backfill(ctx, days, 2, time.Minute))

	store, err := storage.NewFileSystemObjectStore(filepath.Join(a.Config.Storage.FilesystemRoot, "archive"))
	require.NoError(t, err)
	for _, day := range days {
		exists, err := store.ObjectExists(ctx, j.archiver.ArchiveKey(day))
		require.NoError(t, err)
		assert.True(t, exists, day.Format(time.DateOnly))
	}
}

func TestJob_BackfillReportsFailures(t *testing.T) {
	a := newTestApp(t)
	j := &job{
		archiver:   audit.NewArchiver(a.Reader, brokenStore{}, nil, nil, audit.ArchiverConfig{}),
		exceptions: a.Exceptions,
		logger:     a.Logger,
	}

	days, err := dayRange(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	err = j.backfill(context.Background(), days, 2, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 days failed")
}
