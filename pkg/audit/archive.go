package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

// ArchiveContentType is the content type of archive objects
const ArchiveContentType = "application/gzip"

// ForEachPage calls fn with every page of records matched by filter, using
// the largest page size
func ForEachPage(ctx context.Context, reader Reader, filter Filter, fn func([]*Record) error) error {
	filter.Page = 1
	filter.PerPage = MaxPerPage
	filter = filter.Normalized()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := reader.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list page %d: %w", filter.Page, err)
		}
		if len(page.Items) == 0 {
			return nil
		}
		if err := fn(page.Items); err != nil {
			return err
		}
		if int64(filter.Page*filter.PerPage) >= page.Total {
			return nil
		}
		filter.Page++
	}
}

// ArchiveObserver receives archive outcomes
type ArchiveObserver interface {
	ArchiveCompleted(records int, err error)
}

// ArchiverConfig configures an Archiver
type ArchiverConfig struct {
	Prefix string // key prefix, default "audit"
}

// Archiver copies a day of records to object storage as gzipped NDJSON.
// Records are left in place.
type Archiver struct {
	reader   Reader
	store    storage.ObjectStore
	prefix   string
	observer ArchiveObserver
	logger   *observability.Logger
}

// NewArchiver creates an archiver. observer and logger may be nil.
func NewArchiver(reader Reader, store storage.ObjectStore, observer ArchiveObserver, logger *observability.Logger, cfg ArchiverConfig) *Archiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Archiver{
		reader:   reader,
		store:    store,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		observer: observer,
		logger:   logger,
	}
}

// ArchiveKey returns the object key for day, e.g. audit/2026/01/02.ndjson.gz
func (a *Archiver) ArchiveKey(day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d.ndjson.gz", a.prefix, day.Year(), day.Month(), day.Day())
}

// ArchiveDay writes every record created during day (UTC) and returns the
// number of records written. An archive is written even for empty days.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (count int, err error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, 1)
	key := a.ArchiveKey(start)

	defer func() {
		if a.observer != nil {
			a.observer.ArchiveCompleted(count, err)
		}
	}()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	filter := Filter{
		CreatedAfter:  &start,
		CreatedBefore: &end,
		SortBy:        SortByID,
		SortOrder:     "asc",
	}
	err = ForEachPage(ctx, a.reader, filter, func(items []*Record) error {
		count += len(items)
		return WriteNDJSON(gz, items)
	})
	if err != nil {
		return count, fmt.Errorf("failed to read records for %s: %w", start.Format("2006-01-02"), err)
	}
	if err = gz.Close(); err != nil {
		return count, fmt.Errorf("failed to compress archive: %w", err)
	}

	if err = a.store.PutObject(ctx, key, &buf, ArchiveContentType); err != nil {
		return count, fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":     key,
		"records": count,
	}).Info("audit archive written")

	return count, nil
}
