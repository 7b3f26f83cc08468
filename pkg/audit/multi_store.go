package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// MultiStore saves every record to several stores in order. The ID assigned
// by the first store is kept on the record, later stores reuse it.
type MultiStore struct {
	stores []Storage
}

func NewMultiStore(stores ...Storage) *MultiStore {
	return &MultiStore{stores: stores}
}

// Save writes to each store in order and stops at the first failure, so a
// later store never holds a record an earlier one rejected
func (m *MultiStore) Save(ctx context.Context, entity RecordEntity) error {
	for i, store := range m.stores {
		if err := store.Save(ctx, entity); err != nil {
			return fmt.Errorf("store %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every store that implements io.Closer
func (m *MultiStore) Close() error {
	var errs []error
	for _, store := range m.stores {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
