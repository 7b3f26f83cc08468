package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps records in process. Payloads are stored as encoded JSON
// so reads behave like the SQL store.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of the record and assigns its ID
func (m *MemoryStore) Save(ctx context.Context, entity RecordEntity) error {
	record := entity.AuditRecord()

	data, err := roundTripData(record.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal audit data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// IDs assigned by an earlier store in a MultiStore are kept
	if record.ID == 0 {
		m.nextID++
		record.ID = m.nextID
	} else if record.ID > m.nextID {
		m.nextID = record.ID
	}

	stored := *record
	stored.Data = data
	m.records = append(m.records, &stored)
	return nil
}

// Len returns the number of stored records
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Records returns copies of all records in insertion order
func (m *MemoryStore) Records() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, len(m.records))
	for i, r := range m.records {
		out[i] = copyRecord(r)
	}
	return out
}

func (m *MemoryStore) List(ctx context.Context, filter Filter) (*Page, error) {
	filter = filter.Normalized()
	matched, err := m.match(filter)
	if err != nil {
		return nil, err
	}

	sortRecords(matched, filter.SortBy, filter.SortOrder == "asc")

	page := &Page{Items: make([]*Record, 0), Total: int64(len(matched)), Page: filter.Page, PerPage: filter.PerPage}
	start := filter.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + filter.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	for _, r := range matched[start:end] {
		page.Items = append(page.Items, copyRecord(r))
	}
	return page, nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.ID == id {
			return copyRecord(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	matched, err := m.match(filter)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByCategory: make(map[string]int64),
		ByUser:     make(map[string]int64),
	}
	ips := make(map[string]struct{})
	for _, r := range matched {
		stats.Total++
		stats.ByCategory[r.Category]++
		if r.UserIdentifier != nil {
			stats.ByUser[*r.UserIdentifier]++
		}
		if r.IPAddress != nil {
			ips[*r.IPAddress] = struct{}{}
		}
		if stats.First == nil || r.CreatedAt.Before(*stats.First) {
			t := r.CreatedAt
			stats.First = &t
		}
		if stats.Last == nil || r.CreatedAt.After(*stats.Last) {
			t := r.CreatedAt
			stats.Last = &t
		}
	}
	stats.UniqueIPs = int64(len(ips))
	return stats, nil
}

func (m *MemoryStore) match(filter Filter) ([]*Record, error) {
	var contains map[string]any
	if len(filter.DataContains) > 0 {
		var err error
		if contains, err = roundTripData(filter.DataContains); err != nil {
			return nil, fmt.Errorf("invalid data filter: %w", err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if matchesFilter(r, filter) && (contains == nil || jsonContains(r.Data, contains)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchesFilter(r *Record, f Filter) bool {
	if len(f.Categories) > 0 && !containsString(f.Categories, r.Category) {
		return false
	}
	if f.Message != "" && !containsFold(r.Message, f.Message) {
		return false
	}
	if f.IPAddress != "" && deref(r.IPAddress) != f.IPAddress {
		return false
	}
	if f.UserIdentifier != "" && deref(r.UserIdentifier) != f.UserIdentifier {
		return false
	}
	if f.CreatedAfter != nil && r.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !r.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.UpdatedAfter != nil && r.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && !r.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	if f.Search != "" {
		fields := []string{r.Category, r.CategoryLabel, r.Message, deref(r.IPAddress), deref(r.UserIdentifier)}
		found := false
		for _, v := range fields {
			if containsFold(v, f.Search) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// jsonContains mirrors jsonb @>: objects match key-wise, arrays match when
// every wanted element is contained in some element
func jsonContains(have, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		h, ok := have.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			hv, ok := h[k]
			if !ok || !jsonContains(hv, wv) {
				return false
			}
		}
		return true
	case []any:
		h, ok := have.([]any)
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, hv := range h {
				if jsonContains(hv, wv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(have, want)
	}
}

func sortRecords(records []*Record, field string, asc bool) {
	less := func(a, b *Record) bool {
		switch field {
		case SortByUpdatedAt:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		case SortByCategory:
			if a.Category != b.Category {
				return a.Category < b.Category
			}
		case SortByCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(records, func(i, j int) bool {
		if asc {
			return less(records[i], records[j])
		}
		return less(records[j], records[i])
	})
}

// roundTripData encodes and decodes a payload the way a JSON column does
func roundTripData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return decodeData(encoded)
}

func copyRecord(r *Record) *Record {
	c := *r
	if r.Data != nil {
		// payloads are decoded JSON, a round trip cannot fail
		c.Data, _ = roundTripData(r.Data)
	}
	return &c
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
