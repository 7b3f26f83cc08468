package audit

import (
	"sort"
	"strings"
)

// Built-in audit categories
const (
	CategoryAuthentication = "AUTHENTICATION"
	CategoryDatabase       = "DATABASE"
	CategoryETLPipeline    = "ETL_PIPELINE"
	CategoryException      = "EXCEPTION"
	CategoryExternalCall   = "EXTERNAL_CALL"
)

// BuiltinCategories returns the categories every CategorySet contains
func BuiltinCategories() []string {
	return []string{
		CategoryAuthentication,
		CategoryDatabase,
		CategoryETLPipeline,
		CategoryException,
		CategoryExternalCall,
	}
}

// CategorySet is the immutable set of allowed audit categories. It is built
// once at bootstrap and read on every Audit call.
type CategorySet struct {
	values map[string]struct{}
	sorted []string
}

// NewCategorySet builds a set from the built-ins plus additional host categories
func NewCategorySet(additional ...string) *CategorySet {
	return NewCategoryBuilder().Add(additional...).Build()
}

// Contains reports whether category is allowed. Matching is exact.
func (s *CategorySet) Contains(category string) bool {
	if s == nil {
		return false
	}
	_, ok := s.values[category]
	return ok
}

// Values returns the allowed categories in sorted order
func (s *CategorySet) Values() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// Len returns the number of allowed categories
func (s *CategorySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sorted)
}

// CategoryBuilder accumulates host categories during setup
type CategoryBuilder struct {
	values map[string]struct{}
}

// NewCategoryBuilder returns a builder seeded with the built-in categories
func NewCategoryBuilder() *CategoryBuilder {
	b := &CategoryBuilder{values: make(map[string]struct{})}
	return b.Add(BuiltinCategories()...)
}

// Add registers categories. Values are trimmed and uppercased; blanks are ignored.
func (b *CategoryBuilder) Add(categories ...string) *CategoryBuilder {
	for _, c := range categories {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		b.values[c] = struct{}{}
	}
	return b
}

// Build freezes the builder into a CategorySet
func (b *CategoryBuilder) Build() *CategorySet {
	set := &CategorySet{
		values: make(map[string]struct{}, len(b.values)),
		sorted: make([]string, 0, len(b.values)),
	}
	for c := range b.values {
		set.values[c] = struct{}{}
		set.sorted = append(set.sorted, c)
	}
	sort.Strings(set.sorted)
	return set
}
