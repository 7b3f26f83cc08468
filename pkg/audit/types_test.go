package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_JSON(t *testing.T) {
	ip := "10.0.0.1"
	record := &Record{
		ID:        1,
		Category:  CategoryDatabase,
		Message:   "create entity User",
		IPAddress: &ip,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "10.0.0.1", decoded["ip_address"])
	assert.NotContains(t, decoded, "user_identifier")
	assert.NotContains(t, decoded, "data")
	assert.Equal(t, "2026-01-01T00:00:00Z", decoded["created_at"])
}

func TestRecord_IsRecordEntity(t *testing.T) {
	r := &Record{}
	assert.Same(t, r, r.AuditRecord())

	inv := &invoiceRecord{}
	var entity RecordEntity = inv
	assert.Same(t, &inv.Record, entity.AuditRecord())
}

func TestFilter_Normalized(t *testing.T) {
	f := Filter{}.Normalized()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPerPage, f.PerPage)
	assert.Equal(t, SortByCreatedAt, f.SortBy)
	assert.Equal(t, "desc", f.SortOrder)
	assert.Equal(t, 0, f.Offset())

	f = Filter{Page: 3, PerPage: 5000, SortBy: "message", SortOrder: "ASC"}.Normalized()
	assert.Equal(t, MaxPerPage, f.PerPage)
	assert.Equal(t, SortByCreatedAt, f.SortBy)
	assert.Equal(t, "desc", f.SortOrder)
	assert.Equal(t, 2*MaxPerPage, f.Offset())

	f = Filter{Page: -1, PerPage: 10, SortBy: SortByCategory, SortOrder: "asc"}.Normalized()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, SortByCategory, f.SortBy)
	assert.Equal(t, "asc", f.SortOrder)
}

func TestCategorySet(t *testing.T) {
	set := NewCategorySet(" billing ", "", "SHIPPING", "BILLING")

	assert.True(t, set.Contains("BILLING"))
	assert.True(t, set.Contains("SHIPPING"))
	assert.False(t, set.Contains("billing"))
	assert.False(t, set.Contains(""))
	for _, c := range BuiltinCategories() {
		assert.True(t, set.Contains(c), c)
	}

	assert.Equal(t, len(BuiltinCategories())+2, set.Len())
	values := set.Values()
	assert.IsIncreasing(t, values)

	// Values returns a copy
	values[0] = "MUTATED"
	assert.NotEqual(t, "MUTATED", set.Values()[0])

	var nilSet *CategorySet
	assert.False(t, nilSet.Contains(CategoryDatabase))
	assert.Nil(t, nilSet.Values())
	assert.Zero(t, nilSet.Len())
}

func TestCategoryBuilder(t *testing.T) {
	set := NewCategoryBuilder().Add("a").Add("b", "c").Build()
	assert.True(t, set.Contains("A"))
	assert.True(t, set.Contains("C"))
	assert.Equal(t, len(BuiltinCategories())+3, set.Len())
}

func TestInvalidCategoryError(t *testing.T) {
	err := &InvalidCategoryError{Value: "FOO", Allowed: []string{"A", "B"}}

	assert.Equal(t, "invalid type: FOO. Allowed types: A, B", err.Error())
	assert.ErrorIs(t, err, ErrInvalidCategory)
	assert.Equal(t, InvalidCategoryTranslationKey, err.TranslationKey())
	assert.Equal(t, map[string]string{"%type%": "FOO", "%allowed%": "A, B"}, err.TranslationParams())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid category", err: fmt.Errorf("wrapped: %w", &InvalidCategoryError{}), want: http.StatusBadRequest},
		{name: "unsupported target", err: &UnsupportedTargetTypeError{Target: "x"}, want: http.StatusBadRequest},
		{name: "not found", err: ErrNotFound, want: http.StatusNotFound},
		{name: "status coder", err: NewHTTPError(http.StatusConflict, ""), want: http.StatusConflict},
		{name: "translated keeps status", err: &TranslatedError{Message: "x", Err: NewHTTPError(http.StatusForbidden, "")}, want: http.StatusForbidden},
		{name: "storage", err: &StorageError{Err: errDiskFull}, want: http.StatusInternalServerError},
		{name: "plain", err: errors.New("x"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestNewHTTPError_DefaultMessage(t *testing.T) {
	assert.Equal(t, "Not Found", NewHTTPError(http.StatusNotFound, "").Error())
	assert.Equal(t, "gone", NewHTTPError(http.StatusGone, "gone").Error())
}

func TestStorageError(t *testing.T) {
	err := &StorageError{Err: errDiskFull}
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, err.Error(), "disk full")
}

func TestExclusionPolicy(t *testing.T) {
	p := ExclusionPolicy{
		ResponseCodes: []int{404, 410},
		Paths:         []string{"/healthz", "/static/*"},
		Routes:        []string{"health"},
	}

	assert.True(t, p.ExcludesStatus(404))
	assert.True(t, p.ExcludesStatus(410))
	assert.False(t, p.ExcludesStatus(500))

	assert.True(t, p.ExcludesPath("/healthz"))
	assert.True(t, p.ExcludesPath("/static/app.js"))
	assert.False(t, p.ExcludesPath("/static/css/app.css"))
	assert.False(t, p.ExcludesPath(""))

	assert.True(t, p.ExcludesRoute("health"))
	assert.False(t, p.ExcludesRoute(""))
	assert.False(t, p.ExcludesRoute("orders"))

	assert.Equal(t, []int{http.StatusNotFound}, DefaultExclusionPolicy().ResponseCodes)
}
