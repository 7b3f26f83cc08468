package audit

import (
	"time"
)

// Record is a persisted, immutable audit entry
type Record struct {
	ID             int64          `json:"id"`
	Category       string         `json:"category"`
	CategoryLabel  string         `json:"category_label"`
	Message        string         `json:"message"`
	IPAddress      *string        `json:"ip_address,omitempty"`
	UserIdentifier *string        `json:"user_identifier,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AuditRecord implements RecordEntity
func (r *Record) AuditRecord() *Record {
	return r
}

// RecordEntity is implemented by every type that can be stored as an audit
// record. Host types embed Record to get it.
type RecordEntity interface {
	AuditRecord() *Record
}

// TableNamer lets a record type be stored in its own table. SQLStore reads
// such a table through SQLStore.Table.
type TableNamer interface {
	TableName() string
}

// Sort fields accepted by Filter.SortBy
const (
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
	SortByCategory  = "category"
	SortByID        = "id"
)

var sortableFields = map[string]bool{
	SortByCreatedAt: true,
	SortByUpdatedAt: true,
	SortByCategory:  true,
	SortByID:        true,
}

// Filter selects records from a Reader
type Filter struct {
	Categories     []string
	Message        string // substring match
	IPAddress      string
	UserIdentifier string

	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time

	// Search matches category, message, ip address or user identifier
	Search string

	// DataContains keeps records whose data contains this JSON document
	DataContains map[string]any

	Page    int
	PerPage int

	SortBy    string
	SortOrder string // "asc" or "desc"
}

// Pagination defaults
const (
	DefaultPerPage = 30
	MaxPerPage     = 1000
)

// Normalized returns a copy with defaulted pagination and a valid sort
func (f Filter) Normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	if !sortableFields[f.SortBy] {
		f.SortBy = SortByCreatedAt
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	return f
}

// Offset returns the number of rows skipped for the current page
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// Page is one page of records
type Page struct {
	Items   []*Record `json:"items"`
	Total   int64     `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
}

// Stats summarizes the records matched by a filter
type Stats struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
	ByUser     map[string]int64 `json:"by_user"`
	UniqueIPs  int64            `json:"unique_ips"`
	First      *time.Time       `json:"first,omitempty"`
	Last       *time.Time       `json:"last,omitempty"`
}

// ExportFormat is the output format of an export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)
