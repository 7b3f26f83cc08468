package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/audittrail/pkg/httputil"
)

// MaxExportRecords bounds a single export request
const MaxExportRecords = 100000

// Handlers provides HTTP handlers for the audit record API
type Handlers struct {
	recorder   Recorder
	reader     Reader
	categories *CategorySet
	translator Translator
}

// NewHandlers creates audit handlers. translator may be nil.
func NewHandlers(recorder Recorder, reader Reader, categories *CategorySet, translator Translator) *Handlers {
	if translator == nil {
		translator = IdentityTranslator{}
	}
	return &Handlers{
		recorder:   recorder,
		reader:     reader,
		categories: categories,
		translator: translator,
	}
}

// RegisterRoutes registers audit record routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/records", h.listRecords).Methods("GET").Name("audit_records_list")
	router.HandleFunc("/audit/records", h.createRecord).Methods("POST").Name("audit_records_create")
	router.HandleFunc("/audit/records/{id}", h.getRecord).Methods("GET").Name("audit_records_get")
	router.HandleFunc("/audit/export", h.exportRecords).Methods("GET").Name("audit_export")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET").Name("audit_stats")
	router.HandleFunc("/audit/categories", h.listCategories).Methods("GET").Name("audit_categories")
}

// CreateRecordRequest is the body of POST /audit/records
type CreateRecordRequest struct {
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// listRecords handles GET /audit/records
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.reader.List(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, page)
}

// createRecord handles POST /audit/records
func (h *Handlers) createRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}

	if err := h.recorder.Audit(r.Context(), req.Category, req.Message, req.Data); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]string{
		"category": req.Category,
		"message":  req.Message,
	})
}

// getRecord handles GET /audit/records/{id}
func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid record ID")
		return
	}

	record, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "record not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, record)
}

// exportRecords handles GET /audit/export
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var records []*Record
	err = ForEachPage(r.Context(), h.reader, filter, func(items []*Record) error {
		records = append(records, items...)
		if len(records) > MaxExportRecords {
			return fmt.Errorf("export exceeds %d records, narrow the filter", MaxExportRecords)
		}
		return nil
	})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	data, err := Export(records, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteAttachment(w, format.ContentType(), "audit-records."+string(format), data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.reader.Stats(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// listCategories handles GET /audit/categories
func (h *Handlers) listCategories(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string][]string{
		"categories": h.categories.Values(),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var invalid *InvalidCategoryError
	if errors.As(err, &invalid) {
		msg := h.translator.Translate(invalid.TranslationKey(), invalid.TranslationParams(), DomainMessages)
		if msg == "" || msg == invalid.TranslationKey() {
			msg = invalid.Error()
		}
		httputil.WriteBadRequest(w, msg)
		return
	}

	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteError(w, status, err)
}

// parseFilter parses a Filter from query parameters
func parseFilter(r *http.Request) (Filter, error) {
	var filter Filter
	var err error

	filter.Categories = httputil.ParseQueryList(r, "category")
	filter.Message = httputil.ParseQueryString(r, "message", "")
	filter.IPAddress = httputil.ParseQueryString(r, "ip_address", "")
	filter.UserIdentifier = httputil.ParseQueryString(r, "user_identifier", "")
	filter.Search = httputil.ParseQueryString(r, "q", "")
	filter.SortBy = httputil.ParseQueryString(r, "sort", SortByCreatedAt)
	filter.SortOrder = httputil.ParseQueryString(r, "order", "desc")

	if filter.CreatedAfter, err = httputil.ParseQueryTime(r, "created_after"); err != nil {
		return filter, err
	}
	if filter.CreatedBefore, err = httputil.ParseQueryTime(r, "created_before"); err != nil {
		return filter, err
	}
	if filter.UpdatedAfter, err = httputil.ParseQueryTime(r, "updated_after"); err != nil {
		return filter, err
	}
	if filter.UpdatedBefore, err = httputil.ParseQueryTime(r, "updated_before"); err != nil {
		return filter, err
	}

	if filter.Page, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		return filter, err
	}
	if filter.PerPage, err = httputil.ParseQueryInt(r, "per_page", DefaultPerPage); err != nil {
		return filter, err
	}

	if raw := r.URL.Query().Get("data"); raw != "" {
		decoder := json.NewDecoder(strings.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&filter.DataContains); err != nil {
			return filter, fmt.Errorf("invalid data filter: %w", err)
		}
	}

	return filter, nil
}
