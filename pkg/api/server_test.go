package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/audittrail/pkg/app"
	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/config"
	"github.com/platinummonkey/audittrail/pkg/middleware"
	"github.com/platinummonkey/audittrail/pkg/storage"
	"github.com/platinummonkey/audittrail/pkg/storage/postgres"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *app.App {
	t.Helper()
	cfg := &config.Config{
		Storage: storage.DefaultConfig(),
		Audit:   config.DefaultAuditConfig(),
		I18n:    config.I18nConfig{Locale: "en"},
		Auth:    config.AuthConfig{StaticPrincipal: "tester"},
	}
	cfg.Storage.Type = app.StorageMemory
	cfg.Storage.FilesystemRoot = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateAndReadRecord(t *testing.T) {
	a := newTestApp(t, nil)
	server := NewServer(a, nil)

	rec := doRequest(t, server, http.MethodPost, "/audit/records", audit.CreateRecordRequest{
		Category: audit.CategoryExternalCall,
		Message:  "called billing",
		Data:     map[string]any{"status": 200},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = doRequest(t, server, http.MethodGet, "/audit/records/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record audit.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "called billing", record.Message)
	assert.Equal(t, "External call", record.CategoryLabel)
	require.NotNil(t, record.UserIdentifier)
	assert.Equal(t, "tester", *record.UserIdentifier)
	require.NotNil(t, record.IPAddress)
	assert.Equal(t, "192.0.2.1", *record.IPAddress)
}

func TestServer_InvalidCategoryIsTranslated(t *testing.T) {
	server := NewServer(newTestApp(t, nil), nil)

	rec := doRequest(t, server, http.MethodPost, "/audit/records", audit.CreateRecordRequest{
		Category: "NOPE",
		Message:  "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid type: NOPE")
}

func TestServer_Categories(t *testing.T) {
	server := NewServer(newTestApp(t, func(cfg *config.Config) {
		cfg.Audit.AdditionalTypes = []string{"billing"}
	}), nil)

	rec := doRequest(t, server, http.MethodGet, "/audit/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["categories"], "BILLING")
	assert.Contains(t, body["categories"], audit.CategoryException)
}

func TestServer_ResourceDisabled(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Audit.ResourceEnabled = false
	})
	server := NewServer(a, nil)

	rec := doRequest(t, server, http.MethodGet, "/audit/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 404 is excluded by default
	page, err := a.Reader.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestServer_NotFoundAuditedWhenNotExcluded(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Audit.Excluded.ResponseCodes = nil
	})
	server := NewServer(a, nil)

	rec := doRequest(t, server, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	page, err := a.Reader.List(context.Background(), audit.Filter{Categories: []string{audit.CategoryException}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Contains(t, page.Items[0].Message, "/missing")
}

func TestServer_PanicIsAuditedAndRendered(t *testing.T) {
	a := newTestApp(t, nil)
	server := NewServer(a, nil)
	server.Router().HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rec := doRequest(t, server, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	page, err := a.Reader.List(context.Background(), audit.Filter{Categories: []string{audit.CategoryException}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "/boom", page.Items[0].Data["url"])
}

type tokenVerifier map[string]string

func (v tokenVerifier) VerifyPrincipal(_ context.Context, token string) (string, error) {
	if p, ok := v[token]; ok {
		return p, nil
	}
	return "", errors.New("bad token")
}

func TestServer_BearerPrincipal(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Auth.StaticPrincipal = ""
	})
	server := NewServer(a, tokenVerifier{"t1": "ops@example.com"})

	rec := doRequest(t, server, http.MethodPost, "/audit/records", audit.CreateRecordRequest{
		Category: audit.CategoryAuthentication,
		Message:  "login",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body, _ := json.Marshal(audit.CreateRecordRequest{Category: audit.CategoryAuthentication, Message: "login"})
	req := httptest.NewRequest(http.MethodPost, "/audit/records", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer t1")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	record, err := a.Reader.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, record.UserIdentifier)
	assert.Equal(t, "ops@example.com", *record.UserIdentifier)
}

func TestServer_WritesAreRateLimited(t *testing.T) {
	server := NewServer(newTestApp(t, nil), nil)

	rec := doRequest(t, server, http.MethodPost, "/audit/records", audit.CreateRecordRequest{
		Category: audit.CategoryDatabase,
		Message:  "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("X-RateLimit-Limit"))

	rec = doRequest(t, server, http.MethodGet, "/audit/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestServer_WriteBodyLimit(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 64
	})
	server := NewServer(a, nil)

	rec := doRequest(t, server, http.MethodPost, "/audit/records", audit.CreateRecordRequest{
		Category: audit.CategoryDatabase,
		Message:  string(bytes.Repeat([]byte("x"), 128)),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, a.Reader.(*audit.MemoryStore).Len())
}

func TestServer_DistributedWriteLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestApp(t, nil)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a.Backend = &postgres.Backend{Redis: client}
	t.Cleanup(func() { client.Close() })

	server := NewServer(a, nil)
	rec := doRequest(t, server, http.MethodPost, "/audit/records", audit.CreateRecordRequest{
		Category: audit.CategoryDatabase,
		Message:  "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, mr.Exists(principalLimitPrefix+":principal:tester"))
	assert.Empty(t, server.localLimiters)
}
