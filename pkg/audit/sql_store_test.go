package audit

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordColumnNames = []string{"id", "category", "category_label", "message", "ip_address", "user_identifier", "data", "created_at", "updated_at"}

func newMockSQLStore(t *testing.T, cfg SQLStoreConfig) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewSQLStore(db, cfg)
	require.NoError(t, err)
	return store, mock
}

func TestNewSQLStore_RequiresDB(t *testing.T) {
	_, err := NewSQLStore(nil, SQLStoreConfig{})
	assert.Error(t, err)
}

func TestNewSQLStore_SchemaAndTableFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "audit"`)).WillReturnError(errors.New("permission denied"))

	_, err = NewSQLStore(db, SQLStoreConfig{Schema: "audit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Save(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	ip := "10.0.0.1"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := &Record{
		Category:      CategoryDatabase,
		CategoryLabel: "Database",
		Message:       "create entity User",
		IPAddress:     &ip,
		Data:          map[string]any{"a": 1, "b": []int{1, 2, 3}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "audit_records"`)).
		WithArgs(CategoryDatabase, "Database", "create entity User", "10.0.0.1", nil, `{"a":1,"b":[1,2,3]}`, now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, store.Save(context.Background(), record))
	assert.Equal(t, int64(42), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveNormalizesDataKeyOrder(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	decoder := json.NewDecoder(strings.NewReader(`{"zeta":{"y":2,"x":1},"alpha":1.50,"big":12345678901234567890}`))
	decoder.UseNumber()
	var data map[string]any
	require.NoError(t, decoder.Decode(&data))

	// keys come out sorted, number literals are kept as written
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "audit_records"`)).
		WithArgs(CategoryDatabase, "", "m", nil, nil, `{"alpha":1.50,"big":12345678901234567890,"zeta":{"x":1,"y":2}}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	require.NoError(t, store.Save(context.Background(), &Record{Category: CategoryDatabase, Message: "m", Data: data}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveNilData(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "audit_records"`)).
		WithArgs(CategoryException, "", "boom", nil, "alice", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	user := "alice"
	require.NoError(t, store.Save(context.Background(), &Record{Category: CategoryException, Message: "boom", UserIdentifier: &user}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveTargetTable(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{Schema: ""})

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "invoice_audit"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "invoice_audit"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	// the table is only ensured once
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "invoice_audit"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

	first := &invoiceRecord{}
	require.NoError(t, store.Save(context.Background(), first))
	second := &invoiceRecord{}
	require.NoError(t, store.Save(context.Background(), second))

	assert.Equal(t, int64(7), first.ID)
	assert.Equal(t, int64(8), second.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveFailure(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	mock.ExpectQuery("INSERT INTO").WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), &Record{Category: CategoryDatabase})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSQLStore_List(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{Schema: "audit"})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "audit"."audit_records" WHERE 1=1 AND category = ANY($1) AND message ILIKE $2`)).
		WithArgs(sqlmock.AnyArg(), "%entity%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(31))

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`)).
		WithArgs(sqlmock.AnyArg(), "%entity%", 10, 10).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(int64(12), CategoryDatabase, "Database", "create entity User", "10.0.0.1", nil, []byte(`{"id":7}`), now, now).
			AddRow(int64(11), CategoryDatabase, nil, "remove entity User", nil, "bob", nil, now, now))

	page, err := store.List(context.Background(), Filter{
		Categories: []string{CategoryDatabase},
		Message:    "entity",
		Page:       2,
		PerPage:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(31), page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, int64(12), first.ID)
	assert.Equal(t, "Database", first.CategoryLabel)
	assert.Equal(t, "10.0.0.1", *first.IPAddress)
	assert.Nil(t, first.UserIdentifier)
	assert.Equal(t, json.Number("7"), first.Data["id"])

	second := page.Items[1]
	assert.Empty(t, second.CategoryLabel)
	assert.Nil(t, second.IPAddress)
	assert.Equal(t, "bob", *second.UserIdentifier)
	assert.Nil(t, second.Data)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListDataContainsAndSort(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	mock.ExpectQuery(regexp.QuoteMeta(`AND data::jsonb @> $1::jsonb`)).
		WithArgs(`{"tags":[2]}`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id ASC, id ASC LIMIT $2 OFFSET $3`)).
		WithArgs(`{"tags":[2]}`, DefaultPerPage, 0).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))

	page, err := store.List(context.Background(), Filter{
		DataContains: map[string]any{"tags": []any{2}},
		SortBy:       SortByID,
		SortOrder:    "asc",
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListRejectsUnknownSortColumn(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC`)).WillReturnRows(sqlmock.NewRows(recordColumnNames))

	_, err := store.List(context.Background(), Filter{SortBy: "message; DROP TABLE audit_records"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_TableReadsTargetTable(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{Schema: "audit"})
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "audit"."invoice_audit"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "audit"."invoice_audit"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	require.NoError(t, store.Save(context.Background(), &invoiceRecord{}))

	invoices := store.Table("invoice_audit")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "audit"."invoice_audit" WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(int64(3), CategoryDatabase, "Database", "invoice paid", nil, nil, nil, now, now))

	record, err := invoices.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "invoice paid", record.Message)

	// the original store keeps reading its own table
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "audit"."audit_records" WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))
	_, err = store.Get(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Same(t, store.db, store.Table("").db)
	assert.Equal(t, DefaultTable, store.Table("").table)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(int64(5), CategoryAuthentication, "Authentication", "login", nil, "alice", nil, now, now))

	record, err := store.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "login", record.Message)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))

	_, err = store.Get(context.Background(), 6)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetCorruptData(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(int64(5), CategoryDatabase, nil, "m", nil, nil, []byte(`{not json`), now, now))

	_, err := store.Get(context.Background(), 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_Stats(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COUNT(DISTINCT ip_address), MIN(created_at), MAX(created_at)`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "ips", "min", "max"}).AddRow(3, 2, first, last))
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY category`)).
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).
			AddRow(CategoryDatabase, 2).
			AddRow(CategoryException, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`AND user_identifier IS NOT NULL GROUP BY user_identifier`)).
		WillReturnRows(sqlmock.NewRows([]string{"user_identifier", "count"}).AddRow("alice", 3))

	stats, err := store.Stats(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.UniqueIPs)
	assert.Equal(t, map[string]int64{CategoryDatabase: 2, CategoryException: 1}, stats.ByCategory)
	assert.Equal(t, map[string]int64{"alice": 3}, stats.ByUser)
	require.NotNil(t, stats.First)
	assert.True(t, first.Equal(*stats.First))
	assert.True(t, last.Equal(*stats.Last))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_StatsEmpty(t *testing.T) {
	store, mock := newMockSQLStore(t, SQLStoreConfig{})

	mock.ExpectQuery("MIN\\(created_at\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count", "ips", "min", "max"}).AddRow(0, 0, nil, nil))
	mock.ExpectQuery("GROUP BY category").WillReturnRows(sqlmock.NewRows([]string{"category", "count"}))
	mock.ExpectQuery("GROUP BY user_identifier").WillReturnRows(sqlmock.NewRows([]string{"user_identifier", "count"}))

	stats, err := store.Stats(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Nil(t, stats.First)
	assert.Nil(t, stats.Last)
	assert.Empty(t, stats.ByCategory)
}

func TestSQLStore_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewSQLStore(db, SQLStoreConfig{})
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("gone"))
	assert.Error(t, store.Ping(context.Background()))
}
