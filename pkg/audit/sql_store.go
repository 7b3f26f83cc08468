package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// DefaultTable is the table audit records are stored in
const DefaultTable = "audit_records"

// SQLStoreConfig configures a SQLStore
type SQLStoreConfig struct {
	Schema string
	Table  string
}

// SQLStore stores audit records in PostgreSQL. Every Save is a single
// INSERT, committed on its own connection.
type SQLStore struct {
	db     *sql.DB
	schema string
	table  string

	mu      sync.Mutex
	ensured map[string]bool
}

// NewSQLStore creates a store and ensures its table exists
func NewSQLStore(db *sql.DB, cfg SQLStoreConfig) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	s := &SQLStore{
		db:      db,
		schema:  cfg.Schema,
		table:   cfg.Table,
		ensured: make(map[string]bool),
	}

	if err := s.ensureTable(context.Background(), cfg.Table); err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", cfg.Table, err)
	}

	return s, nil
}

// Table returns a store over another table in the same schema. List, Get
// and Stats only read the store's own table, so records saved through a
// TableNamer are read back through Table(name).
func (s *SQLStore) Table(name string) *SQLStore {
	if name == "" {
		name = s.table
	}
	return &SQLStore{
		db:      s.db,
		schema:  s.schema,
		table:   name,
		ensured: make(map[string]bool),
	}
}

func (s *SQLStore) qualified(table string) string {
	if s.schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(table)
}

// ensureTable creates the table and its indexes if they don't exist
func (s *SQLStore) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[table] {
		return nil
	}

	var b strings.Builder
	if s.schema != "" {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", pq.QuoteIdentifier(s.schema))
	}
	name := s.qualified(table)
	fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		category VARCHAR(255) NOT NULL,
		category_label VARCHAR(255),
		message TEXT NOT NULL,
		ip_address VARCHAR(255),
		user_identifier VARCHAR(255),
		data JSON,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
`, name)

	for _, col := range []string{"category", "message", "ip_address", "user_identifier", "created_at", "updated_at"} {
		index := pq.QuoteIdentifier(fmt.Sprintf("idx_%s_%s", table, col))
		column := col
		if col == "message" {
			// btree index entries are size-limited
			column = "md5(message)"
		}
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s (%s);\n", index, name, column)
	}

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return err
	}
	s.ensured[table] = true
	return nil
}

func (s *SQLStore) tableFor(ctx context.Context, entity RecordEntity) (string, error) {
	table := s.table
	if namer, ok := entity.(TableNamer); ok && namer.TableName() != "" {
		table = namer.TableName()
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return "", fmt.Errorf("failed to ensure %s table: %w", table, err)
	}
	return s.qualified(table), nil
}

// Save inserts the record and sets its ID
func (s *SQLStore) Save(ctx context.Context, entity RecordEntity) error {
	record := entity.AuditRecord()

	table, err := s.tableFor(ctx, entity)
	if err != nil {
		return err
	}

	var data interface{}
	if record.Data != nil {
		encoded, err := json.Marshal(record.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal audit data: %w", err)
		}
		data = string(encoded)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			category, category_label, message,
			ip_address, user_identifier, data,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, table)

	err = s.db.QueryRowContext(ctx, query,
		record.Category, record.CategoryLabel, record.Message,
		nullString(record.IPAddress), nullString(record.UserIdentifier), data,
		record.CreatedAt, record.UpdatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

const recordColumns = `id, category, category_label, message, ip_address, user_identifier, data, created_at, updated_at`

// List returns one page of records matching filter
func (s *SQLStore) List(ctx context.Context, filter Filter) (*Page, error) {
	filter = filter.Normalized()
	where, args := buildWhere(filter)
	table := s.qualified(s.table)

	var total int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit records: %w", err)
	}

	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		recordColumns, table, where, filter.SortBy, order, order, len(args)+1, len(args)+2)
	args = append(args, filter.PerPage, filter.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	items := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return &Page{Items: items, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}

// Get returns the record with id, or ErrNotFound
func (s *SQLStore) Get(ctx context.Context, id int64) (*Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", recordColumns, s.qualified(s.table))

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Stats summarizes records matching filter; pagination is ignored
func (s *SQLStore) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	where, args := buildWhere(filter)
	table := s.qualified(s.table)

	stats := &Stats{
		ByCategory: make(map[string]int64),
		ByUser:     make(map[string]int64),
	}

	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT ip_address), MIN(created_at), MAX(created_at) FROM %s %s", table, where),
		args...,
	).Scan(&stats.Total, &stats.UniqueIPs, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}
	if first.Valid {
		stats.First = &first.Time
	}
	if last.Valid {
		stats.Last = &last.Time
	}

	if err := s.countBy(ctx, fmt.Sprintf("SELECT category, COUNT(*) FROM %s %s GROUP BY category", table, where), args, stats.ByCategory); err != nil {
		return nil, fmt.Errorf("failed to get records by category: %w", err)
	}

	if err := s.countBy(ctx, fmt.Sprintf("SELECT user_identifier, COUNT(*) FROM %s %s AND user_identifier IS NOT NULL GROUP BY user_identifier", table, where), args, stats.ByUser); err != nil {
		return nil, fmt.Errorf("failed to get records by user: %w", err)
	}

	return stats, nil
}

func (s *SQLStore) countBy(ctx context.Context, query string, args []interface{}, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// buildWhere renders filter as a WHERE clause with positional arguments
func buildWhere(filter Filter) (string, []interface{}) {
	where := "WHERE 1=1"
	args := []interface{}{}
	next := func(v interface{}) int {
		args = append(args, v)
		return len(args)
	}

	if len(filter.Categories) > 0 {
		where += fmt.Sprintf(" AND category = ANY($%d)", next(pq.Array(filter.Categories)))
	}
	if filter.Message != "" {
		where += fmt.Sprintf(" AND message ILIKE $%d", next("%"+filter.Message+"%"))
	}
	if filter.IPAddress != "" {
		where += fmt.Sprintf(" AND ip_address = $%d", next(filter.IPAddress))
	}
	if filter.UserIdentifier != "" {
		where += fmt.Sprintf(" AND user_identifier = $%d", next(filter.UserIdentifier))
	}
	if filter.CreatedAfter != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", next(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		where += fmt.Sprintf(" AND created_at < $%d", next(*filter.CreatedBefore))
	}
	if filter.UpdatedAfter != nil {
		where += fmt.Sprintf(" AND updated_at >= $%d", next(*filter.UpdatedAfter))
	}
	if filter.UpdatedBefore != nil {
		where += fmt.Sprintf(" AND updated_at < $%d", next(*filter.UpdatedBefore))
	}
	if filter.Search != "" {
		n := next("%" + filter.Search + "%")
		where += fmt.Sprintf(" AND (category ILIKE $%[1]d OR category_label ILIKE $%[1]d OR message ILIKE $%[1]d OR ip_address ILIKE $%[1]d OR user_identifier ILIKE $%[1]d)", n)
	}
	if len(filter.DataContains) > 0 {
		if doc, err := json.Marshal(filter.DataContains); err == nil {
			where += fmt.Sprintf(" AND data::jsonb @> $%d::jsonb", next(string(doc)))
		}
	}

	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record          Record
		label, ip, user sql.NullString
		data            []byte
	)

	err := row.Scan(
		&record.ID, &record.Category, &label, &record.Message,
		&ip, &user, &data,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	record.CategoryLabel = label.String
	if ip.Valid {
		record.IPAddress = &ip.String
	}
	if user.Valid {
		record.UserIdentifier = &user.String
	}
	if record.Data, err = decodeData(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit data: %w", err)
	}

	return &record, nil
}

// decodeData decodes a stored payload keeping numbers as json.Number
func decodeData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Ping checks the underlying connection
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
