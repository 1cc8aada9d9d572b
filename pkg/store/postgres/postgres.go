// Package postgres implements store.Model over PostgreSQL tables and views.
//
// Column metadata is read from information_schema when a model is created;
// filters, projections and sorts naming unknown columns fail with
// store.ErrInvalidField instead of reaching the database. Sub-document
// filters ({"location": {"state": "MA"}} or location.state=MA) are
// evaluated on json/jsonb columns with the #>> operator, and equality on
// array columns matches any element.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edgeflare/advres/pkg/store"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Connect creates a pool for connString and verifies it with a ping.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}
	return pool, nil
}

// Column describes one table column.
type Column struct {
	Name         string
	DataType     string // information_schema data_type, e.g. "integer", "ARRAY", "jsonb"
	UDTName      string // element type for arrays, e.g. "_text"
	IsPrimaryKey bool
}

func (c Column) isJSON() bool {
	return c.DataType == "json" || c.DataType == "jsonb"
}

func (c Column) isArray() bool {
	return c.DataType == "ARRAY"
}

// isText reports whether values for the column (or its elements) are sent
// as strings.
func (c Column) isText() bool {
	switch c.DataType {
	case "text", "character varying", "character", "uuid", "citext":
		return true
	case "ARRAY":
		switch c.UDTName {
		case "_text", "_varchar", "_bpchar", "_uuid", "_citext":
			return true
		}
	}
	return false
}

// Table is the metadata of a table or view.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

func (t Table) column(name string) (Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	if i == -1 {
		return Column{}, false
	}
	return t.Columns[i], true
}

func (t Table) primaryKey() string {
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			return c.Name
		}
	}
	return ""
}

func (t Table) ident() string {
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

// LoadTable reads the column metadata of schema.name.
func LoadTable(ctx context.Context, conn Querier, schema, name string) (Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, name)
	if err != nil {
		return Table{}, fmt.Errorf("query columns %s.%s: %w", schema, name, err)
	}
	defer rows.Close()

	t := Table{Schema: schema, Name: name}
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.UDTName, &col.IsPrimaryKey); err != nil {
			return Table{}, err
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}
	if len(t.Columns) == 0 {
		return Table{}, fmt.Errorf("table %s.%s: %w", schema, name, store.ErrNotFound)
	}
	return t, nil
}

// DB resolves models by table name within one schema.
type DB struct {
	conn   Querier
	schema string
	models map[string]*Model
	mu     sync.Mutex
}

// NewDB returns a DB over conn. An empty schema means "public".
func NewDB(conn Querier, schema string) *DB {
	if schema == "" {
		schema = "public"
	}
	return &DB{conn: conn, schema: schema, models: make(map[string]*Model)}
}

// Option configures a Model.
type Option func(*Model)

// WithIDField sets the identifier column kept by projections. Default: the
// primary key, else "id".
func WithIDField(field string) Option {
	return func(m *Model) { m.idField = field }
}

// WithRelations declares relations available to Populate. Relation.From
// names a table in the same schema.
func WithRelations(rels ...store.Relation) Option {
	return func(m *Model) {
		for _, r := range rels {
			m.relations[r.Path] = r
		}
	}
}

// Model returns the model for table, loading its metadata on first use.
// Options are applied on every call.
func (db *DB) Model(ctx context.Context, table string, opts ...Option) (*Model, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.models[table]
	if !ok {
		t, err := LoadTable(ctx, db.conn, db.schema, table)
		if err != nil {
			return nil, err
		}
		m = NewModel(db, t)
		db.models[table] = m
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Model is a PostgreSQL table.
type Model struct {
	db        *DB
	table     atomic.Pointer[Table]
	idField   string
	relations map[string]store.Relation
}

var _ store.Model = (*Model)(nil)

// NewModel returns a model over table t. Most callers use DB.Model.
func NewModel(db *DB, t Table, opts ...Option) *Model {
	m := &Model{
		db:        db,
		idField:   t.primaryKey(),
		relations: make(map[string]store.Relation),
	}
	m.table.Store(&t)
	if m.idField == "" {
		m.idField = "id"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Table returns the model's table metadata.
func (m *Model) Table() Table {
	return *m.table.Load()
}

// HasField reports whether the table has a column called name.
func (m *Model) HasField(name string) bool {
	_, ok := m.Table().column(name)
	return ok
}

// Find implements store.Model.
func (m *Model) Find(filter store.Filter) store.Query {
	return &query{model: m, filter: filter}
}

// CountDocuments implements store.Model.
func (m *Model) CountDocuments(ctx context.Context, filter store.Filter) (int64, error) {
	sql, args, err := m.countSQL(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := m.db.conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (m *Model) countSQL(filter store.Filter) (string, []any, error) {
	where, err := m.where(filter)
	if err != nil {
		return "", nil, err
	}
	b := psql.Select("COUNT(*)").From(m.Table().ident())
	if len(where) > 0 {
		b = b.Where(where)
	}
	return b.ToSql()
}

// mapError translates PostgreSQL errors to store errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.Detail)
		case "22P02", "22007", "22008", "42703", "42883": // bad input syntax, bad datetime, undefined column/function
			return fmt.Errorf("%w: %s", store.ErrInvalidField, pgErr.Message)
		}
	}
	return err
}
