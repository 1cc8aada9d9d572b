// Package memory implements store.Model over in-process slices of records.
// It follows document-store semantics closely enough to stand in for a
// real database in tests and local development: dotted field paths, array
// fields matching any element, missing values sorting first.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/edgeflare/advres/pkg/store"
)

// DB holds named collections so that populate can resolve relations.
type DB struct {
	collections map[string]*Model
	sync.RWMutex
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{collections: make(map[string]*Model)}
}

// Option configures a Model.
type Option func(*Model)

// WithIDField sets the identifier field kept by projections. Default "_id".
func WithIDField(field string) Option {
	return func(m *Model) { m.idField = field }
}

// WithRelations declares relations available to Populate.
func WithRelations(rels ...store.Relation) Option {
	return func(m *Model) {
		for _, r := range rels {
			m.relations[r.Path] = r
		}
	}
}

// Collection returns the named collection, creating it on first use.
// Options are applied on every call.
func (db *DB) Collection(name string, opts ...Option) *Model {
	db.Lock()
	defer db.Unlock()
	m, ok := db.collections[name]
	if !ok {
		m = &Model{
			db:        db,
			name:      name,
			idField:   "_id",
			relations: make(map[string]store.Relation),
		}
		db.collections[name] = m
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (db *DB) lookupCollection(name string) (*Model, bool) {
	db.RLock()
	defer db.RUnlock()
	m, ok := db.collections[name]
	return m, ok
}

// Model is an in-memory collection. It is safe for concurrent use.
type Model struct {
	db        *DB
	name      string
	idField   string
	relations map[string]store.Relation
	records   []store.Record
	mu        sync.RWMutex
}

var _ store.Model = (*Model)(nil)

// Insert appends copies of recs to the collection.
func (m *Model) Insert(recs ...store.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.records = append(m.records, maps.Clone(r))
	}
}

// Name returns the collection name.
func (m *Model) Name() string {
	return m.name
}

// Find implements store.Model.
func (m *Model) Find(filter store.Filter) store.Query {
	return &query{model: m, filter: filter}
}

// CountDocuments implements store.Model.
func (m *Model) CountDocuments(ctx context.Context, filter store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return int64(len(m.records)), nil
	}
	recs, err := m.match(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// match returns shallow copies of every record matching filter.
func (m *Model) match(filter store.Filter) ([]store.Record, error) {
	conds, err := filter.Conditions()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]store.Record, 0, len(m.records))
	for _, rec := range m.records {
		if matchesAll(rec, conds) {
			out = append(out, maps.Clone(rec))
		}
	}
	return out, nil
}

func (m *Model) relation(path string) (store.Relation, error) {
	r, ok := m.relations[path]
	if !ok {
		return store.Relation{}, fmt.Errorf("%w: %s.%s", store.ErrUnknownRelation, m.name, path)
	}
	return r, nil
}
