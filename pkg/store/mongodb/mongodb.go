// Package mongodb implements store.Model over MongoDB collections.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/edgeflare/advres/pkg/store"
)

// DB is a connected MongoDB database.
type DB struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect dials uri, pings the primary and selects database dbName.
func Connect(ctx context.Context, uri, dbName string) (*DB, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &DB{client: client, database: client.Database(dbName)}, nil
}

// Database returns the underlying database handle.
func (d *DB) Database() *mongo.Database {
	return d.database
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Collection returns a model over the named collection.
func (d *DB) Collection(name string, opts ...Option) *Model {
	return NewModel(d.database.Collection(name), opts...)
}

// Option configures a Model.
type Option func(*Model)

// WithIDField sets the identifier field. Default "_id".
func WithIDField(field string) Option {
	return func(m *Model) { m.idField = field }
}

// WithRelations declares relations available to Populate. Relation.From
// names a collection in the same database.
func WithRelations(rels ...store.Relation) Option {
	return func(m *Model) {
		for _, r := range rels {
			m.relations[r.Path] = r
		}
	}
}

// Model is a MongoDB collection.
type Model struct {
	coll      *mongo.Collection
	idField   string
	relations map[string]store.Relation
}

var _ store.Model = (*Model)(nil)

// NewModel wraps coll.
func NewModel(coll *mongo.Collection, opts ...Option) *Model {
	m := &Model{
		coll:      coll,
		idField:   "_id",
		relations: make(map[string]store.Relation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Find implements store.Model.
func (m *Model) Find(filter store.Filter) store.Query {
	return &query{model: m, filter: filter}
}

// CountDocuments implements store.Model. An empty filter uses the collection
// metadata count.
func (m *Model) CountDocuments(ctx context.Context, filter store.Filter) (int64, error) {
	if len(filter) == 0 {
		n, err := m.coll.EstimatedDocumentCount(ctx)
		return n, mapError(err)
	}
	doc, err := m.buildFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := m.coll.CountDocuments(ctx, doc)
	return n, mapError(err)
}

// Insert stores recs. Duplicate identifiers fail with store.ErrDuplicate.
func (m *Model) Insert(ctx context.Context, recs ...store.Record) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]any, len(recs))
	for i, r := range recs {
		docs[i] = bson.M(r)
	}
	_, err := m.coll.InsertMany(ctx, docs)
	return mapError(err)
}

// mapError translates driver errors to store errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == codeBadValue {
		return fmt.Errorf("%w: %s", store.ErrInvalidField, ce.Message)
	}
	return err
}

// codeBadValue is returned for malformed query documents, e.g. an unknown operator.
const codeBadValue = 2
