// Package store defines the data-access contract consumed by the advanced
// results translator, together with the filter vocabulary shared by every
// backend (memory, mongo, postgres).
//
// A Model is a handle on one collection or table. Find returns a chainable
// Query, mirroring the find/select/sort/skip/limit/populate style of
// document-store drivers:
//
//	recs, err := model.Find(store.Filter{"price": store.Filter{"$gt": "100"}}).
//		Select("name", "price").
//		Sort(store.ParseSort("-price")...).
//		Skip(0).
//		Limit(25).
//		Exec(ctx)
package store

import (
	"context"
	"errors"
	"strings"
)

// Record is a single document or row returned by a Query.
type Record = map[string]any

// Filter maps a field name to a literal value (string or []string) or to a
// nested Filter holding comparison operators or sub-document keys.
type Filter map[string]any

// Comparison operators understood by every backend.
const (
	OpEq  = "$eq"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpLt  = "$lt"
	OpLte = "$lte"
	OpIn  = "$in"
)

// operators maps the bare keyword accepted from clients to its prefixed form.
var operators = map[string]string{
	"gt":  OpGt,
	"gte": OpGte,
	"lt":  OpLt,
	"lte": OpLte,
	"in":  OpIn,
}

// PrefixedOperator returns the prefixed operator for a bare keyword such as
// "gt". ok is false for keywords outside the fixed set.
func PrefixedOperator(keyword string) (op string, ok bool) {
	op, ok = operators[keyword]
	return op, ok
}

// IsOperator reports whether key is a prefixed comparison operator.
func IsOperator(key string) bool {
	switch key {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	}
	return false
}

var (
	ErrNotFound        = errors.New("store: resource not found")
	ErrDuplicate       = errors.New("store: duplicate key")
	ErrInvalidField    = errors.New("store: invalid field")
	ErrUnknownRelation = errors.New("store: unknown relation")
)

// SortField orders results by Field, descending when Desc is set.
type SortField struct {
	Field string
	Desc  bool
}

// String renders the field in "-field" / "field" form.
func (s SortField) String() string {
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}

// ParseSort converts "-price", "name" style directives into SortFields.
// Blank entries are skipped.
func ParseSort(fields ...string) []SortField {
	out := make([]SortField, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "-" || f == "+" {
			continue
		}
		switch f[0] {
		case '-':
			out = append(out, SortField{Field: f[1:], Desc: true})
		case '+':
			out = append(out, SortField{Field: f[1:]})
		default:
			out = append(out, SortField{Field: f})
		}
	}
	return out
}

// Populate asks a Query to replace the reference stored at Path with the
// related record(s). Select optionally restricts the related fields.
type Populate struct {
	Path   string   `mapstructure:"path"`
	Select []string `mapstructure:"select"`
}

// Relation declares how Path on a model resolves to records of another
// collection or table. With Many set, every related record whose
// ForeignField equals the local value is attached as a list (a reverse or
// virtual reference); otherwise the first match replaces the value.
type Relation struct {
	Path         string `mapstructure:"path"`
	From         string `mapstructure:"from"`
	LocalField   string `mapstructure:"localField"`
	ForeignField string `mapstructure:"foreignField"`
	Many         bool   `mapstructure:"many"`
}

// Model is a data-access handle on one collection or table.
type Model interface {
	// Find starts a query restricted by filter. A nil filter matches everything.
	Find(filter Filter) Query
	// CountDocuments counts records matching filter; nil counts the whole collection.
	CountDocuments(ctx context.Context, filter Filter) (int64, error)
}

// FieldChecker is implemented by models with a fixed set of fields, such as
// SQL tables.
type FieldChecker interface {
	HasField(name string) bool
}

// Query is a composable, lazily executed read. Builder methods return the
// receiver (or a copy) so calls can be chained.
type Query interface {
	Select(fields ...string) Query
	Sort(fields ...SortField) Query
	Skip(n int64) Query
	Limit(n int64) Query
	Populate(p ...Populate) Query
	Exec(ctx context.Context) ([]Record, error)
}
