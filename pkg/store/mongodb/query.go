package mongodb

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/edgeflare/advres/pkg/store"
)

type query struct {
	model    *Model
	filter   store.Filter
	fields   []string
	sort     []store.SortField
	skip     int64
	limit    int64
	populate []store.Populate
}

func (q *query) Select(fields ...string) store.Query {
	q.fields = append(q.fields, fields...)
	return q
}

func (q *query) Sort(fields ...store.SortField) store.Query {
	q.sort = append(q.sort, fields...)
	return q
}

func (q *query) Skip(n int64) store.Query {
	q.skip = n
	return q
}

func (q *query) Limit(n int64) store.Query {
	q.limit = n
	return q
}

func (q *query) Populate(p ...store.Populate) store.Query {
	q.populate = append(q.populate, p...)
	return q
}

func (q *query) Exec(ctx context.Context) ([]store.Record, error) {
	if q.skip < 0 || q.limit < 0 {
		return nil, fmt.Errorf("%w: negative skip or limit", store.ErrInvalidField)
	}

	filter, err := q.model.buildFilter(q.filter)
	if err != nil {
		return nil, err
	}
	proj, err := store.ParseProjection(q.model.idField, q.fields...)
	if err != nil {
		return nil, err
	}

	var locals, keep []string
	for _, p := range q.populate {
		rel, err := q.model.relation(p.Path)
		if err != nil {
			return nil, err
		}
		locals = append(locals, rel.LocalField)
		keep = append(keep, p.Path)
	}

	opts := options.Find()
	if !proj.Empty() {
		opts.SetProjection(projectionDoc(proj, locals...))
	}
	if len(q.sort) > 0 {
		opts.SetSort(sortDoc(q.sort))
	}
	if q.skip > 0 {
		opts.SetSkip(q.skip)
	}
	if q.limit > 0 {
		opts.SetLimit(q.limit)
	}

	cur, err := q.model.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapError(err)
	}
	recs, err := decodeAll(ctx, cur)
	if err != nil {
		return nil, err
	}

	for _, p := range q.populate {
		if err := q.model.populate(ctx, recs, p); err != nil {
			return nil, err
		}
	}
	for i, rec := range recs {
		recs[i] = proj.Apply(rec, q.model.idField, keep...)
	}
	return recs, nil
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]store.Record, error) {
	defer cur.Close(ctx)

	recs := []store.Record{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		recs = append(recs, normalize(doc).(store.Record))
	}
	if err := cur.Err(); err != nil {
		return nil, mapError(err)
	}
	return recs, nil
}

// normalize converts driver document and array types into plain maps and
// slices. Object IDs are kept; they marshal to their hex form.
func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		rec := make(store.Record, len(val))
		for k, x := range val {
			rec[k] = normalize(x)
		}
		return rec
	case bson.D:
		rec := make(store.Record, len(val))
		for _, e := range val {
			rec[e.Key] = normalize(e.Value)
		}
		return rec
	case bson.A:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = normalize(x)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	}
	return v
}

// buildFilter renders f as a query document. Nested sub-document keys become
// dotted paths so {"location": {"state": "MA"}} matches location.state.
func (m *Model) buildFilter(f store.Filter) (bson.M, error) {
	conds, err := f.Conditions()
	if err != nil {
		return nil, err
	}

	out := bson.M{}
	for _, c := range conds {
		path := c.Field
		if len(c.Path) > 0 {
			path += "." + strings.Join(c.Path, ".")
		}
		op, val := c.Op, c.Value
		if path == m.idField {
			op, val = idCondition(op, val)
		}

		ops, ok := out[path].(bson.M)
		if !ok {
			ops = bson.M{}
			out[path] = ops
		}
		ops[op] = val
	}
	return out, nil
}

// idCondition lets hex strings match both ObjectID and string identifiers.
func idCondition(op string, v any) (string, any) {
	switch op {
	case store.OpEq:
		if s, ok := v.(string); ok {
			if oid, err := primitive.ObjectIDFromHex(s); err == nil {
				return store.OpIn, bson.A{oid, s}
			}
		}
	case store.OpIn:
		list, _ := v.([]any)
		out := slices.Clone(list)
		for _, item := range list {
			if s, ok := item.(string); ok {
				if oid, err := primitive.ObjectIDFromHex(s); err == nil {
					out = append(out, oid)
				}
			}
		}
		return op, out
	}
	return op, v
}

func sortDoc(fields []store.SortField) bson.D {
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: f.Field, Value: dir})
	}
	return doc
}

// projectionDoc renders p; extra fields are always fetched because populate
// reads them.
func projectionDoc(p store.Projection, extra ...string) bson.D {
	var doc bson.D
	if len(p.Include) > 0 {
		for _, f := range append(slices.Clone(p.Include), extra...) {
			doc = append(doc, bson.E{Key: f, Value: 1})
		}
		for _, f := range p.Exclude {
			doc = append(doc, bson.E{Key: f, Value: 0})
		}
		return doc
	}
	for _, f := range p.Exclude {
		if slices.Contains(extra, f) {
			continue
		}
		doc = append(doc, bson.E{Key: f, Value: 0})
	}
	return doc
}

func (m *Model) relation(path string) (store.Relation, error) {
	r, ok := m.relations[path]
	if !ok {
		return store.Relation{}, fmt.Errorf("%w: %s.%s", store.ErrUnknownRelation, m.coll.Name(), path)
	}
	return r, nil
}

// populate resolves p for every record with one $in query on the related
// collection.
func (m *Model) populate(ctx context.Context, recs []store.Record, p store.Populate) error {
	rel, err := m.relation(p.Path)
	if err != nil {
		return err
	}

	var refs []any
	seen := make(map[string]bool)
	for _, rec := range recs {
		for _, v := range refList(rec[rel.LocalField]) {
			if k := refKey(v); !seen[k] {
				seen[k] = true
				refs = append(refs, v)
			}
		}
	}

	byRef := make(map[string][]store.Record)
	if len(refs) > 0 {
		proj, err := store.ParseProjection("_id", p.Select...)
		if err != nil {
			return err
		}
		opts := options.Find()
		if !proj.Empty() {
			opts.SetProjection(projectionDoc(proj, rel.ForeignField))
		}

		from := m.coll.Database().Collection(rel.From)
		cur, err := from.Find(ctx, bson.M{rel.ForeignField: bson.M{store.OpIn: refs}}, opts)
		if err != nil {
			return mapError(err)
		}
		related, err := decodeAll(ctx, cur)
		if err != nil {
			return err
		}
		for _, r := range related {
			for _, v := range refList(r[rel.ForeignField]) {
				k := refKey(v)
				byRef[k] = append(byRef[k], proj.Apply(r, "_id"))
			}
		}
	}

	for _, rec := range recs {
		local, present := rec[rel.LocalField]
		var matched []store.Record
		for _, v := range refList(local) {
			matched = append(matched, byRef[refKey(v)]...)
		}

		_, isList := local.([]any)
		switch {
		case rel.Many || isList:
			if matched == nil {
				matched = []store.Record{}
			}
			rec[rel.Path] = matched
		case len(matched) > 0:
			rec[rel.Path] = matched[0]
		case present:
			rec[rel.Path] = nil
		}
	}
	return nil
}

func refList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	}
	return []any{v}
}

func refKey(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(v)
}
