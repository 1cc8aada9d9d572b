package memory

import (
	"context"
	"fmt"
	"sort"

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
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.skip < 0 || q.limit < 0 {
		return nil, fmt.Errorf("%w: negative skip or limit", store.ErrInvalidField)
	}

	proj, err := store.ParseProjection(q.model.idField, q.fields...)
	if err != nil {
		return nil, err
	}

	recs, err := q.model.match(q.filter)
	if err != nil {
		return nil, err
	}

	if len(q.sort) > 0 {
		sort.SliceStable(recs, func(i, j int) bool {
			return less(recs[i], recs[j], q.sort)
		})
	}

	recs = window(recs, q.skip, q.limit)

	var keep []string
	for _, p := range q.populate {
		if err := q.model.populate(ctx, recs, p); err != nil {
			return nil, err
		}
		keep = append(keep, p.Path)
	}

	for i, rec := range recs {
		recs[i] = proj.Apply(rec, q.model.idField, keep...)
	}
	return recs, nil
}

func window(recs []store.Record, skip, limit int64) []store.Record {
	if skip >= int64(len(recs)) {
		return []store.Record{}
	}
	recs = recs[skip:]
	if limit > 0 && limit < int64(len(recs)) {
		recs = recs[:limit]
	}
	return recs
}

func less(a, b store.Record, fields []store.SortField) bool {
	for _, f := range fields {
		av, _ := lookup(a, f.Field)
		bv, _ := lookup(b, f.Field)
		c := compareForSort(av, bv)
		if c == 0 {
			continue
		}
		if f.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

// populate replaces p.Path on every record with the related record(s).
func (m *Model) populate(ctx context.Context, recs []store.Record, p store.Populate) error {
	rel, err := m.relation(p.Path)
	if err != nil {
		return err
	}
	from, ok := m.db.lookupCollection(rel.From)
	if !ok {
		return fmt.Errorf("%w: collection %q", store.ErrUnknownRelation, rel.From)
	}

	for _, rec := range recs {
		local, _ := lookup(rec, rel.LocalField)
		if local == nil {
			if rel.Many {
				rec[rel.Path] = []store.Record{}
			}
			continue
		}

		related, err := from.Find(store.Filter{rel.ForeignField: inOperand(local)}).
			Select(p.Select...).
			Exec(ctx)
		if err != nil {
			return err
		}

		switch {
		case rel.Many:
			rec[rel.Path] = related
		case len(related) > 0:
			if _, isList := local.([]any); isList {
				rec[rel.Path] = related
			} else {
				rec[rel.Path] = related[0]
			}
		default:
			rec[rel.Path] = nil
		}
	}
	return nil
}

// inOperand builds an $in filter matching local (a scalar or a list of
// references) without string coercion of typed values.
func inOperand(local any) store.Filter {
	if list, ok := local.([]any); ok {
		return store.Filter{store.OpIn: list}
	}
	return store.Filter{store.OpIn: []any{local}}
}
