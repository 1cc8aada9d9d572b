package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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

// plan holds a rendered SELECT plus what Exec needs after the rows are read.
type plan struct {
	sql  string
	args []any
	proj store.Projection
	keep []string
}

func (q *query) build() (plan, error) {
	m := q.model
	if q.skip < 0 || q.limit < 0 {
		return plan{}, fmt.Errorf("%w: negative skip or limit", store.ErrInvalidField)
	}
	where, err := m.where(q.filter)
	if err != nil {
		return plan{}, err
	}
	proj, err := store.ParseProjection(m.idField, q.fields...)
	if err != nil {
		return plan{}, err
	}

	var locals, keep []string
	for _, p := range q.populate {
		rel, err := m.relation(p.Path)
		if err != nil {
			return plan{}, err
		}
		locals = append(locals, rel.LocalField)
		keep = append(keep, p.Path)
	}
	cols, err := m.columns(proj, locals...)
	if err != nil {
		return plan{}, err
	}
	orderBy, err := m.orderBy(q.sort)
	if err != nil {
		return plan{}, err
	}

	b := psql.Select(cols...).From(m.Table().ident()).OrderBy(orderBy...)
	if len(where) > 0 {
		b = b.Where(where)
	}
	if q.limit > 0 {
		b = b.Limit(uint64(q.limit))
	}
	if q.skip > 0 {
		b = b.Offset(uint64(q.skip))
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return plan{}, err
	}
	return plan{sql: sql, args: args, proj: proj, keep: keep}, nil
}

func (q *query) Exec(ctx context.Context) ([]store.Record, error) {
	p, err := q.build()
	if err != nil {
		return nil, err
	}
	recs, err := q.model.queryRecords(ctx, p.sql, p.args...)
	if err != nil {
		return nil, err
	}
	for _, pop := range q.populate {
		if err := q.model.populate(ctx, recs, pop); err != nil {
			return nil, err
		}
	}
	for i, rec := range recs {
		recs[i] = p.proj.Apply(rec, q.model.idField, p.keep...)
	}
	return recs, nil
}

func (m *Model) queryRecords(ctx context.Context, sql string, args ...any) ([]store.Record, error) {
	rows, err := m.db.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	recs, err := rowsToRecords(rows)
	if err != nil {
		return nil, mapError(err)
	}
	return recs, nil
}

// rowsToRecords reads every row into a Record keyed by column name.
func rowsToRecords(rows pgx.Rows) ([]store.Record, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	recs := []store.Record{}
	for rows.Next() {
		values := make([]any, len(fields))
		ptrs := make([]any, len(fields))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(store.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = normalize(values[i])
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// normalize renders uuid columns as strings and array elements likewise.
func normalize(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []any:
		for i, x := range val {
			val[i] = normalize(x)
		}
		return val
	}
	return v
}

// resolve maps a condition field to its column. A dotted field whose root is
// a json column is split into the column and a sub-document path.
func (m *Model) resolve(field string, path []string) (Column, []string, error) {
	if col, ok := m.Table().column(field); ok {
		return col, path, nil
	}
	if root, rest, ok := strings.Cut(field, "."); ok {
		if col, ok := m.Table().column(root); ok {
			return col, append(strings.Split(rest, "."), path...), nil
		}
	}
	return Column{}, nil, fmt.Errorf("%w: unknown column %q on %s", store.ErrInvalidField, field, m.Table().Name)
}

func (m *Model) where(f store.Filter) (sq.And, error) {
	conds, err := f.Conditions()
	if err != nil {
		return nil, err
	}
	and := sq.And{}
	for _, c := range conds {
		s, err := m.condition(c)
		if err != nil {
			return nil, err
		}
		and = append(and, s)
	}
	return and, nil
}

var comparisons = map[string]string{
	store.OpGt:  ">",
	store.OpGte: ">=",
	store.OpLt:  "<",
	store.OpLte: "<=",
}

func (m *Model) condition(c store.Condition) (sq.Sqlizer, error) {
	col, path, err := m.resolve(c.Field, c.Path)
	if err != nil {
		return nil, err
	}
	ident := pgx.Identifier{col.Name}.Sanitize()

	switch {
	case len(path) > 0:
		if !col.isJSON() {
			return nil, fmt.Errorf("%w: %q is not a json column", store.ErrInvalidField, col.Name)
		}
		return jsonCondition(ident, path, c.Op, c.Value), nil
	case col.isArray():
		return arrayCondition(ident, col, c.Op, c.Value)
	}

	switch c.Op {
	case store.OpEq:
		return sq.Eq{ident: col.param(c.Value)}, nil
	case store.OpIn:
		list := store.InList(c.Value)
		params := make([]any, len(list))
		for i, v := range list {
			params[i] = col.param(v)
		}
		return sq.Eq{ident: params}, nil
	case store.OpGt:
		return sq.Gt{ident: col.param(c.Value)}, nil
	case store.OpGte:
		return sq.GtOrEq{ident: col.param(c.Value)}, nil
	case store.OpLt:
		return sq.Lt{ident: col.param(c.Value)}, nil
	case store.OpLte:
		return sq.LtOrEq{ident: col.param(c.Value)}, nil
	}
	return nil, fmt.Errorf("%w: unsupported operator %s", store.ErrInvalidField, c.Op)
}

// param converts a coerced filter value to what the column expects. Coerce
// is lossless, so text columns get the original string back.
func (c Column) param(v any) any {
	if v == nil || !c.isText() {
		return v
	}
	return fmt.Sprint(v)
}

// arrayCondition matches when any element equals the value (or any listed
// value for $in).
func arrayCondition(ident string, col Column, op string, v any) (sq.Sqlizer, error) {
	switch op {
	case store.OpEq:
		if v == nil {
			return sq.Eq{ident: nil}, nil
		}
		return sq.Expr("? = ANY("+ident+")", col.param(v)), nil
	case store.OpIn:
		or := sq.Or{}
		for _, item := range store.InList(v) {
			or = append(or, sq.Expr("? = ANY("+ident+")", col.param(item)))
		}
		return or, nil
	}
	return nil, fmt.Errorf("%w: %s is not supported on array column %q", store.ErrInvalidField, op, col.Name)
}

// jsonCondition compares the text at path inside a json column. Numbers and
// booleans are compared after a cast.
func jsonCondition(ident string, path []string, op string, v any) sq.Sqlizer {
	expr := "(" + ident + " #>> ?)"
	switch op {
	case store.OpEq:
		if v == nil {
			return sq.Expr(expr+" IS NULL", path)
		}
		return sq.Expr(expr+castFor(v)+" = ?", path, v)
	case store.OpIn:
		list := store.InList(v)
		texts := make([]string, len(list))
		for i, item := range list {
			texts[i] = fmt.Sprint(item)
		}
		return sq.Expr(expr+" = ANY(?)", path, texts)
	}
	return sq.Expr(expr+castFor(v)+" "+comparisons[op]+" ?", path, v)
}

func castFor(v any) string {
	switch v.(type) {
	case int64, float64:
		return "::numeric"
	case bool:
		return "::boolean"
	}
	return ""
}

// columns lists the SELECT expressions for p. extra columns are always read
// because populate needs them.
func (m *Model) columns(p store.Projection, extra ...string) ([]string, error) {
	if p.Empty() {
		return []string{"*"}, nil
	}
	var names []string
	if len(p.Include) > 0 {
		names = append(names, m.idField)
		for _, f := range append(slices.Clone(p.Include), extra...) {
			root, _, _ := strings.Cut(f, ".")
			names = append(names, root)
		}
	} else {
		for _, c := range m.Table().Columns {
			if !slices.Contains(p.Exclude, c.Name) || slices.Contains(extra, c.Name) {
				names = append(names, c.Name)
			}
		}
	}
	for _, f := range p.Exclude {
		if _, ok := m.Table().column(f); !ok {
			return nil, fmt.Errorf("%w: unknown column %q on %s", store.ErrInvalidField, f, m.Table().Name)
		}
	}

	var cols []string
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := m.Table().column(name); !ok {
			return nil, fmt.Errorf("%w: unknown column %q on %s", store.ErrInvalidField, name, m.Table().Name)
		}
		cols = append(cols, pgx.Identifier{name}.Sanitize())
	}
	return cols, nil
}

// orderBy sorts nulls before values, matching the other backends.
func (m *Model) orderBy(fields []store.SortField) ([]string, error) {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := m.Table().column(f.Field); !ok {
			return nil, fmt.Errorf("%w: cannot sort by unknown column %q", store.ErrInvalidField, f.Field)
		}
		dir := "ASC NULLS FIRST"
		if f.Desc {
			dir = "DESC NULLS LAST"
		}
		out = append(out, pgx.Identifier{f.Field}.Sanitize()+" "+dir)
	}
	return out, nil
}

func (m *Model) relation(path string) (store.Relation, error) {
	r, ok := m.relations[path]
	if !ok {
		return store.Relation{}, fmt.Errorf("%w: %s.%s", store.ErrUnknownRelation, m.Table().Name, path)
	}
	return r, nil
}

// populate resolves p for every record with one IN query on the related
// table.
func (m *Model) populate(ctx context.Context, recs []store.Record, p store.Populate) error {
	rel, err := m.relation(p.Path)
	if err != nil {
		return err
	}
	from, err := m.db.Model(ctx, rel.From)
	if err != nil {
		return err
	}

	var refs []any
	seen := make(map[string]bool)
	for _, rec := range recs {
		for _, v := range refList(rec[rel.LocalField]) {
			if k := fmt.Sprint(v); !seen[k] {
				seen[k] = true
				refs = append(refs, v)
			}
		}
	}

	byRef := make(map[string][]store.Record)
	if len(refs) > 0 {
		proj, err := store.ParseProjection(from.idField, p.Select...)
		if err != nil {
			return err
		}
		cols, err := from.columns(proj, rel.ForeignField)
		if err != nil {
			return err
		}
		in, err := from.condition(store.Condition{Field: rel.ForeignField, Op: store.OpIn, Value: refs})
		if err != nil {
			return err
		}
		sql, args, err := psql.Select(cols...).From(from.Table().ident()).Where(in).ToSql()
		if err != nil {
			return err
		}
		related, err := from.queryRecords(ctx, sql, args...)
		if err != nil {
			return err
		}
		for _, r := range related {
			for _, v := range refList(r[rel.ForeignField]) {
				k := fmt.Sprint(v)
				byRef[k] = append(byRef[k], proj.Apply(r, from.idField))
			}
		}
	}

	for _, rec := range recs {
		local, present := rec[rel.LocalField]
		var matched []store.Record
		for _, v := range refList(local) {
			matched = append(matched, byRef[fmt.Sprint(v)]...)
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
