package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/advres/internal/testutil/pgtest"
	"github.com/edgeflare/advres/pkg/store"
)

var bootcampsTable = Table{
	Schema: "public",
	Name:   "bootcamps",
	Columns: []Column{
		{Name: "id", DataType: "text", UDTName: "text", IsPrimaryKey: true},
		{Name: "name", DataType: "text", UDTName: "text"},
		{Name: "careers", DataType: "ARRAY", UDTName: "_text"},
		{Name: "location", DataType: "jsonb", UDTName: "jsonb"},
		{Name: "averageCost", DataType: "integer", UDTName: "int4"},
		{Name: "housing", DataType: "boolean", UDTName: "bool"},
		{Name: "zip", DataType: "character varying", UDTName: "varchar"},
	},
}

func TestNewModel(t *testing.T) {
	m := NewModel(nil, bootcampsTable)
	assert.Equal(t, "id", m.idField)

	m = NewModel(nil, Table{Name: "v", Columns: []Column{{Name: "x"}}})
	assert.Equal(t, "id", m.idField)

	m = NewModel(nil, bootcampsTable, WithIDField("name"))
	assert.Equal(t, "name", m.idField)
}

func TestHasField(t *testing.T) {
	var m store.Model = NewModel(nil, bootcampsTable)
	fc, ok := m.(store.FieldChecker)
	require.True(t, ok)
	assert.True(t, fc.HasField("averageCost"))
	assert.False(t, fc.HasField("createdAt"))
}

func TestFindSQL(t *testing.T) {
	m := NewModel(nil, bootcampsTable)

	tests := []struct {
		name     string
		query    store.Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "everything",
			query:   m.Find(nil),
			wantSQL: `SELECT * FROM "public"."bootcamps"`,
		},
		{
			name:     "range with coercion",
			query:    m.Find(store.Filter{"averageCost": store.Filter{"$gt": "8000", "$lte": "12000"}}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE ("averageCost" > $1 AND "averageCost" <= $2)`,
			wantArgs: []any{int64(8000), int64(12000)},
		},
		{
			name:     "text column keeps the literal",
			query:    m.Find(store.Filter{"zip": "02134", "name": "100"}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE ("name" = $1 AND "zip" = $2)`,
			wantArgs: []any{"100", "02134"},
		},
		{
			name:     "membership",
			query:    m.Find(store.Filter{"name": store.Filter{"$in": "a,b"}}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE ("name" IN ($1,$2))`,
			wantArgs: []any{"a", "b"},
		},
		{
			name:     "array element",
			query:    m.Find(store.Filter{"careers": "Business"}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE ($1 = ANY("careers"))`,
			wantArgs: []any{"Business"},
		},
		{
			name:     "array membership",
			query:    m.Find(store.Filter{"careers": store.Filter{"$in": "UI/UX,Business"}}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE (($1 = ANY("careers") OR $2 = ANY("careers")))`,
			wantArgs: []any{"UI/UX", "Business"},
		},
		{
			name:     "json sub-document",
			query:    m.Find(store.Filter{"location": store.Filter{"state": "MA"}}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE (("location" #>> $1) = $2)`,
			wantArgs: []any{[]string{"state"}, "MA"},
		},
		{
			name:     "json dotted path with numeric cast",
			query:    m.Find(store.Filter{"location.zip": store.Filter{"$gte": "1000"}}),
			wantSQL:  `SELECT * FROM "public"."bootcamps" WHERE (("location" #>> $1)::numeric >= $2)`,
			wantArgs: []any{[]string{"zip"}, int64(1000)},
		},
		{
			name: "select sort and page",
			query: m.Find(store.Filter{"housing": "true"}).
				Select("name", "averageCost").
				Sort(store.ParseSort("-averageCost", "name")...).
				Skip(2).
				Limit(2),
			wantSQL: `SELECT "id", "name", "averageCost" FROM "public"."bootcamps" WHERE ("housing" = $1)` +
				` ORDER BY "averageCost" DESC NULLS LAST, "name" ASC NULLS FIRST LIMIT 2 OFFSET 2`,
			wantArgs: []any{true},
		},
		{
			name:    "exclusion",
			query:   m.Find(nil).Select("-location", "-careers", "-zip"),
			wantSQL: `SELECT "id", "name", "averageCost", "housing" FROM "public"."bootcamps"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.query.(*query).build()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, p.sql)
			if tt.wantArgs == nil {
				assert.Empty(t, p.args)
				return
			}
			assert.Equal(t, tt.wantArgs, p.args)
		})
	}
}

func TestFindSQLInvalid(t *testing.T) {
	m := NewModel(nil, bootcampsTable)

	tests := map[string]store.Query{
		"unknown filter column": m.Find(store.Filter{"nope": "1"}),
		"path on scalar column": m.Find(store.Filter{"name": store.Filter{"first": "x"}}),
		"range on array":        m.Find(store.Filter{"careers": store.Filter{"$gt": "a"}}),
		"unknown select":        m.Find(nil).Select("nope"),
		"unknown exclusion":     m.Find(nil).Select("-nope"),
		"unknown sort":          m.Find(nil).Sort(store.ParseSort("-nope")...),
		"mixed projection":      m.Find(nil).Select("name", "-housing"),
		"negative skip":         m.Find(nil).Skip(-1),
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := q.(*query).build()
			assert.ErrorIs(t, err, store.ErrInvalidField)
		})
	}

	_, err := m.Find(nil).Populate(store.Populate{Path: "courses"}).(*query).build()
	assert.ErrorIs(t, err, store.ErrUnknownRelation)
}

func TestCountSQL(t *testing.T) {
	m := NewModel(nil, bootcampsTable)

	sql, args, err := m.countSQL(nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "public"."bootcamps"`, sql)
	assert.Empty(t, args)

	sql, args, err = m.countSQL(store.Filter{"housing": "false"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "public"."bootcamps" WHERE ("housing" = $1)`, sql)
	assert.Equal(t, []any{false}, args)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505"}), store.ErrDuplicate)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "22P02"}), store.ErrInvalidField)

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

const schemaSQL = `
CREATE TABLE advres_bootcamps (
	id text PRIMARY KEY,
	name text NOT NULL UNIQUE,
	careers text[],
	location jsonb,
	"averageCost" integer,
	housing boolean,
	"createdAt" timestamptz
);
CREATE TABLE advres_courses (
	id text PRIMARY KEY,
	title text NOT NULL,
	tuition integer,
	bootcamp text REFERENCES advres_bootcamps(id)
);
INSERT INTO advres_bootcamps VALUES
	('b1', 'Devworks Bootcamp', '{"Web Development","UI/UX","Business"}', '{"city":"Boston","state":"MA"}', 10000, true, '2024-01-10T10:00:00Z'),
	('b2', 'ModernTech Bootcamp', '{"Web Development","UI/UX","Mobile Development"}', '{"city":"Boston","state":"MA"}', 12500, false, '2024-02-10T10:00:00Z'),
	('b3', 'Codemasters', '{"Web Development","Data Science","Business"}', '{"city":"Burlington","state":"VT"}', 7500, false, '2024-03-10T10:00:00Z'),
	('b4', 'Devcentral Bootcamp', '{"Mobile Development","Web Development","Data Science","Business"}', '{"city":"Kingston","state":"RI"}', 9000, true, '2024-04-10T10:00:00Z');
INSERT INTO advres_courses VALUES
	('c1', 'Front End Web Development', 8000, 'b1'),
	('c2', 'Full Stack Web Development', 10000, 'b1'),
	('c3', 'Full Stack Web Dev', 12000, 'b2'),
	('c4', 'UI/UX', 10000, 'b2'),
	('c5', 'Web Design & Development', 12000, 'b3');
`

func TestModelIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := pgtest.Pool(ctx, t)

	pgtest.Exec(ctx, t, pool, "DROP TABLE IF EXISTS advres_courses, advres_bootcamps")
	pgtest.Exec(ctx, t, pool, schemaSQL)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS advres_courses, advres_bootcamps")
	})

	db := NewDB(pool, "")
	bootcamps, err := db.Model(ctx, "advres_bootcamps", WithRelations(store.Relation{
		Path: "courses", From: "advres_courses", LocalField: "id", ForeignField: "bootcamp", Many: true,
	}))
	require.NoError(t, err)
	courses, err := db.Model(ctx, "advres_courses", WithRelations(store.Relation{
		Path: "bootcamp", From: "advres_bootcamps", LocalField: "bootcamp", ForeignField: "id",
	}))
	require.NoError(t, err)

	_, err = db.Model(ctx, "advres_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	t.Run("count", func(t *testing.T) {
		n, err := bootcamps.CountDocuments(ctx, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 4, n)

		n, err = bootcamps.CountDocuments(ctx, store.Filter{"housing": "true"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("find", func(t *testing.T) {
		recs, err := bootcamps.Find(store.Filter{"averageCost": store.Filter{"$gt": "8000"}}).
			Select("name").
			Sort(store.ParseSort("-averageCost")...).
			Skip(1).
			Limit(2).
			Exec(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, store.Record{"id": "b1", "name": "Devworks Bootcamp"}, recs[0])
		assert.Equal(t, "Devcentral Bootcamp", recs[1]["name"])
	})

	t.Run("json and array filters", func(t *testing.T) {
		recs, err := bootcamps.Find(store.Filter{
			"location": store.Filter{"state": "MA"},
			"careers":  "Business",
		}).Select("name").Exec(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "Devworks Bootcamp", recs[0]["name"])
	})

	t.Run("populate", func(t *testing.T) {
		recs, err := bootcamps.Find(store.Filter{"location.state": "MA"}).
			Select("name").
			Sort(store.ParseSort("name")...).
			Populate(store.Populate{Path: "courses", Select: []string{"title"}}).
			Exec(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Len(t, recs[0]["courses"], 2)

		recs, err = courses.Find(store.Filter{"title": "UI/UX"}).
			Populate(store.Populate{Path: "bootcamp", Select: []string{"name"}}).
			Exec(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, store.Record{"id": "b2", "name": "ModernTech Bootcamp"}, recs[0]["bootcamp"])
	})

	t.Run("bad value for column type", func(t *testing.T) {
		_, err := bootcamps.Find(store.Filter{"averageCost": "cheap"}).Exec(ctx)
		assert.ErrorIs(t, err, store.ErrInvalidField)
	})
}
