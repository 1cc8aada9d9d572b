package memory

import (
	"context"
	"testing"

	"github.com/edgeflare/advres/internal/testutil"
	"github.com/edgeflare/advres/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBootcamps(t *testing.T) (*DB, *Model) {
	t.Helper()
	db := NewDB()
	bootcamps := db.Collection("bootcamps", WithRelations(store.Relation{
		Path:         "courses",
		From:         "courses",
		LocalField:   "_id",
		ForeignField: "bootcamp",
		Many:         true,
	}))
	bootcamps.Insert(testutil.Bootcamps()...)

	courses := db.Collection("courses", WithRelations(store.Relation{
		Path:         "bootcamp",
		From:         "bootcamps",
		LocalField:   "bootcamp",
		ForeignField: "_id",
	}))
	courses.Insert(testutil.Courses()...)
	return db, bootcamps
}

func names(recs []store.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r["name"].(string))
	}
	return out
}

func TestFindFilters(t *testing.T) {
	_, m := newBootcamps(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter store.Filter
		want   []string
	}{
		{
			name:   "nil filter matches all",
			filter: nil,
			want:   []string{"Devworks Bootcamp", "ModernTech Bootcamp", "Codemasters", "Devcentral Bootcamp"},
		},
		{
			name:   "range operators",
			filter: store.Filter{"averageCost": store.Filter{"$gt": "8000", "$lte": "10000"}},
			want:   []string{"Devworks Bootcamp", "Devcentral Bootcamp"},
		},
		{
			name:   "literal equality coerces booleans",
			filter: store.Filter{"housing": "true"},
			want:   []string{"Devworks Bootcamp", "Devcentral Bootcamp"},
		},
		{
			name:   "array field matches any element",
			filter: store.Filter{"careers": "Data Science"},
			want:   []string{"Codemasters", "Devcentral Bootcamp"},
		},
		{
			name:   "in operator with comma list",
			filter: store.Filter{"location": store.Filter{"state": store.Filter{"$in": "VT,RI"}}},
			want:   []string{"Codemasters", "Devcentral Bootcamp"},
		},
		{
			name:   "dotted path",
			filter: store.Filter{"location.city": "Boston"},
			want:   []string{"Devworks Bootcamp", "ModernTech Bootcamp"},
		},
		{
			name:   "unknown operator is a literal key",
			filter: store.Filter{"averageCost": store.Filter{"ne": "10000"}},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := m.Find(tt.filter).Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(recs))
		})
	}
}

func TestSelectKeepsIdentifier(t *testing.T) {
	_, m := newBootcamps(t)
	recs, err := m.Find(nil).Select("name", "averageCost").Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.Len(t, r, 3)
		assert.Contains(t, r, "_id")
		assert.Contains(t, r, "name")
		assert.Contains(t, r, "averageCost")
	}
}

func TestSortSkipLimit(t *testing.T) {
	_, m := newBootcamps(t)
	ctx := context.Background()

	recs, err := m.Find(nil).Sort(store.ParseSort("-averageCost")...).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ModernTech Bootcamp", "Devworks Bootcamp", "Devcentral Bootcamp", "Codemasters"}, names(recs))

	recs, err = m.Find(nil).Sort(store.ParseSort("-housing", "name")...).Skip(1).Limit(2).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Devworks Bootcamp", "Codemasters"}, names(recs))

	recs, err = m.Find(nil).Skip(10).Limit(2).Exec(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NotNil(t, recs)
}

func TestPopulate(t *testing.T) {
	db, m := newBootcamps(t)
	ctx := context.Background()

	recs, err := m.Find(store.Filter{"name": "Devworks Bootcamp"}).
		Select("name").
		Populate(store.Populate{Path: "courses", Select: []string{"title"}}).
		Exec(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	courses, ok := recs[0]["courses"].([]store.Record)
	require.True(t, ok)
	require.Len(t, courses, 2)
	assert.Equal(t, store.Record{"_id": "5d725a4a7b292f5f8ceff789", "title": "Front End Web Development"}, courses[0])

	recs, err = db.Collection("courses").Find(store.Filter{"title": "UI/UX"}).
		Populate(store.Populate{Path: "bootcamp", Select: []string{"name"}}).
		Exec(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.Record{"_id": "5d713a66ec8f2b88b8f830b8", "name": "ModernTech Bootcamp"}, recs[0]["bootcamp"])

	_, err = m.Find(nil).Populate(store.Populate{Path: "reviews"}).Exec(ctx)
	assert.ErrorIs(t, err, store.ErrUnknownRelation)
}

func TestCountDocuments(t *testing.T) {
	_, m := newBootcamps(t)
	ctx := context.Background()

	n, err := m.CountDocuments(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = m.CountDocuments(ctx, store.Filter{"housing": "false"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.CountDocuments(cctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecDoesNotMutateStore(t *testing.T) {
	_, m := newBootcamps(t)
	ctx := context.Background()

	recs, err := m.Find(nil).Exec(ctx)
	require.NoError(t, err)
	recs[0]["name"] = "changed"

	again, err := m.Find(store.Filter{"_id": "5d713995b721c3bb38c1f5d0"}).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Devworks Bootcamp", again[0]["name"])
}
