package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/edgeflare/advres/internal/testutil"
	"github.com/edgeflare/advres/internal/testutil/mongotest"
	"github.com/edgeflare/advres/pkg/store"
)

func TestBuildFilter(t *testing.T) {
	m := NewModel(nil)
	oid := primitive.NewObjectID()

	tests := []struct {
		name   string
		filter store.Filter
		want   bson.M
	}{
		{
			name:   "empty",
			filter: nil,
			want:   bson.M{},
		},
		{
			name:   "range with coercion",
			filter: store.Filter{"price": store.Filter{"$gt": "100", "$lte": "500"}},
			want:   bson.M{"price": bson.M{"$gt": int64(100), "$lte": int64(500)}},
		},
		{
			name:   "literal keeps leading zeros",
			filter: store.Filter{"zip": "02134", "housing": "true"},
			want:   bson.M{"zip": bson.M{"$eq": "02134"}, "housing": bson.M{"$eq": true}},
		},
		{
			name:   "comma list membership",
			filter: store.Filter{"careers": store.Filter{"$in": "Web Development,UI/UX"}},
			want:   bson.M{"careers": bson.M{"$in": []any{"Web Development", "UI/UX"}}},
		},
		{
			name:   "repeated values",
			filter: store.Filter{"tags": []string{"a", "b"}},
			want:   bson.M{"tags": bson.M{"$in": []any{"a", "b"}}},
		},
		{
			name:   "sub-document as dotted path",
			filter: store.Filter{"location": store.Filter{"state": "MA", "zip": store.Filter{"$gte": "1000"}}},
			want: bson.M{
				"location.state": bson.M{"$eq": "MA"},
				"location.zip":   bson.M{"$gte": int64(1000)},
			},
		},
		{
			name:   "object id",
			filter: store.Filter{"_id": oid.Hex()},
			want:   bson.M{"_id": bson.M{"$in": bson.A{oid, oid.Hex()}}},
		},
		{
			name:   "non hex id",
			filter: store.Filter{"_id": "abc"},
			want:   bson.M{"_id": bson.M{"$eq": "abc"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.buildFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := m.buildFilter(store.Filter{"price": store.Filter{"$gt": store.Filter{"x": "1"}}})
	assert.ErrorIs(t, err, store.ErrInvalidField)
}

func TestSortAndProjectionDocs(t *testing.T) {
	assert.Equal(t,
		bson.D{{Key: "price", Value: -1}, {Key: "name", Value: 1}},
		sortDoc(store.ParseSort("-price", "name")))

	inc, err := store.ParseProjection("_id", "name", "price")
	require.NoError(t, err)
	assert.Equal(t,
		bson.D{{Key: "name", Value: 1}, {Key: "price", Value: 1}, {Key: "bootcamp", Value: 1}},
		projectionDoc(inc, "bootcamp"))

	exc, err := store.ParseProjection("_id", "-description", "-bootcamp")
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "description", Value: 0}}, projectionDoc(exc, "bootcamp"))
}

func TestNormalize(t *testing.T) {
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	doc := bson.M{
		"location": bson.M{"state": "MA"},
		"tags":     bson.A{"a", bson.D{{Key: "k", Value: "v"}}},
		"at":       primitive.NewDateTimeFromTime(now),
	}
	want := store.Record{
		"location": store.Record{"state": "MA"},
		"tags":     []any{"a", store.Record{"k": "v"}},
		"at":       now,
	}
	assert.Equal(t, want, normalize(doc))
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(mongo.ErrNoDocuments), store.ErrNotFound)
	assert.ErrorIs(t, mapError(mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}},
	}), store.ErrDuplicate)
	assert.ErrorIs(t, mapError(mongo.CommandError{Code: 2, Message: "unknown operator: $ne"}), store.ErrInvalidField)

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

func TestModelIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db := mongotest.Connect(ctx, t)

	bootcamps := NewModel(db.Collection("bootcamps"), WithRelations(store.Relation{
		Path: "courses", From: "courses", LocalField: "_id", ForeignField: "bootcamp", Many: true,
	}))
	courses := NewModel(db.Collection("courses"), WithRelations(store.Relation{
		Path: "bootcamp", From: "bootcamps", LocalField: "bootcamp", ForeignField: "_id",
	}))
	require.NoError(t, bootcamps.Insert(ctx, testutil.Bootcamps()...))
	require.NoError(t, courses.Insert(ctx, testutil.Courses()...))

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
		assert.Equal(t, "Devworks Bootcamp", recs[0]["name"])
		assert.Equal(t, "Devcentral Bootcamp", recs[1]["name"])
		assert.Len(t, recs[0], 2)
	})

	t.Run("populate", func(t *testing.T) {
		recs, err := bootcamps.Find(store.Filter{"location": store.Filter{"state": "MA"}}).
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
		assert.Equal(t, store.Record{"_id": "5d713a66ec8f2b88b8f830b8", "name": "ModernTech Bootcamp"}, recs[0]["bootcamp"])
	})

	t.Run("duplicate", func(t *testing.T) {
		err := bootcamps.Insert(ctx, testutil.Bootcamps()[0])
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})
}
