package postgres

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/advres/internal/testutil/pgtest"
)

func columnNames(t Table) []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

func TestListenReloadsTable(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(ctx, t)

	pgtest.Exec(ctx, t, pool, "DROP TABLE IF EXISTS advres_listen")
	pgtest.Exec(ctx, t, pool, "CREATE TABLE advres_listen (id integer PRIMARY KEY, name text)")
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS advres_listen") })

	db := NewDB(pool, "public")
	m, err := db.Model(ctx, "advres_listen")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, columnNames(m.Table()))

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- db.Listen(listenCtx, pool, "advres_schema_test", nil) }()

	pgtest.Exec(ctx, t, pool, "ALTER TABLE advres_listen ADD COLUMN averageCost integer")
	require.Eventually(t, func() bool {
		// resent until the listener is up
		_, _ = pool.Exec(ctx, "SELECT pg_notify('advres_schema_test', 'advres_listen')")
		return slices.Contains(columnNames(m.Table()), "averagecost")
	}, 5*time.Second, 50*time.Millisecond)

	_, err = m.Find(nil).Select("averagecost").Exec(ctx)
	assert.NoError(t, err, "the reloaded column can be selected")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestReloadAll(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(ctx, t)

	pgtest.Exec(ctx, t, pool, "DROP TABLE IF EXISTS advres_reload")
	pgtest.Exec(ctx, t, pool, "CREATE TABLE advres_reload (id integer PRIMARY KEY)")
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS advres_reload") })

	db := NewDB(pool, "")
	m, err := db.Model(ctx, "advres_reload")
	require.NoError(t, err)

	pgtest.Exec(ctx, t, pool, "ALTER TABLE advres_reload ADD COLUMN title text")
	require.NoError(t, db.Reload(ctx, ""))
	assert.Equal(t, []string{"id", "title"}, columnNames(m.Table()))

	require.NoError(t, db.Reload(ctx, "not_cached"), "tables without a model are ignored")

	pgtest.Exec(ctx, t, pool, "DROP TABLE advres_reload")
	assert.Error(t, db.Reload(ctx, "advres_reload"))
	assert.Equal(t, []string{"id", "title"}, columnNames(m.Table()), "a failed reload keeps the old metadata")
}
