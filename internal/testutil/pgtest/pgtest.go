package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// EnvDatabase names the environment variable holding the test connection string.
const EnvDatabase = "TEST_DATABASE"

// ParseConfig returns a test connection config with logging. The test is
// skipped when TEST_DATABASE is unset.
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	connString := os.Getenv(EnvDatabase)
	if connString == "" {
		t.Skipf("%s not set", EnvDatabase)
	}
	config, err := pgx.ParseConfig(connString)
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
	return config
}

// Pool returns a connection pool on TEST_DATABASE closed when the test ends.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	cfg, err := pgxpool.ParseConfig(ParseConfig(t).ConnString())
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)
	return pool
}

// Exec runs setup or teardown SQL, failing the test on error.
func Exec(ctx context.Context, t testing.TB, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()
	_, err := pool.Exec(ctx, sql, args...)
	require.NoError(t, err)
}
