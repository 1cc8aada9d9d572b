package mongotest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnvURI names the environment variable holding the test server URI.
const EnvURI = "TEST_MONGO_URI"

// Connect returns a fresh, uniquely named database on the server at
// TEST_MONGO_URI. The database is dropped when the test ends. The test is
// skipped when the variable is unset.
func Connect(ctx context.Context, t testing.TB) *mongo.Database {
	uri := os.Getenv(EnvURI)
	if uri == "" {
		t.Skipf("%s not set", EnvURI)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database(fmt.Sprintf("advres_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		require.NoError(t, client.Disconnect(ctx))
	})
	return db
}
