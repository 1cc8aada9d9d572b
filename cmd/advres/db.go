package advres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/edgeflare/advres/pkg/config"
	"github.com/edgeflare/advres/pkg/store"
	"github.com/edgeflare/advres/pkg/store/memory"
	"github.com/edgeflare/advres/pkg/store/mongodb"
	"github.com/edgeflare/advres/pkg/store/postgres"
)

// backend is an open database with one model per resource.
type backend struct {
	models map[string]store.Model
	close  func()
	// watch, when set, runs for the lifetime of the server.
	watch func(ctx context.Context) error
}

// openModels connects to the configured database and returns one model per
// resource.
func openModels(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{models: make(map[string]store.Model, len(cfg.Resources))}

	switch cfg.DB.Driver {
	case config.DriverMongo:
		db, err := connectWithRetry(ctx, cfg.DB.ConnectTimeout, logger, func(ctx context.Context) (*mongodb.DB, error) {
			return mongodb.Connect(ctx, cfg.DB.URI, cfg.DB.Name)
		})
		if err != nil {
			return nil, err
		}
		b.close = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.Close(ctx); err != nil {
				logger.Warn("error disconnecting from MongoDB", zap.Error(err))
			}
		}
		for _, res := range cfg.Resources {
			opts := []mongodb.Option{mongodb.WithRelations(res.Relations...)}
			if res.IDField != "" {
				opts = append(opts, mongodb.WithIDField(res.IDField))
			}
			b.models[res.Name] = db.Collection(res.CollectionName(), opts...)
		}
		logger.Info("MongoDB connected", zap.String("database", cfg.DB.Name))

	case config.DriverPostgres:
		pool, err := connectWithRetry(ctx, cfg.DB.ConnectTimeout, logger, func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, cfg.DB.URI)
		})
		if err != nil {
			return nil, err
		}
		b.close = pool.Close
		db := postgres.NewDB(pool, cfg.DB.Schema)
		for _, res := range cfg.Resources {
			opts := []postgres.Option{postgres.WithRelations(res.Relations...)}
			if res.IDField != "" {
				opts = append(opts, postgres.WithIDField(res.IDField))
			}
			m, err := db.Model(ctx, res.CollectionName(), opts...)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("resource %q: %w", res.Name, err)
			}
			b.models[res.Name] = m
		}
		if channel := cfg.DB.NotifyChannel; channel != "" {
			b.watch = func(ctx context.Context) error { return db.Listen(ctx, pool, channel, logger) }
		}
		logger.Info("PostgreSQL connected", zap.String("schema", cfg.DB.Schema))

	case config.DriverMemory:
		db := memory.NewDB()
		b.close = func() {}
		for _, res := range cfg.Resources {
			opts := []memory.Option{memory.WithRelations(res.Relations...)}
			if res.IDField != "" {
				opts = append(opts, memory.WithIDField(res.IDField))
			}
			b.models[res.Name] = db.Collection(res.CollectionName(), opts...)
		}
		if err := seedMemory(db, cfg.DB.URI, logger); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown db.driver %q", cfg.DB.Driver)
	}
	return b, nil
}

var retryInitialInterval = 500 * time.Millisecond

// connectWithRetry retries connect with exponential backoff for up to
// timeout. A zero timeout means a single attempt.
func connectWithRetry[T any](ctx context.Context, timeout time.Duration, logger *zap.Logger, connect func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return connect(ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxElapsedTime = timeout

	return backoff.RetryNotifyWithData(func() (T, error) {
		return connect(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("database not ready, retrying", zap.Error(err), zap.Duration("next", next))
	})
}

// seedMemory loads <collection>.json files, each a JSON array of documents,
// from dir. Relations may point at collections that are not mounted, so every
// file is loaded. An empty dir leaves the database empty.
func seedMemory(db *memory.DB, dir string, logger *zap.Logger) error {
	if dir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("fixture directory %s: %w", dir, err)
		}
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		var recs []store.Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return fmt.Errorf("fixture %s: %w", file, err)
		}
		name := filepath.Base(file)
		name = name[:len(name)-len(filepath.Ext(name))]
		db.Collection(name).Insert(recs...)
		logger.Debug("loaded fixture", zap.String("collection", name), zap.Int("records", len(recs)))
	}
	return nil
}
