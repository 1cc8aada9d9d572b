package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Reload re-reads the column metadata of the cached model for table, or of
// every cached model when table is empty.
func (db *DB) Reload(ctx context.Context, table string) error {
	db.mu.Lock()
	var models []*Model
	if table == "" {
		for _, m := range db.models {
			models = append(models, m)
		}
	} else if m, ok := db.models[table]; ok {
		models = append(models, m)
	}
	db.mu.Unlock()

	var errs []error
	for _, m := range models {
		t, err := LoadTable(ctx, db.conn, db.schema, m.Table().Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.table.Store(&t)
	}
	return errors.Join(errs...)
}

// Listen holds one connection from pool LISTENing on channel and reloads
// table metadata on every notification. The payload names the table; an
// empty payload reloads all of them, e.g. from an event trigger:
//
//	NOTIFY advres_schema, 'bootcamps';
//
// Listen returns nil once ctx is done and the connection error otherwise.
// Failed reloads are logged.
func (db *DB) Listen(ctx context.Context, pool *pgxpool.Pool, channel string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("error listening to channel: %w", err)
	}
	logger.Info("listening for schema changes", zap.String("channel", channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting for notification on %s: %w", channel, err)
		}
		if err := db.Reload(ctx, n.Payload); err != nil {
			logger.Warn("reloading table metadata failed", zap.String("table", n.Payload), zap.Error(err))
			continue
		}
		logger.Debug("table metadata reloaded", zap.String("table", n.Payload))
	}
}
