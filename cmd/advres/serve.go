package advres

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeflare/advres/pkg/config"
	"github.com/edgeflare/advres/pkg/ratelimit"
	"github.com/edgeflare/advres/pkg/server"
)

var envFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Loads configuration, connects to the database and serves the configured resources under /api/v1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runServer(ctx); err != nil {
			// the error has been printed in red by the server or below
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.IntP("port", "p", 0, "listen port (env PORT, default 5000)")
	f.String("env", "", "environment: development or production (env APP_ENV, NODE_ENV)")
	f.String("db-driver", "", "database driver: mongo, postgres or memory (env DB_DRIVER)")
	f.String("db-uri", "", "database connection string (env MONGO_URI, DATABASE_URL); a JSON fixture directory for the memory driver")
	f.StringVar(&envFile, "env-file", config.DefaultEnvFile, "env file read before the config file")

	v.BindPFlag("port", f.Lookup("port"))
	v.BindPFlag("env", f.Lookup("env"))
	v.BindPFlag("db.driver", f.Lookup("db-driver"))
	v.BindPFlag("db.uri", f.Lookup("db-uri"))
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load(v, cfgFile, envFile)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		return err
	}

	logger, err := config.NewLogger(cfg.Env, logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	defer logger.Sync()

	db, err := openModels(ctx, cfg, logger)
	if err != nil {
		logger.Error("database connection failed", zap.String("driver", cfg.DB.Driver), zap.Error(err))
		return err
	}
	defer db.close()

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		logger.Error("rate limiter unavailable", zap.Error(err))
		return err
	}
	defer closeLimiter()

	srv, err := server.New(cfg, server.Deps{
		Logger:  logger,
		Limiter: limiter,
		Models:  db.models,
	})
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		return err
	}
	if db.watch != nil {
		srv.Go(db.watch)
	}
	return srv.Run(ctx)
}

// newLimiter shares counters through Redis when an address is configured and
// keeps them in process otherwise.
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func() error, error) {
	if cfg.RateLimit.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.RateLimit.Window, cfg.RateLimit.Max), func() error { return nil }, nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedis(client, cfg.RateLimit.Window, cfg.RateLimit.Max), client.Close, nil
}
