// Package server assembles the HTTP pipeline and runs it: the fixed
// middleware order, resource mounts under /api/v1, the listener and the
// fatal path for background failures.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/edgeflare/advres/pkg/config"
	"github.com/edgeflare/advres/pkg/httputil"
	mw "github.com/edgeflare/advres/pkg/httputil/middleware"
	"github.com/edgeflare/advres/pkg/metrics"
	"github.com/edgeflare/advres/pkg/query"
	"github.com/edgeflare/advres/pkg/ratelimit"
	"github.com/edgeflare/advres/pkg/store"
)

// APIPrefix is the path under which resources are mounted.
const APIPrefix = "/api/v1"

const cleanupInterval = time.Minute

// Deps are the collaborators a Server is built from.
type Deps struct {
	Logger *zap.Logger
	// Limiter counts requests per client. Default: an in-memory limiter
	// sized from the rate limit configuration.
	Limiter ratelimit.Limiter
	// Models backs the configured resources, keyed by resource name.
	Models map[string]store.Model
	// Routes registers additional application routes on the API group.
	Routes func(api *httputil.Router)
	// Output receives the startup banner and fatal messages. Default: os.Stdout.
	Output io.Writer
}

type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	router  *httputil.Router
	limiter ratelimit.Limiter
	out     io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error
	wg     sync.WaitGroup
}

// New builds the pipeline. It fails when a configured resource has no model.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemory(cfg.RateLimit.Window, cfg.RateLimit.Max)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		out:     cmp.Or[io.Writer](deps.Output, os.Stdout),
		ctx:     ctx,
		cancel:  cancel,
		fatal:   make(chan error, 1),
	}

	s.router = httputil.NewRouter(httputil.WithServerOptions(func(srv *http.Server) {
		srv.ReadHeaderTimeout = 10 * time.Second
		srv.ErrorLog = zap.NewStdLog(logger)
	}))
	s.registerMiddleware()

	api := s.router.Group(APIPrefix)
	if err := s.mountResources(api, deps.Models); err != nil {
		cancel()
		return nil, err
	}
	if deps.Routes != nil {
		deps.Routes(api)
	}
	return s, nil
}

func (s *Server) registerMiddleware() {
	cfg := s.cfg
	s.router.Use(mw.RequestID, mw.Metrics, mw.JSONBody(cfg.Body.Limit))
	if cfg.IsDevelopment() {
		s.router.Use(mw.LoggerWithOptions(&mw.LoggerOptions{Logger: s.logger}))
	}

	corsOptions := mw.DefaultCORSOptions()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsOptions.AllowedOrigins = cfg.CORS.AllowedOrigins
	}

	s.router.Use(
		mw.Cookies,
		mw.FileUpload(cfg.Upload.MaxBytes),
		mw.Sanitize,
		mw.SecureHeaders(nil),
		mw.XSSClean,
		mw.RateLimit(s.limiter, &mw.RateLimitOptions{TrustProxy: cfg.RateLimit.TrustProxy, Logger: s.logger}),
		mw.HPP(cfg.HPP.Whitelist...),
		mw.CORSWithOptions(corsOptions),
		mw.Static(cmp.Or(cfg.Static.Dir, "public")),
		mw.ErrorHandler(&mw.ErrorHandlerOptions{Logger: s.logger}),
	)
}

func (s *Server) mountResources(api *httputil.Router, models map[string]store.Model) error {
	names := make([]string, 0, len(s.cfg.Resources))
	for _, res := range s.cfg.Resources {
		model, ok := models[res.Name]
		if !ok {
			return fmt.Errorf("no model for resource %q", res.Name)
		}
		opts := []query.Option{
			query.WithLogger(s.logger),
			query.WithDefaultLimit(s.cfg.Query.DefaultLimit),
			query.WithMaxLimit(s.cfg.Query.MaxLimit),
		}
		if res.DefaultSort != "" {
			opts = append(opts, query.WithDefaultSort(res.DefaultSort))
		}
		if len(res.Populate) > 0 {
			opts = append(opts, query.WithPopulate(res.Populate...))
		}
		query.Mount(api, res.Name, model, opts...)
		names = append(names, res.Name)
	}
	slices.Sort(names)

	api.Handle("GET /{$}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]any{"success": true, "resources": names})
	}))
	return nil
}

// Handler returns the assembled pipeline.
func (s *Server) Handler() http.Handler {
	return s.router.Handler()
}

// Context is canceled when the server shuts down.
func (s *Server) Context() context.Context {
	return s.ctx
}

// Fatal reports a failure that must bring the server down. Run prints
// "Error: <msg>", stops accepting connections and returns err. Only the
// first report is kept.
func (s *Server) Fatal(err error) {
	if err == nil {
		return
	}
	select {
	case s.fatal <- err:
	default:
		s.logger.Debug("fatal error already reported", zap.Error(err))
	}
}

// Go runs fn in the background. A returned error or a panic is reported
// with Fatal. fn must return once ctx is canceled.
func (s *Server) Go(fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rvr := recover(); rvr != nil {
				s.Fatal(fmt.Errorf("panic: %v", rvr))
			}
		}()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Fatal(err)
		}
	}()
}

// Run listens on the configured port and serves until ctx is canceled or a
// fatal error is reported.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		s.printError(err)
		s.cancel()
		return err
	}
	return s.Serve(ctx, l)
}

// Serve is Run on an existing listener. It returns nil after a shutdown
// triggered by ctx and the fatal error otherwise.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.cfg.Server.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.cfg.Server.MaxConnections)
	}
	if s.cfg.Metrics.Addr != "" {
		metrics.StartPrometheusServer(s.ctx, &s.wg, &metrics.PromServerOpts{
			Addr:   s.cfg.Metrics.Addr,
			Logger: s.logger,
		})
	}
	if m, ok := s.limiter.(*ratelimit.Memory); ok {
		s.Go(func(ctx context.Context) error { return m.RunCleanup(ctx, cleanupInterval) })
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.router.Serve(l) }()
	s.banner(l.Addr())

	var failure error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			failure = err
		}
	case err := <-s.fatal:
		failure = err
	}
	if failure != nil {
		s.printError(failure)
		s.logger.Error("server stopping on fatal error", zap.Error(failure))
	}

	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cmp.Or(s.cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := s.router.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown error", zap.Error(err))
		failure = cmp.Or(failure, err)
	}
	s.wg.Wait()

	if failure == nil {
		s.logger.Info("server gracefully stopped")
	}
	return failure
}

func (s *Server) banner(addr net.Addr) {
	port := s.cfg.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	color.New(color.FgYellow, color.Bold).Fprintf(s.out, "Server running in %s mode on port %d\n", s.cfg.Env, port)
}

func (s *Server) printError(err error) {
	color.New(color.FgRed).Fprintf(s.out, "Error: %s\n", err)
}
