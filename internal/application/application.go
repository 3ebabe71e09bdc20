package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eugenenazirov/fractal-balances/internal/api"
	"github.com/eugenenazirov/fractal-balances/internal/config"
	"github.com/eugenenazirov/fractal-balances/internal/explorer"
	"github.com/eugenenazirov/fractal-balances/internal/history"
	"github.com/eugenenazirov/fractal-balances/internal/metrics"
	"github.com/eugenenazirov/fractal-balances/internal/snapshot"
	"github.com/eugenenazirov/fractal-balances/internal/storage"
	"github.com/eugenenazirov/fractal-balances/internal/tracker"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg      config.Config
	storage  storage.Storage
	history  history.Store
	explorer *explorer.Client
	metrics  *metrics.Recorder
	tracker  *tracker.Tracker
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
	listener net.Listener

	cancelTracker context.CancelFunc
	trackerDone   sync.WaitGroup
}

// New initializes the application with all dependencies from the provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := storage.OpenFileStorage(cfg.AddressesFile, storage.WithFileLogger(logger.Named("storage")))
	if err != nil {
		return nil, fmt.Errorf("failed to open address book: %w", err)
	}

	hist, err := openHistory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	client, err := explorer.NewClient(cfg.ExplorerBaseURL,
		explorer.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		explorer.WithRetries(cfg.FetchRetries, cfg.FetchRetryDelay),
		explorer.WithRequestRate(cfg.ExplorerRPS),
		explorer.WithLogger(logger.Named("explorer")),
	)
	if err != nil {
		_ = hist.Close()
		return nil, fmt.Errorf("failed to build explorer client: %w", err)
	}

	rec := metrics.New()
	tr := tracker.New(store, client, hist,
		tracker.WithInterval(cfg.RefreshInterval),
		tracker.WithConcurrency(cfg.FetchConcurrency),
		tracker.WithMetrics(rec),
		tracker.WithLogger(logger.Named("tracker")),
	)

	handler := api.NewHandler(store, tr, hist, api.WithHandlerLogger(logger))
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMetricsHandler(rec.Handler()),
	)

	return &App{
		cfg:      cfg,
		storage:  store,
		history:  hist,
		explorer: client,
		metrics:  rec,
		tracker:  tr,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   NewServer(cfg, nil),
	}, nil
}

func openHistory(ctx context.Context, cfg config.Config) (history.Store, error) {
	if strings.TrimSpace(cfg.HistoryDB) == "" {
		return history.NewMemoryStore(cfg.HistoryLimit), nil
	}
	sqliteCfg := history.DefaultSQLiteConfig()
	sqliteCfg.Limit = cfg.HistoryLimit
	return history.OpenSQLite(ctx, cfg.HistoryDB, sqliteCfg)
}

// BuildRootHandler constructs the root HTTP handler that serves the dashboard, static files, and API requests.
func BuildRootHandler(apiHandler http.Handler) (http.Handler, error) {
	mux := http.NewServeMux()

	staticPath, err := resolveProjectPath(filepath.Join("web", "static"))
	if err != nil {
		return nil, err
	}
	staticDir := http.Dir(staticPath)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(staticDir)))
	mux.Handle("/api/", apiHandler)
	mux.Handle("/metrics", apiHandler)

	indexPath, err := resolveProjectPath(filepath.Join("web", "templates", "index.html"))
	if err != nil {
		return nil, err
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, indexPath)
	}))

	return mux, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start binds the listen address, then launches the refresh loop and the HTTP
// server in background goroutines. The dashboard assets are resolved here so
// that snapshot-only runs do not need them.
func (a *App) Start(ctx context.Context) error {
	rootHandler, err := BuildRootHandler(a.router)
	if err != nil {
		return fmt.Errorf("failed to build HTTP handler: %w", err)
	}
	a.server.Handler = rootHandler

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln
	a.logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("public_port", a.cfg.PublicPort),
		zap.Duration("refresh_interval", a.cfg.RefreshInterval),
	)

	trackerCtx, cancel := context.WithCancel(ctx)
	a.cancelTracker = cancel
	a.trackerDone.Add(1)
	go func() {
		defer a.trackerDone.Done()
		a.tracker.Run(trackerCtx)
	}()

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, then stops the refresh loop and closes the history store.
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := a.server.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("close server: %w", closeErr))
		}
	}

	if a.cancelTracker != nil {
		a.cancelTracker()
	}
	a.trackerDone.Wait()

	if err := a.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	return errors.Join(errs...)
}

// ExportSnapshot runs one refresh round and writes it as static files into the public directory.
func (a *App) ExportSnapshot(ctx context.Context, dir string) (tracker.Snapshot, error) {
	if dir == "" {
		dir = a.cfg.PublicDir
	}
	snap, err := a.tracker.Refresh(ctx)
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("refresh balances: %w", err)
	}
	if err := snapshot.Write(dir, snap); err != nil {
		return tracker.Snapshot{}, err
	}
	a.logger.Info("snapshot written",
		zap.String("dir", dir),
		zap.Int("balances", len(snap.Balances)),
		zap.Int("failed", len(snap.Failed)),
	)
	return snap, nil
}

// Close releases resources held by an App that was never started.
func (a *App) Close() error {
	return a.history.Close()
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
