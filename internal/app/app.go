// Package app wires configuration into the long-lived services the CLI
// commands use: the Search Console client, state store, output fan-out,
// progress hub and, in serve mode, the run queue and HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/api"
	"github.com/JakeFAU/search-console-tap/internal/catalog"
	"github.com/JakeFAU/search-console-tap/internal/clock/system"
	"github.com/JakeFAU/search-console-tap/internal/config"
	"github.com/JakeFAU/search-console-tap/internal/dispatcher"
	"github.com/JakeFAU/search-console-tap/internal/extract"
	"github.com/JakeFAU/search-console-tap/internal/hash/sha256"
	"github.com/JakeFAU/search-console-tap/internal/id/uuid"
	"github.com/JakeFAU/search-console-tap/internal/output"
	"github.com/JakeFAU/search-console-tap/internal/policy/ratelimit"
	"github.com/JakeFAU/search-console-tap/internal/progress"
	progresssinks "github.com/JakeFAU/search-console-tap/internal/progress/sinks"
	natspublisher "github.com/JakeFAU/search-console-tap/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/search-console-tap/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/search-console-tap/internal/queue/memory"
	"github.com/JakeFAU/search-console-tap/internal/runner"
	"github.com/JakeFAU/search-console-tap/internal/searchconsole"
	"github.com/JakeFAU/search-console-tap/internal/state"
	gcsstorage "github.com/JakeFAU/search-console-tap/internal/storage/gcs"
	localstorage "github.com/JakeFAU/search-console-tap/internal/storage/local"
	memoryStorage "github.com/JakeFAU/search-console-tap/internal/storage/memory"
	pgstore "github.com/JakeFAU/search-console-tap/internal/storage/postgres"
	s3storage "github.com/JakeFAU/search-console-tap/internal/storage/s3"
	"github.com/JakeFAU/search-console-tap/internal/store"
	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/tap"
	"github.com/JakeFAU/search-console-tap/internal/telemetry"
	"github.com/JakeFAU/search-console-tap/internal/worker"
)

// Options overrides pieces of the wiring that normally come from the
// environment.
type Options struct {
	// Catalog replaces the discovered catalog when it lists streams.
	Catalog catalog.Catalog
	// StatePath forces a file state store at this path.
	StatePath string
	// Stdout receives tap messages; defaults to os.Stdout.
	Stdout io.Writer
	// HTTPClient skips OAuth and is handed to the Search Console client as is.
	HTTPClient *http.Client
	// Registerer receives the progress collectors; defaults to the global registry.
	Registerer prometheus.Registerer
}

// App holds the shared services for one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *streams.Registry
	catalog  catalog.Catalog
	client   *searchconsole.Client
	states   state.Store
	stdout   io.Writer
	idGen    tap.IDGenerator
	clock    tap.Clock

	pool         *pgxpool.Pool
	progressRepo store.ProgressRepository
	progressHub  *progress.Hub
	blobStore    tap.BlobStore
	targets      []output.Target

	closers        []namedCloser
	tracerShutdown func(context.Context) error
}

type namedCloser struct {
	name string
	fn   func() error
}

// Build creates the application's dependencies. Anything opened before a
// failure is released again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	logger.Info("building application",
		zap.Strings("sites", cfg.SiteURLs),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("archive_backend", cfg.Output.Archive.Backend),
	)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: streams.Default(),
		stdout:   opts.Stdout,
		idGen:    uuid.New(),
		clock:    system.New(),
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.catalog = opts.Catalog
	if len(a.catalog.Streams) == 0 {
		a.catalog = catalog.Discover(a.registry)
	}

	if cfg.Telemetry.Enabled {
		tp, tpErr := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if tpErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tpErr)
		}
		a.tracerShutdown = tp.Shutdown
	}

	if err = a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = a.setupState(ctx, opts.StatePath); err != nil {
		return nil, err
	}
	if err = a.setupClient(ctx, opts.HTTPClient); err != nil {
		return nil, err
	}
	if err = a.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPublishers(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx, opts.Registerer); err != nil {
		return nil, err
	}
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Catalog returns the catalog runs are validated against.
func (a *App) Catalog() catalog.Catalog {
	return a.catalog
}

// ListSites returns the properties the credentials can read.
func (a *App) ListSites(ctx context.Context) ([]searchconsole.Site, error) {
	return a.client.ListSites(ctx)
}

// Sync performs one run under a fresh run id.
func (a *App) Sync(ctx context.Context, req tap.RunRequest) (string, tap.RunCounters, error) {
	runID, err := a.idGen.NewID()
	if err != nil {
		return "", tap.RunCounters{}, fmt.Errorf("generate run id: %w", err)
	}
	counters, err := a.Run(ctx, runID, req)
	return runID, counters, err
}

// Run executes one sync under runID. It satisfies worker.Executor.
func (a *App) Run(ctx context.Context, runID string, req tap.RunRequest) (tap.RunCounters, error) {
	if len(req.Sites) == 0 && isWildcard(a.cfg.SiteURLs) {
		sites, err := a.visibleSites(ctx)
		if err != nil {
			return tap.RunCounters{}, err
		}
		req.Sites = sites
	}
	r, err := a.newRunner(runID)
	if err != nil {
		return tap.RunCounters{}, err
	}
	return r.Run(ctx, runID, req)
}

// visibleSites expands the "*" site list to every property the credentials
// can read.
func (a *App) visibleSites(ctx context.Context) ([]string, error) {
	listed, err := a.client.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve site_urls *: %w", err)
	}
	sites := make([]string, 0, len(listed))
	for _, s := range listed {
		sites = append(sites, s.URL)
	}
	a.logger.Info("resolved site_urls", zap.Int("sites", len(sites)))
	return sites, nil
}

func isWildcard(sites []string) bool {
	return len(sites) == 1 && sites[0] == "*"
}

// newRunner builds a runner whose archive objects are named after runID.
func (a *App) newRunner(runID string) (*runner.Runner, error) {
	var primary tap.Emitter
	if a.cfg.Output.Stdout {
		primary = output.NewWriter(a.stdout)
	}
	var archive *output.Archive
	if a.blobStore != nil {
		archive = output.NewArchive(
			a.blobStore,
			a.cfg.Output.Archive.Prefix,
			runID,
			a.cfg.Output.Archive.BatchRecords,
			a.logger.Named("archive"),
		)
	}
	end, _ := a.cfg.EndTime()
	start, err := a.cfg.StartTime()
	if err != nil {
		return nil, err
	}
	var prog progress.Emitter
	if a.progressHub != nil {
		prog = a.progressHub
	}
	return runner.New(runner.Options{
		Registry: a.registry,
		Catalog:  a.catalog,
		Client:   a.client,
		States:   a.states,
		Emitter:  output.NewFanout(primary, archive, a.targets...),
		Hasher:   sha256.New(),
		Clock:    a.clock,
		Progress: prog,
		Settings: extract.Settings{
			StartDate:    start,
			EndDate:      end,
			WindowDays:   a.cfg.Sync.DateWindowDays,
			LookbackDays: a.cfg.Sync.LookbackDays,
			RowLimit:     a.cfg.API.RowLimit,
			DataState:    a.cfg.API.DataState,
		},
		Sites:             a.cfg.SiteURLs,
		Streams:           a.cfg.Sync.Streams,
		SearchAppearances: a.cfg.SearchAppearances,
		StrictAppearances: a.cfg.SearchAppearanceStrict,
		Logger:            a.logger.Named("runner"),
	})
}

// Serve runs the HTTP API and a single sync worker until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	queue := queueMemory.NewQueue(a.cfg.Queue.Depth)
	runStore := memoryStorage.NewRunStore()
	// Runs share one state document, so they never overlap.
	w := worker.New(queue, runStore, a, a.logger.Named("worker"))
	dispatch := dispatcher.New(queue, []*worker.Worker{w})

	serverOpts := []api.Option{api.WithReadiness(a.ready)}
	if a.progressRepo != nil {
		serverOpts = append(serverOpts, api.WithProgressRepository(a.progressRepo))
	}
	apiServer := api.NewServer(
		runStore,
		dispatch,
		a.catalog,
		a.idGen,
		a.clock,
		a.cfg,
		a.logger.Named("api"),
		serverOpts...,
	)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases everything Build opened. It is safe to call more than once.
func (a *App) Close(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Ping(ctx)
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		if a.cfg.State.Backend == "postgres" {
			return errors.New("state.backend is postgres but db.dsn is empty")
		}
		a.logger.Debug("no database configured, progress history disabled")
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // bounded by config validation
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	repo, err := pgstore.NewProgressStore(pool)
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("progress schema: %w", err)
	}
	a.progressRepo = repo
	a.logger.Info("progress store initialized")
	return nil
}

func (a *App) setupState(ctx context.Context, pathOverride string) error {
	if pathOverride != "" {
		a.states = state.NewFileStore(pathOverride)
		a.logger.Info("using state file", zap.String("path", pathOverride))
		return nil
	}
	switch a.cfg.State.Backend {
	case "memory":
		a.states = state.NewMemoryStore()
	case "postgres":
		st, err := pgstore.NewStateStore(a.pool, a.cfg.State.Table, a.cfg.State.StateID)
		if err != nil {
			return fmt.Errorf("postgres state store init failed: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("state schema: %w", err)
		}
		a.states = st
	case "redis":
		st, err := state.NewRedisStore(ctx, a.cfg.State.RedisAddr, a.cfg.State.RedisKey)
		if err != nil {
			return fmt.Errorf("redis state store init failed: %w", err)
		}
		a.states = st
	default:
		a.states = state.NewFileStore(a.cfg.State.Path)
	}
	a.logger.Info("state store initialized", zap.String("backend", a.cfg.State.Backend))
	return nil
}

func (a *App) setupClient(ctx context.Context, httpClient *http.Client) error {
	if httpClient == nil {
		var err error
		httpClient, err = searchconsole.HTTPClient(ctx, searchconsole.Credentials{
			ClientID:        a.cfg.OAuth.ClientID,
			ClientSecret:    a.cfg.OAuth.ClientSecret,
			RefreshToken:    a.cfg.OAuth.RefreshToken,
			CredentialsFile: a.cfg.OAuth.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("oauth init failed: %w", err)
		}
		httpClient.Timeout = a.cfg.RequestTimeout()
	}
	client, err := searchconsole.New(ctx, searchconsole.Options{
		HTTPClient: httpClient,
		Endpoint:   a.cfg.API.Endpoint,
		UserAgent:  a.cfg.API.UserAgent,
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: a.cfg.HTTP.RequestsPerSecond,
			Burst:             a.cfg.HTTP.Burst,
		}),
		Retry: searchconsole.NewRetryPolicy(
			a.cfg.HTTP.MaxRetries,
			time.Duration(a.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(a.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
		Logger: a.logger.Named("searchconsole"),
	})
	if err != nil {
		return fmt.Errorf("search console client init failed: %w", err)
	}
	a.client = client
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	arch := a.cfg.Output.Archive
	switch arch.Backend {
	case "gcs":
		blobStore, closeFn, err := gcsstorage.Dial(ctx, gcsstorage.Config{
			Bucket:   arch.Bucket,
			Metadata: map[string]string{"writer": "searchtap"},
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = blobStore
		a.addCloser("gcs", closeFn)
	case "s3":
		blobStore, err := s3storage.New(s3storage.Config{
			Endpoint:  arch.Endpoint,
			Bucket:    arch.Bucket,
			AccessKey: arch.AccessKey,
			SecretKey: arch.SecretKey,
			Region:    arch.Region,
			UseSSL:    arch.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("s3 blob store init failed: %w", err)
		}
		a.blobStore = blobStore
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: arch.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = blobStore
	case "memory":
		a.blobStore = memoryStorage.NewBlobStore()
	default:
		a.logger.Debug("record archive disabled")
		return nil
	}
	a.logger.Info("record archive enabled",
		zap.String("backend", arch.Backend),
		zap.String("prefix", arch.Prefix),
		zap.Int("batch_records", arch.BatchRecords),
	)
	return nil
}

func (a *App) setupPublishers(ctx context.Context) error {
	ps := a.cfg.Output.PubSub
	if ps.ProjectID != "" && ps.TopicName != "" {
		pub, closeFn, err := gcppublisher.Dial(ctx, ps.ProjectID, ps.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.targets = append(a.targets, output.Target{Name: "pubsub", Publisher: pub})
		a.addCloser("pubsub", closeFn)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.TopicName),
		)
	}
	nc := a.cfg.Output.NATS
	if nc.URL != "" {
		pub, conn, err := natspublisher.Dial(nc.URL, nc.Subject)
		if err != nil {
			return fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.targets = append(a.targets, output.Target{Name: "nats", Publisher: pub})
		a.addCloser("nats", drainNATS(conn))
		a.logger.Info("NATS publisher initialized", zap.String("subject", nc.Subject))
	}
	return nil
}

func drainNATS(conn *nats.Conn) func() error {
	return func() error {
		return conn.Drain()
	}
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.progressRepo != nil {
		sinkList = append(sinkList,
			progresssinks.NewStoreSink(a.progressRepo, a.logger.Named("progress_store")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchMaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.BatchMaxWaitMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}
