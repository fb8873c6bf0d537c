// Package app builds the crawler's long-lived services from configuration and
// owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/api"
	"github.com/JakeFAU/contributor-crawler/internal/clock/system"
	"github.com/JakeFAU/contributor-crawler/internal/config"
	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/contributor-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/contributor-crawler/internal/github"
	"github.com/JakeFAU/contributor-crawler/internal/id/uuid"
	"github.com/JakeFAU/contributor-crawler/internal/logging"
	"github.com/JakeFAU/contributor-crawler/internal/metrics"
	"github.com/JakeFAU/contributor-crawler/internal/pager"
	"github.com/JakeFAU/contributor-crawler/internal/planner"
	"github.com/JakeFAU/contributor-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/contributor-crawler/internal/processor"
	"github.com/JakeFAU/contributor-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/contributor-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/contributor-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/contributor-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/contributor-crawler/internal/report"
	"github.com/JakeFAU/contributor-crawler/internal/results"
	gcsstorage "github.com/JakeFAU/contributor-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/contributor-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/contributor-crawler/internal/storage/memory"
	"github.com/JakeFAU/contributor-crawler/internal/store"
	"github.com/JakeFAU/contributor-crawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	transport  http.RoundTripper
	clock      crawler.Clock
	traceOpts  []sdktrace.TracerProviderOption

	tracerProvider *sdktrace.TracerProvider
	store        store.Store
	engine       *engine.Engine
	apiServer    *api.Server
	progressHub  *progress.Hub
	pubsub       *gcppublisher.Publisher
	publisher    crawler.Publisher
	gcs          *storage.Client
	blobs        crawler.BlobStore
	reports      *report.Writer
	results      crawler.ResultSink
	ownsLogger   bool
	ownsStore    bool
	closeTimeout time.Duration
}

// Option customises Build.
type Option func(*App)

// WithLogger uses logger instead of building one from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers progress collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithStore uses st instead of opening the configured driver. The caller keeps ownership.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithTransport routes API traffic through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *App) { a.transport = rt }
}

// WithClock overrides the wall clock.
func WithClock(clock crawler.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// WithTracerOptions adds span processors or exporters to the tracer provider.
func WithTracerOptions(opts ...sdktrace.TracerProviderOption) Option {
	return func(a *App) { a.traceOpts = append(a.traceOpts, opts...) }
}

// Build creates the application's dependencies. Close must be called on the
// returned App even when a later step fails inside the caller.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		registerer:   prometheus.DefaultRegisterer,
		clock:        system.New(),
		closeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		a.logger = logger
		a.ownsLogger = true
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	a.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.String("report", cfg.Report.Backend),
		zap.Bool("server", cfg.Server.Enabled),
	)

	steps := []func(context.Context) error{
		a.setupTelemetry,
		a.setupStore,
		a.setupPublisher,
		a.setupReports,
		a.setupResults,
		a.setupProgress,
		a.setupEngine,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.closeTimeout)
			defer cancel()
			if closeErr := a.Close(closeCtx); closeErr != nil {
				a.logger.Warn("cleanup after failed build", zap.Error(closeErr))
			}
			return nil, err
		}
	}
	if cfg.Server.Enabled {
		a.apiServer = api.NewServer(a.store, a.engine, api.Config{APIKey: cfg.Server.APIKey}, a.logger.Named("api"))
	}
	return a, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName, a.traceOpts...)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the checkpoint and dedup store.
func (a *App) Store() store.Store {
	return a.store
}

// Engine returns the crawl engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Publisher returns the contributor hand-off, or nil when disabled.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// Blobs returns the report blob store, or nil when reports are disabled.
func (a *App) Blobs() crawler.BlobStore {
	return a.blobs
}

func (a *App) setupStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := OpenStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return err
	}
	a.store = st
	a.ownsStore = true
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Backend {
	case config.BackendPubSub:
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{
			ProjectID: a.cfg.Publisher.ProjectID,
			Topic:     a.cfg.Publisher.Topic,
		}, a.logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsub = pub
		a.publisher = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
	case config.BackendMemory:
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher")
	default:
		a.logger.Info("contributor hand-off disabled")
	}
	return nil
}

func (a *App) setupReports(ctx context.Context) error {
	var err error
	switch a.cfg.Report.Backend {
	case config.BackendGCS:
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcs, gcsstorage.Config{Bucket: a.cfg.Report.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS report backend", zap.String("bucket", a.cfg.Report.Bucket))
	case config.BackendLocal:
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Report.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local report backend", zap.String("path", a.cfg.Report.LocalDir))
	case config.BackendMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory report backend")
	default:
		a.logger.Info("run reports disabled")
		return nil
	}
	a.reports, err = report.NewWriter(a.blobs, a.cfg.Report.Prefix)
	if err != nil {
		return fmt.Errorf("report writer init failed: %w", err)
	}
	return nil
}

func (a *App) setupResults(context.Context) error {
	if a.cfg.Results.Path == "" {
		return nil
	}
	sink, err := results.Open(a.cfg.Results.Path)
	if err != nil {
		return fmt.Errorf("results sink init failed: %w", err)
	}
	a.results = sink
	a.logger.Info("writing entity statistics", zap.String("path", a.cfg.Results.Path))
	return nil
}

func (a *App) setupProgress(context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.progressHub = progress.NewHub(
		progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	return nil
}

func (a *App) setupEngine(context.Context) error {
	gh := a.cfg.GitHub
	fetcherCfg := collyfetcher.Config{
		UserAgent: gh.UserAgent,
		Token:     gh.Token,
		Timeout:   gh.Timeout(),
	}
	var fetcher *collyfetcher.Fetcher
	if a.transport != nil {
		fetcher = collyfetcher.NewWithTransport(fetcherCfg, a.transport)
	} else {
		fetcher = collyfetcher.New(fetcherCfg)
	}
	limiter := ratelimit.New(ratelimit.Config{Delay: gh.Delay(), Burst: gh.Burst})
	client := github.New(fetcher, limiter, github.Config{
		BaseURL:        gh.BaseURL,
		MaxRetries:     gh.MaxRetries,
		InitialBackoff: gh.InitialBackoff(),
		MaxBackoff:     gh.MaxBackoff(),
		MaxRetryAfter:  gh.MaxRetryAfter(),
	}, a.logger)
	a.logger.Info("github client ready",
		zap.String("base_url", gh.BaseURL),
		zap.Duration("delay", gh.Delay()),
		zap.Bool("authenticated", gh.Token != ""),
	)

	search := a.cfg.Search
	plan := planner.New(client, planner.Config{
		Window:    search.Window(),
		Ceiling:   search.Ceiling,
		MaxDepth:  search.MaxDepth,
		MinWindow: search.MinWindow(),
	}, a.clock, a.logger)
	pages := pager.New(client, pager.Config{SecondaryCeiling: a.cfg.Processor.MaxCommits}, a.logger)

	extractor, err := processor.NewExtractor(processor.Selectors{
		Identity:  a.cfg.Processor.IdentityPath,
		Name:      a.cfg.Processor.NamePath,
		Timestamp: a.cfg.Processor.TimestampPath,
	})
	if err != nil {
		return fmt.Errorf("processor init failed: %w", err)
	}
	procOpts := []processor.Option{
		processor.WithClock(a.clock),
		processor.WithClassifier(processor.NewClassifier(a.cfg.Processor.IgnorePatterns...)),
	}
	if a.publisher != nil {
		procOpts = append(procOpts, processor.WithPublisher(a.publisher))
	}
	proc := processor.New(a.store, client, extractor, processor.Config{
		MaxCommits: a.cfg.Processor.MaxCommits,
		Topic:      a.cfg.Publisher.Topic,
	}, a.logger, procOpts...)

	deps := engine.Deps{
		Planner:     plan,
		Fetcher:     pages,
		Processor:   proc,
		Checkpoints: a.store,
		Dedup:       a.store,
		IDs:         uuid.New(),
		Clock:       a.clock,
		Events:      a.progressHub,
		Results:     a.results,

		TracerProvider: a.tracerProvider,
	}
	a.engine, err = engine.New(deps, engine.Config{SuspendOnRangeFailure: search.SuspendOnRangeFailure}, a.logger)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	return nil
}

// Crawl runs the configured search to completion or suspension. The status
// server, when enabled, is served for the duration of the run. A run report
// is written whatever the outcome.
func (a *App) Crawl(ctx context.Context) (crawler.Summary, error) {
	q := a.cfg.Search.Query()
	if q.Keyword == "" {
		return crawler.Summary{}, errors.New("search.keyword is required")
	}
	start, end, err := a.cfg.Search.Period(a.clock.Now())
	if err != nil {
		return crawler.Summary{}, err
	}

	stopServer := a.serve(ctx)
	defer stopServer()

	a.logger.Info("crawl starting",
		zap.String("keyword", q.Keyword),
		zap.Time("start", start),
		zap.Time("end", end),
	)
	sum, runErr := a.engine.Run(ctx, q, start, end)
	if sum.RunID != "" && a.reports != nil {
		uri, err := a.reports.Write(context.WithoutCancel(ctx), sum)
		if err != nil {
			a.logger.Warn("run report upload failed", zap.Error(err))
		} else {
			a.logger.Info("run report written", zap.String("uri", uri))
		}
	}
	return sum, runErr
}

// serve starts the status server when enabled and returns its shutdown func.
func (a *App) serve(ctx context.Context) func() {
	if a.apiServer == nil {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.closeTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			errs = append(errs, fmt.Errorf("results sink close: %w", err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if a.store != nil && a.ownsStore {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if len(errs) > 0 {
		a.logger.Warn("shutdown finished with errors", zap.Error(errors.Join(errs...)))
	} else {
		a.logger.Info("shutdown complete")
	}
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
