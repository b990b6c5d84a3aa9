// Package service assembles the lookup API and the ingest worker into one
// modular application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/modular"
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/GoCodeAlone/forgedocs/cache"
	"github.com/GoCodeAlone/forgedocs/config"
	"github.com/GoCodeAlone/forgedocs/extract"
	"github.com/GoCodeAlone/forgedocs/ingest"
	"github.com/GoCodeAlone/forgedocs/lookup"
	"github.com/GoCodeAlone/forgedocs/middleware"
	"github.com/GoCodeAlone/forgedocs/observability"
	"github.com/GoCodeAlone/forgedocs/observability/tracing"
	"github.com/GoCodeAlone/forgedocs/store"
)

// Options override the dependencies New would otherwise build from the
// configuration.
type Options struct {
	// Store replaces the S3 store.
	Store store.ObjectStore
	// Queue replaces the SQS client. It is only used when a queue URL is
	// configured.
	Queue ingest.SQSAPI
	// Runner replaces the os/exec tool runner.
	Runner extract.Runner
	// Local uses an in-memory store whose writes are delivered straight to
	// the ingest handler instead of through a queue.
	Local bool
	// Version is reported in traces.
	Version string
}

// Service is the assembled application.
type Service struct {
	App       modular.Application
	Store     store.ObjectStore
	Extractor *extract.Extractor
	Ingest    *ingest.Handler
	Lookup    *lookup.Handler
	Metrics   *observability.Metrics
	Health    *HealthChecker
	HTTP      *HTTPServer
	Worker    *ingest.QueueWorker
	// LocalQueue completes requests in local mode; nil otherwise.
	LocalQueue *ingest.LocalQueue
	// Cache is the in-process lookup cache; nil when Redis or no cache is
	// configured.
	Cache *cache.MemoryCache
	// Breaker guards the store outside local mode; nil when disabled.
	Breaker *store.BreakerStore

	tracing *tracing.Provider
	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

// New builds every component described by cfg and registers the lifecycle
// modules. The application is initialised but not started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger, Health: NewHealthChecker()}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	s.tracing = tp

	s.Metrics = observability.NewMetrics(observability.MetricsConfig{
		Namespace:   cfg.Metrics.Namespace,
		MetricsPath: cfg.Metrics.Path,
	})

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := store.LoadAWSConfig(ctx, store.ClientOptions{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			return aws.Config{}, err
		}
		awsCfg = &c
		return c, nil
	}

	switch {
	case opts.Store != nil:
		s.Store = opts.Store
	case opts.Local:
		s.Store = store.NewMemoryStore()
	default:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		s.Store = store.NewS3Store(store.NewS3Client(c, cfg.Storage.Endpoint))
	}
	if !opts.Local && cfg.Storage.Breaker.FailureThreshold > 0 {
		s.Breaker = store.NewBreakerStore(s.Store, store.BreakerConfig{
			FailureThreshold: cfg.Storage.Breaker.FailureThreshold,
			Cooldown:         cfg.Storage.Breaker.Cooldown,
		})
		s.Breaker.OnStateChange(func(from, to store.BreakerState) {
			logger.Warn("Store breaker state changed", "from", from.String(), "to", to.String())
		})
		s.Health.RegisterCheck("store", s.storeHealth)
		s.Store = s.Breaker
	}

	runner := opts.Runner
	if runner == nil {
		runner = extract.NewExecRunner()
	}
	s.Extractor = extract.NewExtractor(extract.Config{
		PuppetCommand:  cfg.Tools.Puppet,
		SidecarCommand: cfg.Tools.Sidecar,
		WorkDir:        cfg.Tools.WorkDir,
		Timeout:        cfg.Tools.Timeout,
	}, runner, logger.With("component", "extract"))
	s.Extractor.SetObserver(s.Metrics)

	s.Ingest = ingest.NewHandler(s.Store, s.Extractor, logger.With("component", "ingest"))
	s.Ingest.SetRecorder(s.Metrics)
	s.Ingest.SetEditorServicesVersion(cfg.Tools.EditorServicesVersion)

	s.Lookup = lookup.NewHandler(s.Store, cfg.Storage.Bucket, logger.With("component", "lookup"))
	s.Lookup.SetRecorder(s.Metrics)
	s.Lookup.SetConditionalCreate(cfg.Storage.ConditionalCreate)

	app := modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
	s.App = app

	switch {
	case cfg.Cache.Redis.Address != "":
		rc := cache.NewRedisCache("cache.redis", cache.RedisConfig{
			Address:    cfg.Cache.Redis.Address,
			Password:   cfg.Cache.Redis.Password,
			DB:         cfg.Cache.Redis.DB,
			Prefix:     cfg.Cache.Redis.Prefix,
			DefaultTTL: cfg.Cache.TTL,
		})
		app.RegisterModule(rc)
		s.Lookup.SetCache(rc)
	case cfg.Cache.MaxEntries > 0:
		s.Cache = cache.NewMemoryCache(cache.MemoryConfig{
			MaxEntries:    cfg.Cache.MaxEntries,
			DefaultTTL:    cfg.Cache.TTL,
			SweepInterval: cfg.Cache.SweepInterval,
		})
		s.Lookup.SetCache(s.Cache)
		s.Metrics.RegisterCache(s.Cache)
		app.RegisterModule(NewWorkerModule("cache.sweeper", s.Cache))
	}

	s.HTTP = NewHTTPServer("http.server", cfg.HTTP.Address, s.Router(cfg))
	app.RegisterModule(s.HTTP)

	if cfg.Queue.URL != "" && !opts.Local {
		client := opts.Queue
		if client == nil {
			c, err := loadAWS()
			if err != nil {
				return nil, err
			}
			client = ingest.NewSQSClient(c, cfg.Storage.Endpoint)
		}
		s.Worker = ingest.NewQueueWorker(client, s.Ingest, ingest.WorkerConfig{
			QueueURL:          cfg.Queue.URL,
			WaitSeconds:       cfg.Queue.WaitSeconds,
			MaxMessages:       cfg.Queue.MaxMessages,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			Concurrency:       cfg.Queue.Concurrency,
		}, logger.With("component", "queue"))
		wm := NewWorkerModule("ingest.worker", s.Worker)
		app.RegisterModule(wm)
		s.Health.Register("ingest.worker", wm)
	}

	if mem, ok := s.Store.(*store.MemoryStore); ok && opts.Local {
		s.LocalQueue = ingest.NewLocalQueue(s.Ingest, 0, logger.With("component", "queue"))
		mem.SetNotifier(s.LocalQueue.Notify)
		wm := NewWorkerModule("ingest.local", s.LocalQueue)
		app.RegisterModule(wm)
		s.Health.Register("ingest.local", wm)
	}

	if err := app.Init(); err != nil {
		return nil, fmt.Errorf("init application: %w", err)
	}
	return s, nil
}

// Router returns the HTTP routes, instrumented for metrics and tracing.
func (s *Service) Router(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	var mw []func(http.Handler) http.Handler
	if cfg.HTTP.RateLimit > 0 {
		if s.limiter == nil {
			s.limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit)
		}
		mw = append(mw, s.limiter.Wrap)
	}
	lookup.NewHTTPHandler(s.Lookup, s.logger.With("component", "http")).Register(mux, mw...)
	mux.Handle("GET /healthz", s.Health.Handler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+s.Metrics.MetricsPath(), s.Metrics.Handler())
	}

	var h http.Handler = s.Metrics.Middleware(mux)
	if s.tracing.Enabled() {
		h = tracing.Middleware(cfg.Tracing.ServiceName, h)
	}
	return h
}

// Start starts every registered module.
func (s *Service) Start() error {
	return s.App.Start()
}

// Stop stops the modules and flushes traces.
func (s *Service) Stop(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return errors.Join(s.App.Stop(), s.tracing.Shutdown(ctx))
}

func (s *Service) storeHealth(context.Context) HealthCheckResult {
	switch st := s.Breaker.State(); st {
	case store.BreakerClosed:
		return HealthCheckResult{Status: StatusHealthy}
	default:
		return HealthCheckResult{Status: StatusDegraded, Message: "breaker " + st.String()}
	}
}
