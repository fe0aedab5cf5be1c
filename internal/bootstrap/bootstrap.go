// Package bootstrap owns the service lifecycle: configuration loading,
// dependency construction in an explicit init-step graph, HTTP serving and
// graceful shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"photosort-server-go/internal/core/adaptive"
	"photosort-server-go/internal/core/breaker"
	"photosort-server-go/internal/core/providers/detector"
	"photosort-server-go/internal/core/ratelimit"
	"photosort-server-go/internal/domain/eventbus"
	domainimage "photosort-server-go/internal/domain/image"
	"photosort-server-go/internal/domain/moderation/cache"
	"photosort-server-go/internal/domain/pipeline"
	platformconfig "photosort-server-go/internal/platform/config"
	platformerrors "photosort-server-go/internal/platform/errors"
	platformlogging "photosort-server-go/internal/platform/logging"
	"photosort-server-go/internal/platform/metrics"
	httptransport "photosort-server-go/internal/transport/http"
	httpmoderation "photosort-server-go/internal/transport/http/moderation"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	bus        *eventbus.Bus
	cache      cache.Store
	detector   detector.Detector

	limiter *ratelimit.SlidingWindow
	breaker *breaker.CircuitBreaker
	manager *adaptive.Manager

	orchestrator *pipeline.Orchestrator
}

// Run starts the whole service lifecycle: it loads configuration, builds the
// pipeline and serves HTTP until a termination signal arrives.
func Run(ctx context.Context) error {
	state := &appState{}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	logger := state.logger
	defer func() {
		if state.cache != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := state.cache.Close(closeCtx); err != nil {
				logger.WarnTag("BOOT", "cache did not close cleanly: %v", err)
			}
		}
		if state.bus != nil {
			state.bus.WaitAsync()
		}
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(rootCtx)

	// Deriving from groupCtx makes a failed server unblock the shutdown wait
	// the same way a signal does.
	signalCtx, stop := signal.NotifyContext(groupCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("BOOT", "service stopped")
	return nil
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap,
			"execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(platformerrors.KindBootstrap, step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep))
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID,
				"missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph declares the dependency-ordered initialisation steps.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "Initialise logging",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "metrics:register",
			Title:     "Register metrics collectors",
			DependsOn: []string{"logging:init"},
			Execute:   registerMetricsStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise event bus",
			DependsOn: []string{"logging:init"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "cache:init",
			Title:     "Initialise result cache",
			DependsOn: []string{"logging:init"},
			Execute:   initCacheStep,
		},
		{
			ID:        "provider:init",
			Title:     "Initialise moderation provider",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindConfig,
			Execute:   initDetectorStep,
		},
		{
			ID:        "core:init",
			Title:     "Initialise limiter, breaker and concurrency manager",
			DependsOn: []string{"logging:init", "metrics:register", "eventbus:init"},
			Execute:   initCoreStep,
		},
		{
			ID:        "pipeline:init",
			Title:     "Initialise batch pipeline",
			DependsOn: []string{"core:init", "provider:init", "cache:init"},
			Execute:   initPipelineStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap,
			"logging:init", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap,
			"logging:init", "failed to initialise logging", err)
	}

	state.logger = logger
	logger.InfoTag("BOOT", "logging ready [%s] config=%s", state.config.Log.Level, state.configPath)
	return nil
}

func registerMetricsStep(_ context.Context, _ *appState) error {
	metrics.Register()
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New()

	logger := state.logger
	return state.bus.SubscribeAsync(eventbus.TopicBreakerStateChanged,
		func(ev eventbus.BreakerStateChanged) {
			logger.WarnTag("BREAKER", "state %s -> %s", ev.From, ev.To)
		})
}

func initCacheStep(_ context.Context, state *appState) error {
	cacheCfg := state.config.Moderation.Cache
	if !cacheCfg.Enabled {
		state.logger.InfoTag("CACHE", "result cache disabled")
		return nil
	}

	cfg := cache.Config{
		Driver: cacheCfg.Type,
		TTL:    cacheCfg.TTL,
	}
	if cacheCfg.Type == cache.DriverRedis {
		cfg.Redis = &cache.RedisConfig{
			Addr:     cacheCfg.Redis.Addr,
			Username: cacheCfg.Redis.Username,
			Password: cacheCfg.Redis.Password,
			DB:       cacheCfg.Redis.DB,
			Prefix:   cacheCfg.Redis.Prefix,
		}
	}

	store, err := cache.New(cfg)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap,
			"cache:init", "failed to create result cache", err)
	}
	state.cache = store
	state.logger.InfoTag("CACHE", "result cache ready (%s, ttl=%s)", cfg.Driver, cfg.TTL)
	return nil
}

func initDetectorStep(_ context.Context, state *appState) error {
	det, err := detector.NewOpenAIDetector(&state.config.Moderation.Provider, state.logger)
	if err != nil {
		return err
	}
	if !det.CredentialsConfigured() {
		state.logger.WarnTag("PROVIDER", "API key missing, moderation calls will fail until configured")
	}
	state.detector = det
	return nil
}

func initCoreStep(_ context.Context, state *appState) error {
	mc := state.config.Moderation

	state.limiter = ratelimit.NewSlidingWindow(mc.RateLimit.MaxRequests, mc.RateLimit.Window())
	state.manager = adaptive.NewManager(
		mc.Concurrency.Min,
		mc.Concurrency.Optimal,
		mc.Concurrency.Max,
		mc.Concurrency.TargetLatency(),
	)
	metrics.ConcurrencyLevel.Set(float64(state.manager.Concurrency()))

	cb := breaker.New(mc.Breaker.FailureThreshold, mc.Breaker.RecoveryTime())
	bus := state.bus
	cb.OnStateChange(func(from, to breaker.State) {
		metrics.BreakerTransitions.WithLabelValues(to.String()).Inc()
		bus.Publish(eventbus.TopicBreakerStateChanged, eventbus.BreakerStateChanged{
			From: from.String(),
			To:   to.String(),
		})
	})
	state.breaker = cb
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	mc := &state.config.Moderation

	executor := pipeline.NewExecutor(pipeline.ExecutorOptions{
		Limiter:      state.limiter,
		Breaker:      state.breaker,
		Detector:     state.detector,
		Logger:       state.logger,
		MaxRetries:   mc.Retry.MaxRetries,
		BaseDelay:    mc.Retry.BaseDelay(),
		MaxDelay:     mc.Retry.MaxDelay(),
		ImageTimeout: mc.Batch.ImageTimeout(),
	})

	state.orchestrator = pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		Config:    mc,
		Validator: domainimage.NewValidator(&mc.Security, state.logger),
		Executor:  executor,
		Manager:   state.manager,
		Limiter:   state.limiter,
		Cache:     state.cache,
		Bus:       state.bus,
		Logger:    state.logger,
	})
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	service, err := httpmoderation.NewService(httpmoderation.Options{
		ProviderType:        config.Moderation.Provider.Type,
		ModelName:           config.Moderation.Provider.ModelName,
		MaxFileSize:         config.Moderation.Security.MaxFileSize,
		AllowedFormats:      config.Moderation.Security.AllowedFormats,
		ConfidenceThreshold: config.Moderation.Detection.ConfidenceThreshold,
		Logger:              logger,
		Processor:           state.orchestrator,
		Detector:            state.detector,
		Limiter:             state.limiter,
		Breaker:             state.breaker,
		Manager:             state.manager,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport,
			"moderation:new-service", "failed to create moderation service", err)
	}
	service.Register(httpRouter.API)

	httpServer := &http.Server{
		Addr:         config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler:      httpRouter.Engine,
		ReadTimeout:  config.Server.RequestTimeout(),
		WriteTimeout: config.Server.RequestTimeout(),
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server stopped cleanly")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "serve failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, logger *platformlogging.Logger, g *errgroup.Group) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "received %v, shutting down", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("BOOT", "shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
	return nil
}
