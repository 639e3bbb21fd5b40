package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/BaSui01/appbase/channel"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/internal/metrics"
	"github.com/BaSui01/appbase/task"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrShutdownTimeout is returned by Shutdown when ctx ends while quit handles
// are still outstanding. No shutdown hook has run in that case.
var ErrShutdownTimeout = errors.New("shutdown timed out waiting for quit handles")

// =============================================================================
// Options
// =============================================================================

type settings struct {
	config          *config.Config
	logger          *zap.Logger
	options         *config.Options
	runtime         task.Config
	channelCapacity int
	registerer      prometheus.Registerer
	tracerProvider  trace.TracerProvider
	warnInterval    time.Duration
	shutdownTimeout time.Duration
}

// Option configures an App.
type Option func(*settings)

// WithConfig takes the runtime, channel, shutdown and metrics settings from
// cfg. Options given after it override individual values.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		if cfg == nil {
			return
		}
		s.config = cfg
		s.runtime.WorkerThreads = cfg.Runtime.WorkerThreads
		s.runtime.BlockingThreads = cfg.Runtime.BlockingThreads
		s.channelCapacity = cfg.Channel.Capacity
		s.warnInterval = cfg.Shutdown.WarnInterval
		s.shutdownTimeout = cfg.Shutdown.Timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithOptions sets the command line and config file options.
func WithOptions(o *config.Options) Option {
	return func(s *settings) { s.options = o }
}

// WithRuntime sizes the task runtime.
func WithRuntime(cfg task.Config) Option {
	return func(s *settings) { s.runtime = cfg }
}

// WithChannelCapacity sets the history size of new topics.
func WithChannelCapacity(n int) Option {
	return func(s *settings) { s.channelCapacity = n }
}

// WithMetrics registers the app's collectors with reg. When reg is also a
// prometheus.Gatherer it is what App.Gatherer returns.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithTracerProvider sets the provider used for lifecycle spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracerProvider = tp }
}

// WithShutdownWarnInterval sets how often a stalled shutdown is logged.
func WithShutdownWarnInterval(d time.Duration) Option {
	return func(s *settings) { s.warnInterval = d }
}

// WithShutdownTimeout bounds the shutdown Execute performs. Zero waits
// until every quit handle is released.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *settings) { s.shutdownTimeout = d }
}

// =============================================================================
// App
// =============================================================================

// App is the plugin host. It owns the registry, the message bus, the task
// runtime and the quit signal; plugins receive it in their constructor.
type App struct {
	id              uuid.UUID
	config          *config.Config
	logger          *zap.Logger
	options         *config.Options
	channels        *channel.Channels
	runtime         *task.Runtime
	registry        *Registry
	metrics         *metrics.Collector
	gatherer        prometheus.Gatherer
	tracerProvider  trace.TracerProvider
	quit            *quitSignal
	warnInterval    time.Duration
	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an App. Without WithMetrics the app uses a private registry.
func New(opts ...Option) *App {
	cfg := config.DefaultConfig()
	s := &settings{}
	WithConfig(cfg)(s)
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.options == nil {
		s.options = config.NewOptions(s.config.App.Name)
	}
	if s.registerer == nil {
		s.registerer = prometheus.NewRegistry()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	if s.warnInterval <= 0 {
		s.warnInterval = config.DefaultShutdownConfig().WarnInterval
	}

	gatherer, ok := s.registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}

	a := &App{
		id:              uuid.New(),
		config:          s.config,
		options:         s.options,
		gatherer:        gatherer,
		tracerProvider:  s.tracerProvider,
		warnInterval:    s.warnInterval,
		shutdownTimeout: s.shutdownTimeout,
	}
	a.logger = s.logger.With(zap.String("app_id", a.id.String()))
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.metrics = metrics.NewCollector(s.config.Metrics.Namespace, s.registerer, a.logger)

	var chOpts []channel.Option
	if s.channelCapacity > 0 {
		chOpts = append(chOpts, channel.WithCapacity(s.channelCapacity))
	}
	chOpts = append(chOpts, channel.WithObserver(a.metrics))
	a.channels = channel.New(a.logger, chOpts...)

	a.runtime = task.New(s.runtime, a.logger)
	a.runtime.SetObserver(a.metrics)

	a.quit = newQuitSignal(a.metrics.SetQuitHandles, func() {
		a.cancel()
		a.logger.Info("quit requested")
	})
	a.registry = newRegistry(a, a.logger, a.metrics, s.tracerProvider.Tracer("appbase/app"))
	return a
}

// =============================================================================
// Driver operations
// =============================================================================

// Register adds a plugin and its dependencies.
func (a *App) Register(d Descriptor) error {
	return a.registry.Register(d)
}

// Init parses the options from os.Args if nobody has yet, then initializes
// every plugin named by the app.plugin option, falling back to the plugin
// list of the typed config.
func (a *App) Init(ctx context.Context) error {
	if !a.options.Parsed() {
		if err := a.options.Parse(os.Args[1:]); err != nil {
			return err
		}
	}

	names, ok := a.options.Values(config.KeyPlugin)
	if !ok {
		names = a.config.App.Plugins
	}
	for _, name := range names {
		if err := a.registry.Initialize(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// InitPlugin initializes one plugin and its dependencies.
func (a *App) InitPlugin(ctx context.Context, name string) error {
	return a.registry.Initialize(ctx, name)
}

// StartPlugin starts one plugin and its dependencies.
func (a *App) StartPlugin(ctx context.Context, name string) error {
	return a.registry.Startup(ctx, name)
}

// Startup starts every initialized plugin in registration order. It does
// nothing once quit has been requested.
func (a *App) Startup(ctx context.Context) error {
	if a.quit.isQuitting() {
		a.logger.Warn("startup skipped: app is quitting")
		return nil
	}
	for _, name := range a.registry.Names() {
		if s, ok := a.registry.State(name); !ok || s != StateInitialized {
			continue
		}
		if err := a.registry.Startup(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Execute blocks until SIGINT, SIGTERM, ctx ending or Quit, then shuts the
// app down. It returns immediately when no plugin has been started.
func (a *App) Execute(ctx context.Context) error {
	if len(a.registry.Running()) == 0 {
		a.logger.Debug("execute: no plugin running")
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.logger.Info("app running", zap.Strings("plugins", a.registry.Running()))
	select {
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("context done, shutting down", zap.Error(ctx.Err()))
	case <-a.quit.done:
		a.logger.Info("quit requested, shutting down")
	}

	shutdownCtx := context.WithoutCancel(ctx)
	if a.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, a.shutdownTimeout)
		defer cancel()
	}
	return a.Shutdown(shutdownCtx)
}

// Quit requests quit. It cancels Context and makes QuitHandle fail.
func (a *App) Quit() {
	a.quit.quit()
}

// QuitHandle issues a quit handle. It fails once quit has been requested.
func (a *App) QuitHandle() (*QuitHandle, bool) {
	return a.quit.acquire()
}

// Shutdown requests quit, waits until every quit handle is released and then
// stops the running plugins in reverse start order. Hook errors are joined;
// every plugin is visited regardless.
func (a *App) Shutdown(ctx context.Context) error {
	start := time.Now()
	a.Quit()

	if err := a.awaitHandles(ctx); err != nil {
		return err
	}

	running := a.registry.Running()
	var errs []error
	for _, name := range slices.Backward(running) {
		if err := a.registry.Shutdown(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	a.runtime.Close()

	elapsed := time.Since(start)
	a.metrics.RecordShutdown(elapsed)
	a.logger.Info("app shut down",
		zap.Int("plugins", len(running)),
		zap.Duration("duration", elapsed))
	return errors.Join(errs...)
}

func (a *App) awaitHandles(ctx context.Context) error {
	drained, n := a.quit.wait()
	if n == 0 {
		return nil
	}
	ticker := time.NewTicker(a.warnInterval)
	defer ticker.Stop()
	for {
		select {
		case <-drained:
			return nil
		case <-ticker.C:
			a.logger.Warn("shutdown waiting for quit handles", zap.Int("outstanding", a.quit.count()))
		case <-ctx.Done():
			n := a.quit.count()
			a.logger.Error("shutdown aborted", zap.Int("outstanding", n), zap.Error(ctx.Err()))
			return fmt.Errorf("%w: %d outstanding: %w", ErrShutdownTimeout, n, ctx.Err())
		}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// ID identifies this app instance.
func (a *App) ID() uuid.UUID { return a.id }

// Config returns the typed configuration.
func (a *App) Config() *config.Config { return a.config }

// Logger returns the app logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Options returns the command line and config file options.
func (a *App) Options() *config.Options { return a.options }

// Channels returns the message bus.
func (a *App) Channels() *channel.Channels { return a.channels }

// Runtime returns the task runtime.
func (a *App) Runtime() *task.Runtime { return a.runtime }

// Registry returns the plugin registry.
func (a *App) Registry() *Registry { return a.registry }

// Metrics returns the metrics collector.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Gatherer returns the registry the app's metrics can be scraped from.
func (a *App) Gatherer() prometheus.Gatherer { return a.gatherer }

// TracerProvider returns the provider used for spans.
func (a *App) TracerProvider() trace.TracerProvider { return a.tracerProvider }

// Context is cancelled when quit is requested.
func (a *App) Context() context.Context { return a.ctx }

// IsQuitting reports whether quit has been requested.
func (a *App) IsQuitting() bool { return a.quit.isQuitting() }

// State returns the lifecycle state of a plugin.
func (a *App) State(name string) (State, bool) { return a.registry.State(name) }

// Spawn runs fn on the task runtime.
func (a *App) Spawn(fn func() error) *task.Handle[struct{}] {
	return a.runtime.Go(fn)
}

// SpawnBlocking runs fn on the blocking pool.
func (a *App) SpawnBlocking(fn func() error) *task.Handle[struct{}] {
	return a.runtime.GoBlocking(fn)
}
