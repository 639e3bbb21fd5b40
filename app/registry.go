package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/appbase/internal/ctxkeys"
	"github.com/BaSui01/appbase/internal/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Sentinel errors for the plugin registry.
var (
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrPluginType        = errors.New("plugin has unexpected type")
	ErrDependencyCycle   = errors.New("plugin dependency cycle")
)

// CycleError reports a dependency cycle found at registration. Path starts
// and ends with the same plugin.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDependencyCycle, strings.Join(e.Path, " -> "))
}

// Is makes errors.Is(err, ErrDependencyCycle) match.
func (e *CycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}

// record is one registry entry. The instance is nil while the constructor
// runs; ready is closed once the registering call has finished with it.
type record struct {
	name     string
	state    atomic.Int32
	requires atomic.Pointer[[]string]
	ready    chan struct{}
	once     sync.Once

	mu       sync.Mutex
	instance Plugin
}

func newRecord(name string) *record {
	return &record{name: name, ready: make(chan struct{})}
}

func (rec *record) markReady() {
	rec.once.Do(func() { close(rec.ready) })
}

func (rec *record) deps() []string {
	if p := rec.requires.Load(); p != nil {
		return *p
	}
	return nil
}

func (rec *record) State() State {
	return State(rec.state.Load())
}

// advance moves the record from exactly from to from+1.
func (rec *record) advance(from State) bool {
	return rec.state.CompareAndSwap(int32(from), int32(from+1))
}

// Registry owns every plugin of an App and drives their lifecycle.
type Registry struct {
	app     *App
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	mu      sync.RWMutex
	records map[string]*record
	order   []string

	runMu   sync.Mutex
	running []string
}

func newRegistry(a *App, logger *zap.Logger, collector *metrics.Collector, tracer trace.Tracer) *Registry {
	return &Registry{
		app:     a,
		logger:  logger.With(zap.String("component", "plugin_registry")),
		metrics: collector,
		tracer:  tracer,
		records: make(map[string]*record),
	}
}

// =============================================================================
// Registration
// =============================================================================

// Register adds the plugin described by d and, recursively, everything it
// requires. Registering a name that is already present does nothing.
//
// The record is reserved before the constructor runs, so a dependency that
// refers back to d while it is being registered sees it as present. Once the
// graph is in place it is checked for cycles; on a cycle or a constructor
// failure every record added by this call is removed again.
//
// Records still being registered by a concurrent call are waited for after
// this call's own records are released. If one of them is rolled back, so
// is this call. Constructors must not call Register themselves.
func (r *Registry) Register(d Descriptor) error {
	var added, pending []*record
	err := r.register(d, &added, &pending)
	if err == nil {
		err = r.checkCycles(added)
	}
	if err != nil {
		r.rollback(added)
	}
	for _, rec := range added {
		rec.markReady()
	}
	if err != nil {
		return err
	}
	if err := r.awaitPending(pending); err != nil {
		r.rollback(added)
		return fmt.Errorf("register %s: %w", d.Name, err)
	}
	return nil
}

func (r *Registry) register(d Descriptor, added, pending *[]*record) error {
	if d.Name == "" || d.New == nil {
		return fmt.Errorf("%w: name=%q", ErrInvalidDescriptor, d.Name)
	}

	r.mu.Lock()
	if rec, exists := r.records[d.Name]; exists {
		r.mu.Unlock()
		if !slices.Contains(*added, rec) {
			*pending = append(*pending, rec)
		}
		return nil
	}
	rec := newRecord(d.Name)
	r.records[d.Name] = rec
	r.order = append(r.order, d.Name)
	*added = append(*added, rec)
	r.mu.Unlock()

	inst, err := d.New(r.app)
	if err != nil {
		return fmt.Errorf("construct plugin %s: %w", d.Name, err)
	}
	if inst == nil {
		return fmt.Errorf("%w: %s constructor returned nil", ErrInvalidDescriptor, d.Name)
	}

	rec.mu.Lock()
	rec.instance = inst
	rec.mu.Unlock()

	deps := inst.Requires()
	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		if err := r.register(dep, added, pending); err != nil {
			return fmt.Errorf("register dependency of %s: %w", d.Name, err)
		}
		names = append(names, dep.Name)
	}

	rec.requires.Store(&names)

	r.record(d.Name, StateRegistered)
	r.logger.Debug("plugin registered",
		zap.String("name", d.Name),
		zap.Strings("requires", names))
	return nil
}

// checkCycles runs a depth-first search from the given roots.
func (r *Registry) checkCycles(roots []*record) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			start := slices.Index(stack, name)
			path := append(slices.Clone(stack[start:]), name)
			return &CycleError{Path: path}
		case black:
			return nil
		}
		color[name] = grey
		stack = append(stack, name)

		if rec, ok := r.lookup(name); ok {
			for _, dep := range rec.deps() {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, rec := range roots {
		if err := visit(rec.name); err != nil {
			return err
		}
	}
	return nil
}

// awaitPending waits for records owned by other Register calls and checks
// that they survived.
func (r *Registry) awaitPending(pending []*record) error {
	for _, rec := range pending {
		<-rec.ready
		if _, ok := r.lookup(rec.name); !ok {
			return fmt.Errorf("%w: %s was rolled back by a concurrent registration", ErrPluginNotFound, rec.name)
		}
	}
	return nil
}

func (r *Registry) rollback(added []*record) {
	if len(added) == 0 {
		return
	}
	names := make([]string, 0, len(added))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range added {
		delete(r.records, rec.name)
		names = append(names, rec.name)
	}
	r.order = slices.DeleteFunc(r.order, func(name string) bool {
		return slices.Contains(names, name)
	})
	r.logger.Debug("plugin registration rolled back", zap.Strings("names", names))
}

// =============================================================================
// Lifecycle
// =============================================================================

// Initialize runs the init hook of name after initializing its dependencies.
// It does nothing unless the plugin is in StateRegistered.
func (r *Registry) Initialize(ctx context.Context, name string) error {
	rec, err := r.get(name)
	if err != nil {
		return err
	}
	if !rec.advance(StateRegistered) {
		return nil
	}
	r.record(name, StateInitialized)

	for _, dep := range rec.deps() {
		if err := r.Initialize(ctx, dep); err != nil {
			return fmt.Errorf("initialize %s: %w", name, err)
		}
	}

	err = r.runHook(ctx, rec, "init", func(ctx context.Context, p Plugin) error {
		if h, ok := p.(Initializer); ok {
			return h.Init(ctx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("initialize %s: %w", name, err)
	}
	r.logger.Info("plugin initialized", zap.String("name", name))
	return nil
}

// Startup runs the startup hook of name after starting its dependencies and
// appends it to the running list. It does nothing unless the plugin is in
// StateInitialized.
func (r *Registry) Startup(ctx context.Context, name string) error {
	rec, err := r.get(name)
	if err != nil {
		return err
	}
	if !rec.advance(StateInitialized) {
		return nil
	}
	r.record(name, StateStarted)

	for _, dep := range rec.deps() {
		if err := r.Startup(ctx, dep); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}

	err = r.runHook(ctx, rec, "startup", func(ctx context.Context, p Plugin) error {
		if h, ok := p.(Starter); ok {
			return h.Startup(ctx)
		}
		return nil
	})

	// A plugin whose startup hook ran is stopped on shutdown even if the hook
	// failed, so it can release whatever it did acquire.
	r.runMu.Lock()
	r.running = append(r.running, name)
	r.runMu.Unlock()

	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	r.logger.Info("plugin started", zap.String("name", name))
	return nil
}

// Shutdown runs the shutdown hook of name. It does not touch dependencies and
// does nothing unless the plugin is in StateStarted.
func (r *Registry) Shutdown(ctx context.Context, name string) error {
	rec, err := r.get(name)
	if err != nil {
		return err
	}
	if !rec.advance(StateStarted) {
		return nil
	}
	r.record(name, StateStopped)

	err = r.runHook(ctx, rec, "shutdown", func(ctx context.Context, p Plugin) error {
		if h, ok := p.(Stopper); ok {
			return h.Shutdown(ctx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("shut down %s: %w", name, err)
	}
	r.logger.Info("plugin stopped", zap.String("name", name))
	return nil
}

// runHook calls fn with the plugin instance inside a span. The plugin lock is
// only held to read the instance: a hook may re-enter the registry, and
// whatever it reaches may RunWith back on this plugin. advance already makes
// every hook run at most once.
func (r *Registry) runHook(ctx context.Context, rec *record, phase string, fn func(context.Context, Plugin) error) error {
	ctx, span := r.tracer.Start(ctx, "plugin."+phase,
		trace.WithAttributes(attribute.String("plugin.name", rec.name)))
	defer span.End()
	ctx = ctxkeys.WithPlugin(ctx, rec.name, phase)

	start := time.Now()
	rec.mu.Lock()
	inst := rec.instance
	rec.mu.Unlock()
	var err error
	if inst != nil {
		err = fn(ctx, inst)
	}
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordHook(rec.name, phase, elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("plugin hook failed",
			zap.String("name", rec.name),
			zap.String("phase", phase),
			zap.Error(err))
	}
	return err
}

func (r *Registry) record(name string, s State) {
	if r.metrics != nil {
		r.metrics.RecordTransition(name, s.String())
	}
}

// =============================================================================
// Queries
// =============================================================================

func (r *Registry) lookup(name string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// get returns the record of name once its registration has finished.
func (r *Registry) get(name string) (*record, error) {
	rec, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	<-rec.ready
	if _, ok := r.lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return rec, nil
}

// State returns the lifecycle state of name.
func (r *Registry) State(name string) (State, bool) {
	rec, ok := r.lookup(name)
	if !ok {
		return 0, false
	}
	return rec.State(), true
}

// Names returns the registered plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Running returns the plugins in the order their startup completed.
func (r *Registry) Running() []string {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return slices.Clone(r.running)
}

// Requires returns the dependency names recorded for name.
func (r *Registry) Requires(name string) ([]string, bool) {
	rec, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return slices.Clone(rec.deps()), true
}

// =============================================================================
// Typed access
// =============================================================================

// RunWith applies fn to the plugin registered as name while holding that
// plugin's lock. The instance must be of type P. fn must not call RunWith on
// the same plugin again.
func RunWith[P any, R any](a *App, name string, fn func(P) R) (R, error) {
	var zero R
	rec, ok := a.registry.lookup(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.instance == nil {
		return zero, fmt.Errorf("%w: %s is not constructed yet", ErrPluginNotFound, name)
	}
	p, ok := rec.instance.(P)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrPluginType, name, rec.instance)
	}
	return fn(p), nil
}

// With is RunWith for operations that only return an error.
func With[P any](a *App, name string, fn func(P) error) error {
	hookErr, err := RunWith(a, name, fn)
	if err != nil {
		return err
	}
	return hookErr
}
