package task

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrTaskPanicked  = errors.New("task panicked")
	ErrRuntimeClosed = errors.New("task runtime is closed")
)

// Task kinds reported to observers.
const (
	KindAsync    = "async"
	KindBlocking = "blocking"
)

// Task outcomes reported to observers.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// Config sizes the runtime. Values are read once, when the runtime is first used.
type Config struct {
	// WorkerThreads is the GOMAXPROCS the process should run with. GOMAXPROCS
	// is process-wide, so the runtime only reports it; the binary applies it
	// once at startup. Zero keeps the Go default.
	WorkerThreads int `yaml:"worker_threads" toml:"worker_threads" env:"WORKER_THREADS" json:"worker_threads"`
	// BlockingThreads bounds how many blocking tasks run at once.
	BlockingThreads int `yaml:"blocking_threads" toml:"blocking_threads" env:"BLOCKING_THREADS" json:"blocking_threads"`
	// PanicHandler is called with the recovered value of a panicking task.
	PanicHandler func(any) `yaml:"-" toml:"-" env:"-" json:"-"`
}

// DefaultConfig returns the default runtime sizing.
func DefaultConfig() Config {
	return Config{
		WorkerThreads:   0,
		BlockingThreads: 512,
	}
}

// Observer receives one call per finished task.
type Observer interface {
	ObserveTask(kind, outcome string, elapsed time.Duration)
}

// Runtime schedules asynchronous and blocking work for the whole process.
// The zero value is not usable; call New.
type Runtime struct {
	config   Config
	logger   *zap.Logger
	observer Observer

	once     sync.Once
	blocking *semaphore.Weighted
	built    atomic.Bool
	closed   atomic.Bool

	mu       sync.Mutex
	inflight int
	idle     chan struct{}

	spawned        atomic.Int64
	completed      atomic.Int64
	failed         atomic.Int64
	panicked       atomic.Int64
	active         atomic.Int32
	blockingActive atomic.Int32
	blockingQueued atomic.Int32
}

// New creates a runtime. Nothing is allocated until the first task is spawned.
func New(config Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BlockingThreads <= 0 {
		config.BlockingThreads = DefaultConfig().BlockingThreads
	}
	idle := make(chan struct{})
	close(idle)
	return &Runtime{
		config: config,
		logger: logger.With(zap.String("component", "task_runtime")),
		idle:   idle,
	}
}

// SetObserver attaches an observer. It must be called before the first spawn.
func (r *Runtime) SetObserver(o Observer) {
	r.observer = o
}

func (r *Runtime) ensure() {
	r.once.Do(func() {
		r.blocking = semaphore.NewWeighted(int64(r.config.BlockingThreads))
		r.logger.Debug("task runtime started",
			zap.Int("worker_threads", runtime.GOMAXPROCS(0)),
			zap.Int("configured_worker_threads", r.config.WorkerThreads),
			zap.Int("blocking_threads", r.config.BlockingThreads))
		r.built.Store(true)
	})
}

// Started reports whether the runtime has been built.
func (r *Runtime) Started() bool {
	return r.built.Load()
}

// Close rejects new tasks. In-flight tasks keep running; use Wait to drain them.
func (r *Runtime) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.logger.Debug("task runtime closed")
}

// Wait blocks until no task is in flight or ctx is done.
func (r *Runtime) Wait(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	default:
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go spawns fn as an asynchronous task.
func (r *Runtime) Go(fn func() error) *Handle[struct{}] {
	return Spawn(r, func() (struct{}, error) { return struct{}{}, fn() })
}

// GoBlocking spawns fn on the blocking pool.
func (r *Runtime) GoBlocking(fn func() error) *Handle[struct{}] {
	return SpawnBlocking(r, func() (struct{}, error) { return struct{}{}, fn() })
}

// Spawn schedules fn on the Go scheduler and returns a handle to its result.
func Spawn[T any](r *Runtime, fn func() (T, error)) *Handle[T] {
	h := newHandle[T]()
	if r.closed.Load() {
		h.finish(*new(T), ErrRuntimeClosed)
		return h
	}
	r.ensure()
	r.begin()

	go func() {
		defer r.end()
		val, err := run(r, KindAsync, fn)
		h.finish(val, err)
	}()
	return h
}

// SpawnBlocking schedules fn on the bounded blocking pool. fn runs with its
// goroutine locked to an OS thread and may block for as long as it needs.
func SpawnBlocking[T any](r *Runtime, fn func() (T, error)) *Handle[T] {
	h := newHandle[T]()
	if r.closed.Load() {
		h.finish(*new(T), ErrRuntimeClosed)
		return h
	}
	r.ensure()
	r.begin()
	r.blockingQueued.Add(1)

	go func() {
		defer r.end()
		// Acquire with a background context never fails.
		_ = r.blocking.Acquire(context.Background(), 1)
		r.blockingQueued.Add(-1)
		r.blockingActive.Add(1)
		defer func() {
			r.blockingActive.Add(-1)
			r.blocking.Release(1)
		}()

		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		val, err := run(r, KindBlocking, fn)
		h.finish(val, err)
	}()
	return h
}

func run[T any](r *Runtime, kind string, fn func() (T, error)) (val T, err error) {
	start := time.Now()
	r.active.Add(1)
	defer func() {
		r.active.Add(-1)
		outcome := OutcomeOK
		if p := recover(); p != nil {
			err = r.recovered(kind, p)
			outcome = OutcomePanic
		} else if err != nil {
			outcome = OutcomeError
		}
		r.record(kind, outcome, time.Since(start))
	}()
	return fn()
}

func (r *Runtime) begin() {
	r.spawned.Add(1)
	r.mu.Lock()
	if r.inflight == 0 {
		r.idle = make(chan struct{})
	}
	r.inflight++
	r.mu.Unlock()
}

func (r *Runtime) end() {
	r.mu.Lock()
	r.inflight--
	if r.inflight == 0 {
		close(r.idle)
	}
	r.mu.Unlock()
}

func (r *Runtime) record(kind, outcome string, elapsed time.Duration) {
	switch outcome {
	case OutcomeOK:
		r.completed.Add(1)
	case OutcomeError:
		r.failed.Add(1)
	case OutcomePanic:
		r.failed.Add(1)
		r.panicked.Add(1)
	}
	if r.observer != nil {
		r.observer.ObserveTask(kind, outcome, elapsed)
	}
}

func (r *Runtime) recovered(kind string, v any) error {
	r.logger.Error("task panicked",
		zap.String("kind", kind),
		zap.Any("panic", v),
		zap.ByteString("stack", debug.Stack()))
	if r.config.PanicHandler != nil {
		r.config.PanicHandler(v)
	}
	return fmt.Errorf("%w: %v", ErrTaskPanicked, v)
}

// Stats returns runtime counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Spawned:         r.spawned.Load(),
		Completed:       r.completed.Load(),
		Failed:          r.failed.Load(),
		Panicked:        r.panicked.Load(),
		Active:          int(r.active.Load()),
		Blocking:        int(r.blockingActive.Load()),
		BlockingQueued:  int(r.blockingQueued.Load()),
		BlockingThreads: r.config.BlockingThreads,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Spawned         int64 `json:"spawned"`
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	Panicked        int64 `json:"panicked"`
	Active          int   `json:"active"`
	Blocking        int   `json:"blocking"`
	BlockingQueued  int   `json:"blocking_queued"`
	BlockingThreads int   `json:"blocking_threads"`
}

// =============================================================================
// Handle
// =============================================================================

// Handle is the eventual result of a spawned task.
type Handle[T any] struct {
	id   uuid.UUID
	done chan struct{}
	val  T
	err  error
}

func newHandle[T any]() *Handle[T] {
	return &Handle[T]{id: uuid.New(), done: make(chan struct{})}
}

func (h *Handle[T]) finish(val T, err error) {
	h.val = val
	h.err = err
	close(h.done)
}

// ID returns the task identifier.
func (h *Handle[T]) ID() uuid.UUID { return h.id }

// Done is closed when the task has finished.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Finished reports whether the task has finished.
func (h *Handle[T]) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait returns the task result, or ctx.Err() if ctx ends first.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
