package app

import (
	"context"
	"sync"
	"testing"

	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// world describes a set of probe plugins by name. Descriptors are built from
// it so plugins can depend on each other in any shape, cycles included.
type world struct {
	events *testutil.Recorder

	mu        sync.Mutex
	deps      map[string][]string
	ctorErr   map[string]error
	hookErr   map[string]error
	ctorCalls map[string]int
	reqCalls  map[string]int
}

func newWorld() *world {
	return &world{
		events:    testutil.NewRecorder(),
		deps:      make(map[string][]string),
		ctorErr:   make(map[string]error),
		hookErr:   make(map[string]error),
		ctorCalls: make(map[string]int),
		reqCalls:  make(map[string]int),
	}
}

// plugin declares name with the given dependencies.
func (w *world) plugin(name string, deps ...string) Descriptor {
	w.mu.Lock()
	w.deps[name] = deps
	w.mu.Unlock()
	return w.desc(name)
}

func (w *world) failConstructor(name string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctorErr[name] = err
}

// failHook makes the hook "phase:name" return err.
func (w *world) failHook(phase, name string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hookErr[phase+":"+name] = err
}

func (w *world) desc(name string) Descriptor {
	return Descriptor{
		Name: name,
		New: func(a *App) (Plugin, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			w.ctorCalls[name]++
			if err := w.ctorErr[name]; err != nil {
				return nil, err
			}
			return &probe{name: name, w: w}, nil
		},
	}
}

func (w *world) constructed(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctorCalls[name]
}

func (w *world) resolved(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reqCalls[name]
}

// phase returns the plugin names of the recorded events of one phase, in
// order.
func (w *world) phase(phase string) []string {
	var out []string
	prefix := phase + ":"
	for _, ev := range w.events.Events() {
		if len(ev) > len(prefix) && ev[:len(prefix)] == prefix {
			out = append(out, ev[len(prefix):])
		}
	}
	return out
}

type probe struct {
	name string
	w    *world
}

func (p *probe) Requires() []Descriptor {
	p.w.mu.Lock()
	p.w.reqCalls[p.name]++
	names := p.w.deps[p.name]
	p.w.mu.Unlock()

	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, p.w.desc(n))
	}
	return out
}

func (p *probe) hook(phase string) error {
	p.w.events.Add(phase + ":" + p.name)
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	return p.w.hookErr[phase+":"+p.name]
}

func (p *probe) Init(context.Context) error     { return p.hook("init") }
func (p *probe) Startup(context.Context) error  { return p.hook("start") }
func (p *probe) Shutdown(context.Context) error { return p.hook("stop") }

// bare has no hooks at all.
type bare struct{ Base }

func bareDescriptor(name string) Descriptor {
	return Descriptor{Name: name, New: func(*App) (Plugin, error) { return &bare{}, nil }}
}

// newTestApp builds an app whose options are already parsed from args.
func newTestApp(t testing.TB, args []string, opts ...Option) *App {
	t.Helper()
	o := config.NewOptions("apptest")
	o.SetEnvPrefix("APPTEST")
	require.NoError(t, o.Parse(append([]string{"--config-dir", t.TempDir()}, args...)))
	base := []Option{WithOptions(o), WithMetrics(prometheus.NewRegistry())}
	return New(append(base, opts...)...)
}
