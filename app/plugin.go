package app

import (
	"context"

	"github.com/BaSui01/appbase/internal/ctxkeys"
)

// State is the lifecycle state of a registered plugin. States are ordered and
// a plugin only ever moves forward one step at a time.
type State int32

const (
	StateRegistered State = iota
	StateInitialized
	StateStarted
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Plugin is implemented by every plugin instance.
type Plugin interface {
	// Requires lists the plugins that must be registered, initialized and
	// started before this one.
	Requires() []Descriptor
}

// Initializer is implemented by plugins with an init hook.
type Initializer interface {
	Init(ctx context.Context) error
}

// Starter is implemented by plugins with a startup hook.
type Starter interface {
	Startup(ctx context.Context) error
}

// Stopper is implemented by plugins with a shutdown hook.
type Stopper interface {
	Shutdown(ctx context.Context) error
}

// Descriptor declares a plugin: its process-unique name and its constructor.
// The constructor runs at most once per App.
type Descriptor struct {
	Name string
	New  func(a *App) (Plugin, error)
}

// Base can be embedded by plugins without dependencies.
type Base struct{}

// Requires implements Plugin.
func (Base) Requires() []Descriptor { return nil }

// HookFromContext returns the plugin name and lifecycle phase ("init",
// "startup" or "shutdown") of the hook that ctx was passed to.
func HookFromContext(ctx context.Context) (name, phase string, ok bool) {
	name, ok = ctxkeys.Plugin(ctx)
	if !ok {
		return "", "", false
	}
	phase, _ = ctxkeys.Phase(ctx)
	return name, phase, true
}
