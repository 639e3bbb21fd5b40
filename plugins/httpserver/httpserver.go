// Package httpserver shares one HTTP listener between plugins. Other plugins
// mount handlers during their init hook; the listener opens on startup.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/internal/server"

	"go.uber.org/zap"
)

// Name is the plugin name.
const Name = "httpserver"

// KeyAddr is the listen address option, --http-addr on the command line.
const KeyAddr = "http.addr"

// Descriptor declares the plugin.
func Descriptor() app.Descriptor {
	return app.Descriptor{Name: Name, New: New}
}

// Plugin owns the HTTP server.
type Plugin struct {
	app.Base

	app    *app.App
	logger *zap.Logger
	mux    *http.ServeMux
	cfg    server.Config
	server *server.Manager
}

// New constructs the plugin and declares its options.
func New(a *app.App) (app.Plugin, error) {
	err := a.Options().AddString(KeyAddr, "http-addr", "HTTP listen address")
	if err != nil && !errors.Is(err, config.ErrOptionsParsed) {
		return nil, err
	}
	p := &Plugin{
		app:    a,
		logger: a.Logger().With(zap.String("plugin", Name)),
		mux:    http.NewServeMux(),
	}
	p.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return p, nil
}

// Handle mounts h at pattern. Patterns follow net/http.ServeMux.
func (p *Plugin) Handle(pattern string, h http.Handler) {
	p.mux.Handle(pattern, h)
	p.logger.Debug("route mounted", zap.String("pattern", pattern))
}

// Init resolves the listen address and builds the middleware chain.
func (p *Plugin) Init(context.Context) error {
	p.cfg = server.FromHTTPConfig(p.app.Config().HTTP)
	if addr, ok := p.app.Options().Value(KeyAddr); ok {
		p.cfg.Addr = addr
	}

	handler := server.Chain(p.mux,
		server.Recovery(p.logger),
		server.RequestID(),
		server.OTelTracing(p.app.TracerProvider()),
		server.Metrics(p.app.Metrics()),
		server.RequestLogger(p.logger),
	)
	p.server = server.NewManager(handler, p.cfg, p.logger)
	return nil
}

// Startup opens the listener. A server that fails later quits the app.
func (p *Plugin) Startup(context.Context) error {
	if err := p.server.Start(); err != nil {
		return err
	}

	h, ok := p.app.QuitHandle()
	if !ok {
		return nil
	}
	p.app.Spawn(func() error {
		defer h.Release()
		select {
		case err := <-p.server.Errors():
			p.logger.Error("http server stopped unexpectedly", zap.Error(err))
			p.app.Quit()
			return err
		case <-h.Done():
			return nil
		}
	})
	return nil
}

// Shutdown drains in-flight requests.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before.
func (p *Plugin) Addr() string {
	if p.server == nil {
		return p.cfg.Addr
	}
	return p.server.Addr()
}

// Handle mounts h on the httpserver plugin of a.
func Handle(a *app.App, pattern string, h http.Handler) error {
	return app.With(a, Name, func(p *Plugin) error {
		p.Handle(pattern, h)
		return nil
	})
}

// Addr returns the address of the httpserver plugin of a.
func Addr(a *app.App) (string, error) {
	return app.RunWith(a, Name, (*Plugin).Addr)
}
