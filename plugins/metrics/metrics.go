// Package metrics exposes the app's Prometheus registry at /metrics.
package metrics

import (
	"context"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/plugins/httpserver"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Name is the plugin name.
const Name = "metrics"

// Path is the scrape endpoint.
const Path = "/metrics"

// Descriptor declares the plugin.
func Descriptor() app.Descriptor {
	return app.Descriptor{Name: Name, New: New}
}

// Plugin mounts the scrape handler.
type Plugin struct {
	app    *app.App
	logger *zap.Logger
}

// New constructs the plugin.
func New(a *app.App) (app.Plugin, error) {
	return &Plugin{app: a, logger: a.Logger().With(zap.String("plugin", Name))}, nil
}

// Requires implements app.Plugin.
func (p *Plugin) Requires() []app.Descriptor {
	return []app.Descriptor{httpserver.Descriptor()}
}

// Init mounts GET /metrics.
func (p *Plugin) Init(context.Context) error {
	h := promhttp.HandlerFor(p.app.Gatherer(), promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(p.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
	if err := httpserver.Handle(p.app, "GET "+Path, h); err != nil {
		return err
	}
	p.logger.Debug("metrics endpoint mounted", zap.String("path", Path))
	return nil
}

