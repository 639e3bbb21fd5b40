// Package heartbeat publishes a liveness message on a fixed interval and
// exposes a "bounce" JSON-RPC method that publishes on demand.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/channel"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/plugins/jsonrpc"

	"go.uber.org/zap"
)

const (
	// Name is the plugin name.
	Name = "heartbeat"
	// Topic receives "Alive!" on every beat and "Bounce!" per bounce call.
	Topic = "message"
	// KeyInterval is the beat interval, --heartbeat-interval on the command line.
	KeyInterval = "heartbeat.interval"

	MsgAlive  = "Alive!"
	MsgBounce = "Bounce!"

	DefaultInterval = time.Second
)

// Descriptor declares the plugin.
func Descriptor() app.Descriptor {
	return app.Descriptor{Name: Name, New: New}
}

// Plugin 定时向 message 主题发布心跳
type Plugin struct {
	app      *app.App
	logger   *zap.Logger
	sender   channel.Sender
	interval time.Duration
}

// New constructs the plugin and declares its options.
func New(a *app.App) (app.Plugin, error) {
	err := a.Options().AddString(KeyInterval, "heartbeat-interval", "interval between heartbeat messages")
	if err != nil && !errors.Is(err, config.ErrOptionsParsed) {
		return nil, err
	}
	return &Plugin{
		app:      a,
		logger:   a.Logger().With(zap.String("plugin", Name)),
		sender:   a.Channels().Get(Topic),
		interval: DefaultInterval,
	}, nil
}

// Requires implements app.Plugin.
func (p *Plugin) Requires() []app.Descriptor {
	return []app.Descriptor{jsonrpc.Descriptor()}
}

// Init reads the interval and registers the bounce method.
func (p *Plugin) Init(context.Context) error {
	d, ok, err := p.app.Options().Duration(KeyInterval)
	if err != nil {
		return err
	}
	if ok {
		if d <= 0 {
			return fmt.Errorf("option %s: interval must be positive, got %s", KeyInterval, d)
		}
		p.interval = d
	}
	return jsonrpc.AddMethod(p.app, "bounce", p.bounce)
}

// Startup arms the first beat.
func (p *Plugin) Startup(context.Context) error {
	h, ok := p.app.QuitHandle()
	if !ok {
		return nil
	}
	p.logger.Info("heartbeat started", zap.Duration("interval", p.interval))
	p.arm(h)
	return nil
}

// Shutdown implements app.Stopper.
func (p *Plugin) Shutdown(context.Context) error {
	p.logger.Info("heartbeat stopped")
	return nil
}

// arm schedules one beat. The beat publishes and arms the next one, handing
// the quit handle along; the chain ends when quit is requested.
func (p *Plugin) arm(h *app.QuitHandle) {
	p.app.Spawn(func() error {
		timer := time.NewTimer(p.interval)
		defer timer.Stop()
		select {
		case <-h.Done():
			h.Release()
			return nil
		case <-timer.C:
		}
		if h.IsQuitting() {
			h.Release()
			return nil
		}
		n := p.sender.Send(MsgAlive)
		p.logger.Debug("heartbeat", zap.Int("receivers", n))
		p.arm(h)
		return nil
	})
}

func (p *Plugin) bounce(context.Context, json.RawMessage) (any, error) {
	n := p.sender.Send(MsgBounce)
	p.logger.Info("bounce", zap.Int("receivers", n))
	return MsgBounce, nil
}
