// Package monitor logs every message published on the heartbeat topic.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/channel"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/plugins/heartbeat"
	"github.com/BaSui01/appbase/plugins/jsonrpc"

	"go.uber.org/zap"
)

// Name is the plugin name.
const Name = "monitor"

// KeyPoll is how long the loop sleeps on an empty topic,
// --monitor-poll on the command line.
const KeyPoll = "monitor.poll"

const defaultPoll = 50 * time.Millisecond

// Descriptor declares the plugin.
func Descriptor() app.Descriptor {
	return app.Descriptor{Name: Name, New: New}
}

// Plugin polls the message topic from the blocking pool.
type Plugin struct {
	app    *app.App
	logger *zap.Logger
	rx     *channel.Receiver
	poll   time.Duration

	received atomic.Uint64
	skipped  atomic.Uint64
	last     atomic.Value // string
}

// New constructs the plugin and declares its options.
func New(a *app.App) (app.Plugin, error) {
	err := a.Options().AddString(KeyPoll, "monitor-poll", "sleep between polls of an empty topic")
	if err != nil && !errors.Is(err, config.ErrOptionsParsed) {
		return nil, err
	}
	return &Plugin{
		app:    a,
		logger: a.Logger().With(zap.String("plugin", Name)),
		poll:   defaultPoll,
	}, nil
}

// Requires implements app.Plugin.
func (p *Plugin) Requires() []app.Descriptor {
	return []app.Descriptor{heartbeat.Descriptor(), jsonrpc.Descriptor()}
}

// Init subscribes before anything is published so no beat is missed.
func (p *Plugin) Init(context.Context) error {
	d, ok, err := p.app.Options().Duration(KeyPoll)
	if err != nil {
		return err
	}
	if ok {
		if d <= 0 {
			return fmt.Errorf("option %s: must be positive, got %s", KeyPoll, d)
		}
		p.poll = d
	}
	p.rx = p.app.Channels().Subscribe(heartbeat.Topic)
	return nil
}

// Startup starts the polling loop.
func (p *Plugin) Startup(context.Context) error {
	h, ok := p.app.QuitHandle()
	if !ok {
		return nil
	}
	rx := p.rx
	p.app.SpawnBlocking(func() error {
		defer h.Release()
		defer rx.Close()
		p.loop(h, rx)
		return nil
	})
	return nil
}

// Shutdown implements app.Stopper.
func (p *Plugin) Shutdown(context.Context) error {
	p.logger.Info("monitor stopped",
		zap.Uint64("received", p.received.Load()),
		zap.Uint64("skipped", p.skipped.Load()))
	return nil
}

func (p *Plugin) loop(h *app.QuitHandle, rx *channel.Receiver) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()
	for !h.IsQuitting() {
		msg, err := rx.TryRecv()
		var lagged *channel.LaggedError
		switch {
		case err == nil:
			p.received.Add(1)
			text := fmt.Sprint(msg)
			p.last.Store(text)
			p.logger.Info("message", zap.String("topic", rx.Topic()), zap.String("message", text))
		case errors.As(err, &lagged):
			p.skipped.Add(lagged.Skipped)
			p.logger.Warn("monitor lagged", zap.Uint64("skipped", lagged.Skipped))
		case errors.Is(err, channel.ErrEmpty):
			timer.Reset(p.poll)
			select {
			case <-timer.C:
			case <-h.Done():
				return
			}
		default:
			p.logger.Error("monitor receive failed", zap.Error(err))
			return
		}
	}
}

// Received returns how many messages have been logged.
func (p *Plugin) Received() uint64 { return p.received.Load() }

// Skipped returns how many messages were lost to lag.
func (p *Plugin) Skipped() uint64 { return p.skipped.Load() }

// Last returns the last logged message.
func (p *Plugin) Last() string {
	s, _ := p.last.Load().(string)
	return s
}
