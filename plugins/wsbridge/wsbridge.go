// Package wsbridge streams bus topics to websocket clients. A client that
// connects to /ws/{topic} receives every message published on the topic
// after it connected, one JSON frame per message.
package wsbridge

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/channel"
	"github.com/BaSui01/appbase/plugins/httpserver"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Name is the plugin name.
const Name = "wsbridge"

// Pattern is the mounted route.
const Pattern = "GET /ws/{topic}"

// Frame is one websocket message. Exactly one of Message and Lagged is set.
type Frame struct {
	Topic   string `json:"topic"`
	Message any    `json:"message,omitempty"`
	Lagged  uint64 `json:"lagged,omitempty"`
}

// Descriptor declares the plugin.
func Descriptor() app.Descriptor {
	return app.Descriptor{Name: Name, New: New}
}

// Plugin bridges topics to websocket connections.
type Plugin struct {
	app.Base

	app    *app.App
	logger *zap.Logger
	conns  atomic.Int64
}

// New constructs the plugin.
func New(a *app.App) (app.Plugin, error) {
	return &Plugin{app: a, logger: a.Logger().With(zap.String("plugin", Name))}, nil
}

// Requires implements app.Plugin.
func (p *Plugin) Requires() []app.Descriptor {
	return []app.Descriptor{httpserver.Descriptor()}
}

// Init mounts the websocket route.
func (p *Plugin) Init(context.Context) error {
	return httpserver.Handle(p.app, Pattern, http.HandlerFunc(p.serveWS))
}

// Connections returns the number of open websocket connections.
func (p *Plugin) Connections() int64 { return p.conns.Load() }

func (p *Plugin) serveWS(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")

	// 每个连接持有一个退出句柄，关闭时先断开客户端
	h, ok := p.app.QuitHandle()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.Release()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket accept failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	rx := p.app.Channels().Subscribe(topic)
	defer rx.Close()

	p.conns.Add(1)
	defer p.conns.Add(-1)

	// CloseRead 在客户端断开时取消 ctx
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()
	stop := context.AfterFunc(p.app.Context(), cancel)
	defer stop()

	logger := p.logger.With(zap.String("topic", topic), zap.String("remote", r.RemoteAddr))
	logger.Debug("websocket connected")

	err = p.stream(ctx, conn, rx)
	switch {
	case h.IsQuitting():
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
	case err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled):
		logger.Warn("websocket stream failed", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "stream failed")
	default:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	logger.Debug("websocket disconnected")
}

func (p *Plugin) stream(ctx context.Context, conn *websocket.Conn, rx *channel.Receiver) error {
	for {
		msg, err := rx.Recv(ctx)
		var lagged *channel.LaggedError
		switch {
		case err == nil:
			err = wsjson.Write(ctx, conn, Frame{Topic: rx.Topic(), Message: msg})
		case errors.As(err, &lagged):
			err = wsjson.Write(ctx, conn, Frame{Topic: rx.Topic(), Lagged: lagged.Skipped})
		}
		if err != nil {
			return err
		}
	}
}
