// Package jsonrpc serves JSON-RPC 2.0 over POST /rpc on the shared HTTP
// server. Methods are added by other plugins before startup.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/internal/server"
	"github.com/BaSui01/appbase/plugins/httpserver"

	"go.uber.org/zap"
)

// Name is the plugin name.
const Name = "jsonrpc"

// KeyRate limits requests per second per client, --jsonrpc-rate on the
// command line. Zero or unset disables limiting.
const KeyRate = "jsonrpc.rate"

// Path is where requests are served.
const Path = "/rpc"

const maxBodyBytes = 1 << 20

var (
	ErrMethodsSealed = errors.New("jsonrpc methods are sealed after startup")
	ErrMethodExists  = errors.New("jsonrpc method already registered")
)

// 标准错误码
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object. Methods return one to pick the code;
// any other error is reported as CodeInternalError.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Method handles one call. params is the raw "params" member, possibly empty.
type Method func(ctx context.Context, params json.RawMessage) (any, error)

// Request JSON-RPC 2.0 请求
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response JSON-RPC 2.0 响应
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Descriptor declares the plugin.
func Descriptor() app.Descriptor {
	return app.Descriptor{Name: Name, New: New}
}

// Plugin dispatches JSON-RPC calls.
type Plugin struct {
	app    *app.App
	logger *zap.Logger

	mu      sync.RWMutex
	methods map[string]Method
	sealed  bool
}

// New constructs the plugin and declares its options.
func New(a *app.App) (app.Plugin, error) {
	err := a.Options().AddString(KeyRate, "jsonrpc-rate", "max JSON-RPC requests per second per client")
	if err != nil && !errors.Is(err, config.ErrOptionsParsed) {
		return nil, err
	}
	return &Plugin{
		app:     a,
		logger:  a.Logger().With(zap.String("plugin", Name)),
		methods: make(map[string]Method),
	}, nil
}

// Requires implements app.Plugin.
func (p *Plugin) Requires() []app.Descriptor {
	return []app.Descriptor{httpserver.Descriptor()}
}

// Init mounts the endpoint.
func (p *Plugin) Init(context.Context) error {
	var handler http.Handler = p
	if v, ok := p.app.Options().Value(KeyRate); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", KeyRate, v, err)
		}
		if rps > 0 {
			burst := int(math.Ceil(rps))
			handler = server.RateLimiter(p.app.Context(), rps, burst, p.logger)(handler)
			p.logger.Info("rate limit enabled", zap.Float64("rps", rps), zap.Int("burst", burst))
		}
	}
	return httpserver.Handle(p.app, "POST "+Path, handler)
}

// Startup seals the method table.
func (p *Plugin) Startup(context.Context) error {
	p.mu.Lock()
	p.sealed = true
	names := p.namesLocked()
	p.mu.Unlock()
	p.logger.Info("jsonrpc methods", zap.Strings("methods", names))
	return nil
}

// AddMethod registers fn under name. It fails after startup.
func (p *Plugin) AddMethod(name string, fn Method) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return fmt.Errorf("%w: %s", ErrMethodsSealed, name)
	}
	if _, exists := p.methods[name]; exists {
		return fmt.Errorf("%w: %s", ErrMethodExists, name)
	}
	p.methods[name] = fn
	return nil
}

// Methods returns the registered method names, sorted.
func (p *Plugin) Methods() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.namesLocked()
}

func (p *Plugin) namesLocked() []string {
	return slices.Sorted(maps.Keys(p.methods))
}

// AddMethod registers fn on the jsonrpc plugin of a.
func AddMethod(a *app.App, name string, fn Method) error {
	return app.With(a, Name, func(p *Plugin) error {
		return p.AddMethod(name, fn)
	})
}

// =============================================================================
// HTTP
// =============================================================================

// ServeHTTP implements http.Handler.
func (p *Plugin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeResponse(w, Response{Error: &Error{Code: CodeParseError, Message: "read error"}})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, Response{Error: &Error{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, Response{ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "invalid request"}})
		return
	}

	result, rpcErr := p.call(r.Context(), req)

	// notifications get no response body
	if len(req.ID) == 0 || bytes.Equal(req.ID, []byte("null")) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeResponse(w, Response{ID: req.ID, Result: result, Error: rpcErr})
}

func (p *Plugin) call(ctx context.Context, req Request) (any, *Error) {
	p.mu.RLock()
	fn, ok := p.methods[req.Method]
	p.mu.RUnlock()
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found", Data: req.Method}
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		p.logger.Warn("jsonrpc method failed", zap.String("method", req.Method), zap.Error(err))
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if result == nil {
		result = struct{}{}
	}
	return result, nil
}

func writeResponse(w http.ResponseWriter, resp Response) {
	resp.JSONRPC = "2.0"
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Params decodes params into T. A decode failure is reported as
// CodeInvalidParams.
func Params[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, &Error{Code: CodeInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	return v, nil
}
