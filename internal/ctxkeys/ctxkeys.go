// Package ctxkeys holds the context keys shared between the app runtime and
// the HTTP stack.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	pluginKey    contextKey = "plugin"
	phaseKey     contextKey = "phase"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

// WithPlugin records which plugin hook is running and in which phase.
func WithPlugin(ctx context.Context, name, phase string) context.Context {
	ctx = context.WithValue(ctx, pluginKey, name)
	return context.WithValue(ctx, phaseKey, phase)
}

// Plugin 获取当前插件名
func Plugin(ctx context.Context) (string, bool) {
	return stringValue(ctx, pluginKey)
}

// Phase 获取当前生命周期阶段
func Phase(ctx context.Context) (string, bool) {
	return stringValue(ctx, phaseKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
