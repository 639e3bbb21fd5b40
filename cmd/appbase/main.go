// =============================================================================
// appbase 主入口
// =============================================================================
// 加载配置、注册示例插件，然后按 init → startup → execute 驱动应用
//
// 使用方法:
//
//	appbase --plugin monitor                     # 启动 monitor 及其依赖
//	appbase --plugin monitor --plugin wsbridge   # 多个插件
//	appbase --config-dir ./config --plugin metrics
//	appbase version                              # 显示版本信息
//	appbase health --addr http://127.0.0.1:8080  # 健康检查
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/appbase/app"
	"github.com/BaSui01/appbase/config"
	"github.com/BaSui01/appbase/internal/logging"
	"github.com/BaSui01/appbase/internal/telemetry"
	"github.com/BaSui01/appbase/internal/tlsutil"
	"github.com/BaSui01/appbase/plugins/heartbeat"
	"github.com/BaSui01/appbase/plugins/httpserver"
	"github.com/BaSui01/appbase/plugins/jsonrpc"
	"github.com/BaSui01/appbase/plugins/metrics"
	"github.com/BaSui01/appbase/plugins/monitor"
	"github.com/BaSui01/appbase/plugins/wsbridge"

	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const programName = "appbase"

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			printVersion()
			return
		case "health":
			runHealthCheck(os.Args[2:])
			return
		}
	}
	os.Exit(run(os.Args[1:], prometheus.DefaultRegisterer))
}

// plugins lists every plugin the binary ships. Registration does not
// initialize anything; --plugin selects what runs.
func plugins() []app.Descriptor {
	return []app.Descriptor{
		httpserver.Descriptor(),
		jsonrpc.Descriptor(),
		heartbeat.Descriptor(),
		monitor.Descriptor(),
		metrics.Descriptor(),
		wsbridge.Descriptor(),
	}
}

// applyWorkerThreads sets GOMAXPROCS when n is positive and returns the value
// in effect afterwards.
func applyWorkerThreads(n int) int {
	if n > 0 {
		runtime.GOMAXPROCS(n)
	}
	return runtime.GOMAXPROCS(0)
}

func run(args []string, reg prometheus.Registerer) int {
	// 类型化配置需在插件声明参数之前加载
	dir := config.LookupConfigDir(programName, args)
	cfg, err := config.NewLoader().
		WithConfigPath(config.ConfigFile(dir)).
		WithValidator((*config.Config).Validate).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := logging.MustNew(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting appbase",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("config_dir", dir),
		zap.Int("gomaxprocs", applyWorkerThreads(cfg.Runtime.WorkerThreads)),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	logger.Info("tracing lifecycle hooks",
		zap.Bool("otlp_export", otelProviders.Enabled()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	opts := config.NewOptions(programName)
	a := app.New(
		app.WithConfig(cfg),
		app.WithLogger(logger),
		app.WithOptions(opts),
		app.WithMetrics(reg),
		app.WithTracerProvider(otelProviders.TracerProvider()),
	)

	for _, d := range plugins() {
		if err := a.Register(d); err != nil {
			logger.Error("failed to register plugin", zap.String("plugin", d.Name), zap.Error(err))
			return 1
		}
	}

	if err := opts.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			opts.Usage(os.Stdout)
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		opts.Usage(os.Stderr)
		return 2
	}

	ctx := context.Background()
	if err := a.Init(ctx); err != nil {
		logger.Error("initialization failed", zap.Error(err))
		_ = a.Shutdown(ctx)
		return 1
	}
	if _, ok := opts.Values(config.KeyPlugin); !ok && len(cfg.App.Plugins) == 0 {
		logger.Warn("no plugin selected, use --plugin",
			zap.Strings("available", a.Registry().Names()))
	}
	if err := a.Startup(ctx); err != nil {
		logger.Error("startup failed", zap.Error(err))
		if err := a.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
		return 1
	}

	if err := a.Execute(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return 1
	}
	logger.Info("appbase stopped")
	return 0
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "Server address")
	_ = fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本
// =============================================================================

func printVersion() {
	fmt.Printf("appbase %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}
