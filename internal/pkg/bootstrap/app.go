// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/pkg/nacos"
	"riskgate/internal/pkg/tracing"
	"riskgate/internal/pkg/utils"
)

// AppCtx 是传给各服务注册函数的运行时上下文
type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config *Config

	// Ctx 在收到退出信号时取消，后台协程 (消费者等) 应以它为父 context
	Ctx context.Context

	hooks *shutdownHooks
}

// OnShutdown 注册关停时执行的清理函数，按注册的逆序执行
func (a AppCtx) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.hooks.push(name, fn)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 每个服务注册自己的 HTTP 路由和后台任务
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, info); err != nil {
		zlog.Fatal().Err(err).Str("service", info.ServiceName).Msg("service exited with error")
	}
}

// Run 启动服务并阻塞到 ctx 结束，然后按 LIFO 顺序关停
func Run(ctx context.Context, info AppInfo) error {
	cfg := GetCurrentConfig()
	if info.Port == 0 {
		info.Port = cfg.App.Port
	}
	logger.Init(info.ServiceName, cfg.App.LogLevel, cfg.App.LogPretty)

	hooks := &shutdownHooks{}

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return err
	}
	hooks.push("tracer provider", tp.Shutdown)

	// 2. 服务注册
	var namingClient *nacos.Client
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = registerWithNacos(cfg, info, hooks)
		if err != nil {
			return err
		}
	}
	if nacosConfigClient != nil {
		hooks.push("nacos config client", func(context.Context) error {
			nacosConfigClient.CloseClient()
			return nil
		})
	}

	// 3. HTTP Server
	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient, Config: cfg, Ctx: appCtx, hooks: hooks})
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           logger.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		zlog.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	// HTTP 服务最先关闭，不再接收新请求
	hooks.push("http server", server.Shutdown)

	// 4. 等待退出
	var runErr error
	select {
	case <-ctx.Done():
		zlog.Info().Str("service", info.ServiceName).Msg("Shutting down service...")
	case runErr = <-serveErr:
	}
	cancelApp()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hooks.run(shutdownCtx)

	zlog.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return runErr
}

func registerWithNacos(cfg *Config, info AppInfo, hooks *shutdownHooks) (*nacos.Client, error) {
	nc := cfg.Infra.Nacos
	serverConfigs, err := createNacosServerConfigs(nc.ServerAddrs)
	if err != nil {
		return nil, err
	}
	clientConfig := createNacosClientConfig(nc.Namespace)

	namingClient, err := nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, nc.Group)
	if err != nil {
		return nil, err
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		return nil, err
	}
	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		return nil, err
	}
	hooks.push("nacos registration", func(context.Context) error {
		return namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port)
	})
	return namingClient, nil
}

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// shutdownHooks 是后进先出的清理栈
type shutdownHooks struct {
	mu    sync.Mutex
	hooks []shutdownHook
}

func (s *shutdownHooks) push(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, shutdownHook{name: name, fn: fn})
}

func (s *shutdownHooks) run(ctx context.Context) {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			zlog.Error().Err(err).Str("hook", h.name).Msg("Shutdown step failed")
			continue
		}
		zlog.Info().Str("hook", h.name).Msg("Shutdown step done")
	}
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
