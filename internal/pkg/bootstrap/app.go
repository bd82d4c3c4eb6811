// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"checkoutcore/internal/pkg/nacos"
	"checkoutcore/internal/pkg/tracing"

	"github.com/rs/zerolog/log"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	Tracing     tracing.Config
	// Nacos 为空时跳过服务注册
	Nacos *nacos.Client
	// RegisterHandlers 允许每个服务注册自己独特的 HTTP 路由
	RegisterHandlers func(appCtx AppCtx)
	// Background 运行在独立 goroutine 中（消费者、清扫器等），退出信号到来时 ctx 被取消
	Background []func(ctx context.Context)
	// OnShutdown 在 HTTP 服务关闭后按注册顺序执行
	OnShutdown []func(ctx context.Context)
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) {
	// 1. Tracer
	info.Tracing.ServiceName = info.ServiceName
	tp, err := tracing.InitTracerProvider(info.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 服务注册
	var ip string
	if info.Nacos != nil {
		ip, err = outboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := info.Nacos.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: info.Nacos})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 4. 后台任务
	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, task := range info.Background {
		wg.Add(1)
		go func(run func(ctx context.Context)) {
			defer wg.Done()
			run(bgCtx)
		}(task)
	}

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Str("service", info.ServiceName).Msg("Shutting down service...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// a. 先从注册中心摘除，不再接收新流量
	if info.Nacos != nil {
		if err := info.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		info.Nacos.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	} else {
		log.Info().Msg("HTTP server shut down.")
	}

	// c. 停止后台任务
	stopBackground()
	wg.Wait()

	for _, hook := range info.OnShutdown {
		hook(ctx)
	}

	// d. 最后刷新 trace
	tracing.Shutdown(ctx, tp)

	log.Info().Str("service", info.ServiceName).Msg("🛑 Service gracefully shut down.")
}

// outboundIP 返回本机对外通信使用的地址。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
