// cmd/checkout-service/main.go
package main

import (
	"context"
	"flag"
	"os"

	"checkoutcore/internal/core"
	"checkoutcore/internal/pkg/bootstrap"
	"checkoutcore/internal/pkg/config"
	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/pkg/mq"
	"checkoutcore/internal/pkg/tracing"
	checkoutapp "checkoutcore/internal/service/checkout/application"
	"checkoutcore/internal/service/checkout/infrastructure/adapter"
	checkoutif "checkoutcore/internal/service/checkout/interfaces"
	invif "checkoutcore/internal/service/inventory/interfaces"
	reconapp "checkoutcore/internal/service/reconciliation/application"
	reconinfra "checkoutcore/internal/service/reconciliation/infrastructure"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// main 是应用的"组装根"：加载配置，创建并组装所有依赖项，然后启动服务。
func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/checkout.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, nacosClient, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Service.Name, cfg.Service.LogLevel)

	tracer := otel.Tracer(cfg.Service.Name)
	m := metrics.New(prometheus.DefaultRegisterer)

	app, err := core.Assemble(context.Background(), cfg, nacosClient, tracer, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble checkout core")
	}

	// 事件同时写入 Kafka 与 WebSocket 推送
	hub := checkoutif.NewEventHub()
	publishers := adapter.FanoutPublisher{hub}
	var eventWriter *adapter.EventKafkaAdapter
	if len(cfg.Infra.Kafka.Brokers) > 0 && cfg.Infra.Kafka.EventTopic != "" {
		eventWriter = adapter.NewEventKafkaAdapter(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.EventTopic))
		publishers = append(publishers, eventWriter)
	}

	svc := checkoutapp.NewCheckoutService(checkoutapp.Config{
		ProcessingTimeout: cfg.Checkout.ProcessingTimeout,
		GatewayTimeout:    cfg.Checkout.GatewayTimeout,
		FinalizeAttempts:  cfg.Checkout.FinalizeAttempts,
		FinalizeBackoff:   cfg.Checkout.FinalizeBackoff,
	}, checkoutapp.Dependencies{
		Orders:   app.Orders,
		Payments: app.Payments,
		Routing:  app.Router,
		Stock:    app.Holds,
		Gateway:  app.Gateway,
		Events:   publishers,
		Guard:    app.Guard,
	}, tracer, m)

	background := []func(ctx context.Context){hub.Run}
	var shutdown []func(ctx context.Context)

	if cfg.Infra.Kafka.CheckoutTopic != "" && len(cfg.Infra.Kafka.Brokers) > 0 {
		reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.CheckoutTopic, cfg.Infra.Kafka.GroupID)
		consumer := checkoutif.NewCheckoutConsumer(reader, func(ctx context.Context, orderID, instrument string) error {
			_, err := svc.Checkout(ctx, orderID, instrument)
			return err
		})
		background = append(background, consumer.Start)
		shutdown = append(shutdown, consumer.Stop)
	}

	// 内存存储只能在单进程内对账，清扫器随服务一起运行
	if cfg.Service.Storage == config.StorageMemory {
		sweeper := reconapp.NewSweeper(core.SweeperConfig(cfg), reconapp.Dependencies{
			Holds:    app.Holds,
			Orders:   app.Orders,
			Payments: app.Payments,
			Gateway:  app.Gateway,
			Events:   publishers,
			Guard:    app.Guard,
			Leader:   reconinfra.SoloLeader{},
		}, tracer, m)
		background = append(background, sweeper.Run)
	}

	shutdown = append(shutdown, func(context.Context) {
		svc.Wait()
		if eventWriter != nil {
			if err := eventWriter.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing event writer")
			}
		}
		app.Close()
	})

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.Service.Name,
		Port:        cfg.Service.Port,
		Tracing: tracing.Config{
			Endpoint:    cfg.Infra.Jaeger.Endpoint,
			SampleRatio: cfg.Infra.Jaeger.SampleRatio,
			Environment: cfg.Service.Environment,
		},
		Nacos: nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.Handle("GET /ws/events", hub)
			checkoutif.NewCheckoutHandler(svc, app.Router).RegisterRoutes(appCtx.Mux)
			invif.NewInventoryHandler(app.Ledger, app.Holds).RegisterRoutes(appCtx.Mux)
		},
		Background: background,
		OnShutdown: shutdown,
	})
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
