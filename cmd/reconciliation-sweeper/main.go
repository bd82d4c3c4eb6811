// cmd/reconciliation-sweeper/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"checkoutcore/internal/core"
	"checkoutcore/internal/pkg/bootstrap"
	"checkoutcore/internal/pkg/config"
	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/pkg/mq"
	"checkoutcore/internal/pkg/tracing"
	"checkoutcore/internal/pkg/zookeeper"
	checkoutport "checkoutcore/internal/service/checkout/domain/port"
	"checkoutcore/internal/service/checkout/infrastructure/adapter"
	reconapp "checkoutcore/internal/service/reconciliation/application"
	"checkoutcore/internal/service/reconciliation/domain"
	reconinfra "checkoutcore/internal/service/reconciliation/infrastructure"

	"github.com/go-zookeeper/zk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

const (
	serviceName  = "reconciliation-sweeper"
	leaderLockID = "reconciliation-sweeper"
)

// main 组装独立运行的对账清扫器。多个实例可同时部署，同一时刻只有持有领导权的实例执行清扫。
func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/checkout.yaml"), "path to the YAML config file")
	port := flag.Int("port", 0, "metrics listen port, defaults to the checkout port plus one")
	flag.Parse()

	cfg, nacosClient, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Service.Storage != config.StorageMySQL {
		log.Fatal().Str("storage", cfg.Service.Storage).Msg("standalone sweeper requires shared mysql storage")
	}
	logger.Init(serviceName, cfg.Service.LogLevel)
	if *port == 0 {
		*port = cfg.Service.Port + 1
	}

	tracer := otel.Tracer(serviceName)
	m := metrics.New(prometheus.DefaultRegisterer)

	app, err := core.Assemble(context.Background(), cfg, nacosClient, tracer, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble checkout core")
	}

	var events checkoutport.EventPublisher = adapter.DiscardPublisher{}
	var eventWriter *adapter.EventKafkaAdapter
	if len(cfg.Infra.Kafka.Brokers) > 0 && cfg.Infra.Kafka.EventTopic != "" {
		eventWriter = adapter.NewEventKafkaAdapter(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.EventTopic))
		events = eventWriter
	}

	leader, zkConn, err := newLeader(cfg, app)
	if err != nil {
		app.Close()
		log.Fatal().Err(err).Str("backend", cfg.Sweeper.LeaderBackend).Msg("failed to create leader lock")
	}

	sweeper := reconapp.NewSweeper(core.SweeperConfig(cfg), reconapp.Dependencies{
		Holds:    app.Holds,
		Orders:   app.Orders,
		Payments: app.Payments,
		Gateway:  app.Gateway,
		Events:   events,
		Guard:    app.Guard,
		Leader:   leader,
	}, tracer, m)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        *port,
		Tracing: tracing.Config{
			Endpoint:    cfg.Infra.Jaeger.Endpoint,
			SampleRatio: cfg.Infra.Jaeger.SampleRatio,
			Environment: cfg.Service.Environment,
		},
		Nacos: nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("GET /metrics", promhttp.Handler())
		},
		Background: []func(ctx context.Context){sweeper.Run},
		OnShutdown: []func(ctx context.Context){func(context.Context) {
			if eventWriter != nil {
				if err := eventWriter.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing event writer")
				}
			}
			if zkConn != nil {
				zkConn.Close()
			}
			app.Close()
		}},
	})
}

// newLeader 按配置选择 Redis 租约或 ZooKeeper 顺序节点作为选主机制。
func newLeader(cfg *config.Config, app *core.Core) (domain.LeaderLock, *zk.Conn, error) {
	switch cfg.Sweeper.LeaderBackend {
	case config.LeaderZookeeper:
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		lock, err := zookeeper.NewDistributedLock(conn, leaderLockID)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		// 每个周期最多等待十分之一个轮询间隔
		return reconinfra.NewZookeeperLeader(lock, cfg.Sweeper.Interval/10), conn, nil
	default:
		return reconinfra.NewRedisLeader(app.Redis, cfg.Sweeper.LeaseTTL), nil, nil
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
