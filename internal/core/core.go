// Package core 按配置组装结算核心的各个组件，供各个可执行程序共用。
package core

import (
	"context"

	"checkoutcore/internal/pkg/bootstrap"
	"checkoutcore/internal/pkg/config"
	"checkoutcore/internal/pkg/database"
	"checkoutcore/internal/pkg/httpclient"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/pkg/nacos"
	"checkoutcore/internal/pkg/redis"
	checkout "checkoutcore/internal/service/checkout/domain"
	"checkoutcore/internal/service/checkout/domain/port"
	checkoutinfra "checkoutcore/internal/service/checkout/infrastructure"
	"checkoutcore/internal/service/checkout/infrastructure/adapter"
	invapp "checkoutcore/internal/service/inventory/application"
	invdomain "checkoutcore/internal/service/inventory/domain"
	invinfra "checkoutcore/internal/service/inventory/infrastructure"
	reconapp "checkoutcore/internal/service/reconciliation/application"
	routingapp "checkoutcore/internal/service/routing/application"
	rdomain "checkoutcore/internal/service/routing/domain"
	routinginfra "checkoutcore/internal/service/routing/infrastructure"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Core 持有组装好的领域组件与需要在关停时释放的连接。
type Core struct {
	Ledger   *invapp.Ledger
	Holds    *invapp.HoldManager
	Router   *routingapp.Router
	Orders   checkout.OrderRepository
	Payments checkout.PaymentRepository
	Gateway  port.PaymentGateway
	Guard    port.CheckoutGuard
	// Redis 仅在 mysql 存储下创建
	Redis *redis.Client

	db *gorm.DB
}

// Assemble 根据 cfg.Service.Storage 选择 MySQL 或内存实现并把它们连接起来。
func Assemble(ctx context.Context, cfg *config.Config, nacosClient *nacos.Client, tracer trace.Tracer, m *metrics.Metrics) (*Core, error) {
	c := &Core{}

	var (
		store       invdomain.Store
		assignments rdomain.AssignmentRepository
	)
	switch cfg.Service.Storage {
	case config.StorageMySQL:
		db, err := database.OpenMySQL(cfg.Infra.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		c.db = db
		gormStore := invinfra.NewGormStore(db)
		orders := checkoutinfra.NewGormOrderRepository(db)
		assignmentRepo := routinginfra.NewGormAssignmentRepository(db)
		if cfg.Infra.MySQL.AutoMigrate {
			for _, mig := range []func(context.Context) error{gormStore.AutoMigrate, orders.AutoMigrate, assignmentRepo.AutoMigrate} {
				if err := mig(ctx); err != nil {
					c.Close()
					return nil, errors.Wrap(err, "auto migrate")
				}
			}
		}
		store, assignments = gormStore, assignmentRepo
		c.Orders, c.Payments = orders, checkoutinfra.NewGormPaymentRepository(db)

		rdb, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = rdb
		c.Guard = adapter.NewRedisGuard(rdb, cfg.Checkout.GuardTTL)
	case config.StorageMemory:
		repo := checkoutinfra.NewMemoryRepository()
		store, assignments = invinfra.NewMemoryStore(), routinginfra.NewMemoryAssignmentRepository()
		c.Orders, c.Payments = repo, repo.Payments()
		c.Guard = adapter.NewLocalGuard()
	default:
		return nil, errors.Errorf("unknown storage %q", cfg.Service.Storage)
	}

	retry := invapp.WithRetryPolicy(invapp.RetryPolicy{
		Attempts: cfg.Checkout.ReserveAttempts,
		Backoff:  cfg.Checkout.ReserveBackoff,
	})
	c.Ledger = invapp.NewLedger(store, tracer, m, retry)
	c.Holds = invapp.NewHoldManager(store, tracer, m, retry)

	directory := routinginfra.NewConfigDirectory(cfg.Vendors)
	policies, err := routingapp.NewPolicySet(directory.Eligibility())
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Router = routingapp.NewRouter(checkoutinfra.NewRoutableOrderReader(c.Orders), directory, c.Ledger, assignments, policies, tracer).
		WithReservations(c.Holds)

	gatewayURL := bootstrap.ResolveServiceURL(nacosClient, cfg.Infra.Payment.ServiceName, cfg.Infra.Payment.BaseURL)
	c.Gateway = adapter.NewPaymentHTTPAdapter(httpclient.NewClient(tracer), gatewayURL)

	log.Info().
		Str("storage", cfg.Service.Storage).
		Str("payment_gateway", gatewayURL).
		Int("vendors", len(cfg.Vendors)).
		Msg("✅ Checkout core assembled.")
	return c, nil
}

// Close 释放 Redis 与数据库连接。
func (c *Core) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing redis client")
		}
	}
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// SweeperConfig 把配置文件中的清扫参数转换成清扫器配置。
func SweeperConfig(cfg *config.Config) reconapp.Config {
	return reconapp.Config{
		Interval:     cfg.Sweeper.Interval,
		HoldTTL:      cfg.Sweeper.HoldTTL,
		CaptureGrace: cfg.Sweeper.CaptureGrace,
		BatchSize:    cfg.Sweeper.BatchSize,
	}
}
