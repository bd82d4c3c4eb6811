// Package config 负责加载与校验服务配置。
// 配置来源依次叠加：内置默认值 -> YAML 文件 -> 环境变量 -> （可选）Nacos 配置中心。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	LeaderRedis     = "redis"
	LeaderZookeeper = "zookeeper"
)

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Infra    InfraConfig    `yaml:"infra"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Vendors  []VendorConfig `yaml:"vendors"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	Environment string `yaml:"environment"`
	Storage     string `yaml:"storage"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Payment   PaymentConfig   `yaml:"payment"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type MySQLConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	EventTopic    string   `yaml:"eventTopic"`
	CheckoutTopic string   `yaml:"checkoutTopic"`
	GroupID       string   `yaml:"groupId"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"dataId"`
}

type PaymentConfig struct {
	BaseURL string `yaml:"baseUrl"`
	// ServiceName 非空且启用 Nacos 时，通过服务发现解析网关地址
	ServiceName string `yaml:"serviceName"`
}

// CheckoutConfig 控制编排器的超时与重试。
type CheckoutConfig struct {
	ProcessingTimeout time.Duration `yaml:"processingTimeout"`
	GatewayTimeout    time.Duration `yaml:"gatewayTimeout"`
	FinalizeAttempts  int           `yaml:"finalizeAttempts"`
	FinalizeBackoff   time.Duration `yaml:"finalizeBackoff"`
	GuardTTL          time.Duration `yaml:"guardTtl"`
	ReserveAttempts   int           `yaml:"reserveAttempts"`
	ReserveBackoff    time.Duration `yaml:"reserveBackoff"`
}

// SweeperConfig 控制对账清扫器。
type SweeperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	HoldTTL       time.Duration `yaml:"holdTtl"`
	CaptureGrace  time.Duration `yaml:"captureGrace"`
	SafetyMargin  time.Duration `yaml:"safetyMargin"`
	BatchSize     int           `yaml:"batchSize"`
	LeaderBackend string        `yaml:"leaderBackend"`
	LeaseTTL      time.Duration `yaml:"leaseTtl"`
}

// VendorConfig 显式列出商家的履约地点和可选的 CEL 资格表达式。
type VendorConfig struct {
	ID          string           `yaml:"id"`
	Eligibility string           `yaml:"eligibility"`
	Locations   []LocationConfig `yaml:"locations"`
}

type LocationConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
	Active bool   `yaml:"active"`
}

// Default 返回一份可直接在本地运行的默认配置。
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "checkout-service",
			Port:     8080,
			LogLevel: "info",
			Storage:  StorageMySQL,
		},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			MySQL:  MySQLConfig{DSN: "root:root@tcp(localhost:3306)/checkout?charset=utf8mb4&parseTime=True&loc=UTC"},
			Redis:  RedisConfig{Addrs: []string{"localhost:6379"}},
			Kafka: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				EventTopic:    "order-events",
				CheckoutTopic: "checkout-requests",
				GroupID:       "checkout-service",
			},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP", DataID: "checkout-service.yaml"},
			Payment:   PaymentConfig{BaseURL: "http://localhost:8090"},
		},
		Checkout: CheckoutConfig{
			ProcessingTimeout: 30 * time.Second,
			GatewayTimeout:    10 * time.Second,
			FinalizeAttempts:  3,
			FinalizeBackoff:   200 * time.Millisecond,
			GuardTTL:          time.Minute,
			ReserveAttempts:   3,
			ReserveBackoff:    50 * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Interval:      time.Minute,
			HoldTTL:       15 * time.Minute,
			CaptureGrace:  5 * time.Minute,
			SafetyMargin:  time.Minute,
			BatchSize:     100,
			LeaderBackend: LeaderRedis,
			LeaseTTL:      2 * time.Minute,
		},
	}
}

// Load 读取 path 指向的 YAML（path 为空或文件不存在时跳过），再叠加环境变量并校验。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.Merge(data); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge 将一段 YAML 覆盖到当前配置上，未出现的字段保持不变。
func (c *Config) Merge(data []byte) error {
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.Service.Name = getEnv("SERVICE_NAME", c.Service.Name)
	c.Service.Port = getEnvInt("PORT", c.Service.Port)
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)
	c.Service.Storage = getEnv("STORAGE", c.Service.Storage)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addrs = getEnvList("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Zookeeper.Servers = getEnvList("ZK_SERVERS", c.Infra.Zookeeper.Servers)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.Infra.Nacos.Enabled = getEnv("NACOS_ENABLED", strconv.FormatBool(c.Infra.Nacos.Enabled)) == "true"
	c.Infra.Payment.BaseURL = getEnv("PAYMENT_BASE_URL", c.Infra.Payment.BaseURL)
	c.Sweeper.LeaderBackend = getEnv("SWEEPER_LEADER_BACKEND", c.Sweeper.LeaderBackend)
}

// Validate 校验跨字段约束。
func (c *Config) Validate() error {
	if c.Service.Storage != StorageMySQL && c.Service.Storage != StorageMemory {
		return fmt.Errorf("config: unknown storage %q", c.Service.Storage)
	}
	if c.Checkout.FinalizeAttempts < 1 {
		return fmt.Errorf("config: checkout.finalizeAttempts must be >= 1")
	}
	if c.Checkout.ReserveAttempts < 1 {
		return fmt.Errorf("config: checkout.reserveAttempts must be >= 1")
	}
	if c.Checkout.GatewayTimeout <= 0 || c.Checkout.ProcessingTimeout <= 0 {
		return fmt.Errorf("config: checkout timeouts must be positive")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("config: sweeper.interval must be positive")
	}
	// 清扫器只能接手已经确定不会再被请求路径触碰的 hold
	if c.Sweeper.HoldTTL <= c.Checkout.GatewayTimeout+c.Sweeper.SafetyMargin {
		return fmt.Errorf("config: sweeper.holdTtl (%s) must exceed checkout.gatewayTimeout (%s) + sweeper.safetyMargin (%s)",
			c.Sweeper.HoldTTL, c.Checkout.GatewayTimeout, c.Sweeper.SafetyMargin)
	}
	if c.Sweeper.HoldTTL <= c.Checkout.ProcessingTimeout {
		return fmt.Errorf("config: sweeper.holdTtl (%s) must exceed checkout.processingTimeout (%s)",
			c.Sweeper.HoldTTL, c.Checkout.ProcessingTimeout)
	}
	if c.Sweeper.LeaderBackend != LeaderRedis && c.Sweeper.LeaderBackend != LeaderZookeeper {
		return fmt.Errorf("config: unknown sweeper.leaderBackend %q", c.Sweeper.LeaderBackend)
	}
	if c.Sweeper.LeaseTTL <= c.Sweeper.Interval {
		return fmt.Errorf("config: sweeper.leaseTtl (%s) must exceed sweeper.interval (%s)", c.Sweeper.LeaseTTL, c.Sweeper.Interval)
	}
	if c.Sweeper.BatchSize <= 0 {
		c.Sweeper.BatchSize = 100
	}

	seen := make(map[string]string)
	for _, v := range c.Vendors {
		if v.ID == "" {
			return fmt.Errorf("config: vendor without id")
		}
		for _, loc := range v.Locations {
			if loc.ID == "" {
				return fmt.Errorf("config: vendor %s has a location without id", v.ID)
			}
			if owner, ok := seen[loc.ID]; ok {
				return fmt.Errorf("config: location %s declared by both %s and %s", loc.ID, owner, v.ID)
			}
			seen[loc.ID] = v.ID
		}
	}
	return nil
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}
