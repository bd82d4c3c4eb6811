package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
service:
  name: checkout-test
  port: 9090
  storage: memory
checkout:
  gatewayTimeout: 5s
  finalizeAttempts: 4
sweeper:
  holdTtl: 10m
  safetyMargin: 30s
vendors:
  - id: vendor-1
    eligibility: location.region == "east"
    locations:
      - id: loc-a
        region: east
        active: true
      - id: loc-b
        region: west
        active: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "checkout-test", cfg.Service.Name)
	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, StorageMemory, cfg.Service.Storage)
	assert.Equal(t, 5*time.Second, cfg.Checkout.GatewayTimeout)
	assert.Equal(t, 4, cfg.Checkout.FinalizeAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.HoldTTL)
	// 未在文件中出现的字段保持默认值
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	require.Len(t, cfg.Vendors, 1)
	assert.Len(t, cfg.Vendors[0].Locations, 2)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "checkout-service", cfg.Service.Name)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Service.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "hold ttl must exceed gateway timeout plus margin",
			mutate: func(c *Config) {
				c.Checkout.GatewayTimeout = 10 * time.Minute
				c.Sweeper.HoldTTL = 10 * time.Minute
			},
			wantErr: "sweeper.holdTtl",
		},
		{
			name:    "finalize attempts",
			mutate:  func(c *Config) { c.Checkout.FinalizeAttempts = 0 },
			wantErr: "finalizeAttempts",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Service.Storage = "sqlite" },
			wantErr: "unknown storage",
		},
		{
			name:    "lease must outlive one interval",
			mutate:  func(c *Config) { c.Sweeper.LeaseTTL = c.Sweeper.Interval },
			wantErr: "sweeper.leaseTtl",
		},
		{
			name:    "unknown leader backend",
			mutate:  func(c *Config) { c.Sweeper.LeaderBackend = "etcd" },
			wantErr: "leaderBackend",
		},
		{
			name: "duplicate location across vendors",
			mutate: func(c *Config) {
				c.Vendors = []VendorConfig{
					{ID: "v1", Locations: []LocationConfig{{ID: "loc-a"}}},
					{ID: "v2", Locations: []LocationConfig{{ID: "loc-a"}}},
				}
			},
			wantErr: "declared by both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
