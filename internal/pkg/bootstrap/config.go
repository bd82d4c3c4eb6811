package bootstrap

import (
	"strconv"

	"checkoutcore/internal/pkg/config"
	"checkoutcore/internal/pkg/nacos"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LoadConfig 加载本地配置；启用 Nacos 时再叠加配置中心的 YAML 并重新校验。
// 返回的 Nacos 客户端同时用于服务注册与发现，未启用时为 nil。
func LoadConfig(path string) (*config.Config, *nacos.Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Infra.Nacos.Enabled {
		return cfg, nil, nil
	}

	client, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, nil, err
	}
	remote, err := client.GetConfig(cfg.Infra.Nacos.DataID)
	if err != nil {
		log.Warn().Err(err).Str("data_id", cfg.Infra.Nacos.DataID).Msg("Remote config unavailable, using local config")
		return cfg, client, nil
	}
	if remote != "" {
		if err := cfg.Merge([]byte(remote)); err != nil {
			client.Close()
			return nil, nil, errors.Wrapf(err, "parse nacos config %s", cfg.Infra.Nacos.DataID)
		}
		if err := cfg.Validate(); err != nil {
			client.Close()
			return nil, nil, err
		}
	}
	return cfg, client, nil
}

// ResolveServiceURL 在 Nacos 可用且给出服务名时通过服务发现解析地址，否则返回 fallback。
func ResolveServiceURL(client *nacos.Client, serviceName, fallback string) string {
	if client == nil || serviceName == "" {
		return fallback
	}
	ip, port, err := client.DiscoverServiceInstance(serviceName)
	if err != nil {
		log.Warn().Err(err).Str("service", serviceName).Str("fallback", fallback).Msg("Service discovery failed")
		return fallback
	}
	return "http://" + ip + ":" + strconv.Itoa(port)
}
