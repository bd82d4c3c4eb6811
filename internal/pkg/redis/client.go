// Package redis 在 go-redis 之上提供 Lua 脚本注册表与基于令牌的互斥锁。
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 UniversalClient，单机与集群部署使用同一套接口。
type Client struct {
	rdb     goredis.UniversalClient
	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 建立连接并做一次 PING 检查。
func NewClient(ctx context.Context, addrs []string, password string) (*Client, error) {
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %v: %w", addrs, err)
	}
	return NewFromUniversal(rdb), nil
}

// NewFromUniversal 包装一个已有的客户端。
func NewFromUniversal(rdb goredis.UniversalClient) *Client {
	c := &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}
	c.LoadScriptFromContent(releaseScriptName, releaseScript)
	c.LoadScriptFromContent(extendScriptName, extendScript)
	return c
}

// LoadScriptFromContent 以名字注册一段 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(src)
}

// RunScript 执行已注册的脚本（优先 EVALSHA，未缓存时回退 EVAL）。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis script %q not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

const (
	releaseScriptName = "mutex_release"
	extendScriptName  = "mutex_extend"
)

// 只有持有令牌的一方才能删除或续期锁
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Mutex 是一把带 TTL 的单 key 互斥锁。
type Mutex struct {
	client *Client
	key    string
	ttl    time.Duration
	token  string
}

func (c *Client) NewMutex(key string, ttl time.Duration) *Mutex {
	return &Mutex{client: c, key: key, ttl: ttl}
}

// TryLock 非阻塞地尝试加锁。
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := m.client.rdb.SetNX(ctx, m.key, token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis mutex %s: %w", m.key, err)
	}
	if ok {
		m.token = token
	}
	return ok, nil
}

// Extend 续期，锁已易主时返回 false。
func (m *Mutex) Extend(ctx context.Context) (bool, error) {
	if m.token == "" {
		return false, nil
	}
	res, err := m.client.RunScript(ctx, extendScriptName, []string{m.key}, m.token, m.ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Unlock 释放锁；锁已过期或易主时静默返回。
func (m *Mutex) Unlock(ctx context.Context) error {
	if m.token == "" {
		return nil
	}
	_, err := m.client.RunScript(ctx, releaseScriptName, []string{m.key}, m.token)
	m.token = ""
	return err
}
