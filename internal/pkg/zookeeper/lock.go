// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

const (
	lockRoot = "/checkoutcore_locks" // 所有分布式锁的根节点
)

// Connect 建立 ZooKeeper 会话，并在后台消费会话事件。
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper connect %v: %w", servers, err)
	}
	go func() {
		for ev := range events {
			if ev.State == zk.StateExpired || ev.State == zk.StateDisconnected {
				log.Warn().Str("state", ev.State.String()).Msg("ZooKeeper session state changed")
			}
		}
	}()
	return conn, nil
}

// DistributedLock 基于临时顺序节点实现的公平锁。
type DistributedLock struct {
	conn     *zk.Conn
	path     string // 锁的路径，例如 /checkoutcore_locks/reconciliation-sweeper
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建锁实例并确保锁路径存在。
func NewDistributedLock(conn *zk.Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if _, err := conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, fmt.Errorf("failed to create lock path node %s: %w", p, err)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 阻塞直到获得锁或 ctx 结束；ctx 结束时撤回自己的节点。
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")

	for {
		// 2. 获取所有竞争者，按序号排序（受保护节点带有 GUID 前缀，不能直接按字符串排序）
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Slice(children, func(i, j int) bool { return sequenceOf(children[i]) < sequenceOf(children[j]) })

		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		switch {
		case idx == 0:
			return nil
		case idx < 0:
			l.abandon()
			return errors.New("lock node vanished, session probably expired")
		}

		// 3. 监听前一个节点
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + children[idx-1])
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

// Held 检查自己的节点是否仍然存在；会话过期后临时节点会被服务端删除。
func (l *DistributedLock) Held() (bool, error) {
	if l.lockNode == "" {
		return false, nil
	}
	exists, _, err := l.conn.Exists(l.lockNode)
	if err != nil {
		return false, fmt.Errorf("failed to check lock node: %w", err)
	}
	if !exists {
		l.lockNode = ""
	}
	return exists, nil
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

// sequenceOf 取出节点名末尾 10 位的顺序号。
func sequenceOf(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
