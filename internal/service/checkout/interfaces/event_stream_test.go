package interfaces

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkoutcore/internal/service/checkout/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestEventHub_BroadcastsByVendor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	v2 := dial(t, srv, "?vendorId=v2")
	defer v2.Close()

	// 连接注册是异步的，持续发送探测事件直到两个连接都收到
	stopProbe := make(chan struct{})
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopProbe:
				return
			case <-ticker.C:
				_ = hub.Publish(ctx, &domain.OrderEvent{OrderID: "probe", VendorID: "v2"})
			}
		}
	}()
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := all.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, v2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = v2.ReadMessage()
	require.NoError(t, err)
	close(stopProbe)
	<-probeDone

	require.NoError(t, hub.Publish(ctx, &domain.OrderEvent{OrderID: "v1-only", VendorID: "v1"}))
	require.NoError(t, hub.Publish(ctx, &domain.OrderEvent{OrderID: "o1", VendorID: "v1", Type: domain.EventOrderCompleted}))
	require.NoError(t, hub.Publish(ctx, &domain.OrderEvent{OrderID: "v2-marker", VendorID: "v2"}))
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := all.ReadMessage()
		require.NoError(t, err)
		var ev domain.OrderEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		if ev.OrderID == "o1" {
			assert.Equal(t, domain.EventOrderCompleted, ev.Type)
			break
		}
	}

	// v2 的订阅者收不到 v1 的事件
	require.NoError(t, v2.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := v2.ReadMessage()
		require.NoError(t, err)
		var ev domain.OrderEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		require.NotEqual(t, "v1-only", ev.OrderID)
		if ev.OrderID == "v2-marker" {
			break
		}
	}

	cancel()
	<-hubDone
	assert.ErrorIs(t, hub.Publish(context.Background(), &domain.OrderEvent{OrderID: "late"}), ErrHubClosed)

	// Hub 停止后服务端关闭连接
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := all.ReadMessage(); err != nil {
			break
		}
	}
}
