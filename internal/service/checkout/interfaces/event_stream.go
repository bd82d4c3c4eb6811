package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/service/checkout/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var ErrHubClosed = errors.New("event hub is closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub 维护所有订阅订单事件的 WebSocket 连接，并负责广播。
// 它同时实现了 port.EventPublisher。
type EventHub struct {
	clients    map[*streamClient]struct{}
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan *domain.OrderEvent
	done       chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*streamClient]struct{}),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan *domain.OrderEvent, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run 处理注册、注销与广播，ctx 取消时断开所有连接。
func (h *EventHub) Run(ctx context.Context) {
	log.Info().Msg("✅ Event hub started.")
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			h.clients = nil
			close(h.done)
			log.Info().Msg("🛑 Event hub stopped.")
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("order_id", ev.OrderID).Msg("Failed to encode order event")
				continue
			}
			for c := range h.clients {
				if c.vendorID != "" && c.vendorID != ev.VendorID {
					continue
				}
				select {
				case c.send <- payload:
				default:
					// 跟不上的连接直接断开
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *EventHub) Publish(ctx context.Context, event *domain.OrderEvent) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- event:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP 把请求升级为 WebSocket 并注册到 Hub。vendorId 参数可选，用于只订阅某个商家。
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &streamClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer), vendorID: r.URL.Query().Get("vendorId")}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

type streamClient struct {
	hub      *EventHub
	conn     *websocket.Conn
	send     chan []byte
	vendorID string
}

// writePump 把 send 中的事件写入连接，并定期发送 ping。
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理心跳与关闭，连接断开时注销。
func (c *streamClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
