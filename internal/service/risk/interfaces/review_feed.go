package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/domain"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongTimeout  = 60 * time.Second
	feedPingPeriod   = 54 * time.Second
	feedSendBuffer   = 64
)

// ReviewMessage 是推送给审核台的消息
type ReviewMessage struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Assessment *domain.Assessment `json:"assessment"`
	Timestamp  time.Time          `json:"timestamp"`
}

type feedClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// ReviewFeedHub 把需要人工关注的评估 (review / reject) 推送给已连接的审核台。
// 它同时实现 port.DecisionPublisher。
type ReviewFeedHub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]*feedClient
	upgrader websocket.Upgrader
}

func NewReviewFeedHub() *ReviewFeedHub {
	return &ReviewFeedHub{
		clients: map[uuid.UUID]*feedClient{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *ReviewFeedHub) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /review/ws", h)
}

// ServeHTTP 升级为 websocket 连接
func (h *ReviewFeedHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	c := &feedClient{id: uuid.New(), conn: conn, send: make(chan []byte, feedSendBuffer)}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	logger.Ctx(r.Context()).Info().Str("client_id", c.id.String()).Msg("Review console connected")

	go h.writePump(c)
	go h.readPump(c)
}

// Publish 广播 review / reject 评估，慢客户端会被断开
func (h *ReviewFeedHub) Publish(ctx context.Context, a *domain.Assessment) error {
	if a.Decision == domain.DecisionAllow {
		return nil
	}
	payload, err := json.Marshal(ReviewMessage{
		ID:         uuid.New().String(),
		Type:       string(a.Decision),
		Assessment: a,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	var slow []*feedClient
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logger.Ctx(ctx).Warn().Str("client_id", c.id.String()).Msg("Review console too slow, disconnecting")
		h.remove(c)
	}
	return nil
}

// ClientCount 返回当前连接数
func (h *ReviewFeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有连接
func (h *ReviewFeedHub) Close(context.Context) error {
	h.mu.RLock()
	clients := make([]*feedClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
	return nil
}

// remove 只会关闭一次 send 通道
func (h *ReviewFeedHub) remove(c *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()
}

func (h *ReviewFeedHub) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump 只处理 pong 和关闭，审核台不会发业务消息
func (h *ReviewFeedHub) readPump(c *feedClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
