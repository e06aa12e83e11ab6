// =============================================================================
// 文件: internal/trace/hub.go
// 描述: WebSocket 事件广播 - 订阅者通过 /trace 接收 JSON 事件流
// =============================================================================
package trace

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	subscriberBuffer = 256
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

// Hub WebSocket 订阅者集合
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	wg     sync.WaitGroup

	dropped uint64
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub 创建广播中心
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:  log.With().Str("component", "trace-hub").Logger(),
		subs: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP 升级连接并注册订阅者
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("WebSocket 升级失败")
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("新的事件订阅者")

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 因订阅者过慢丢弃的消息数
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Publish 广播事件，订阅者缓冲已满时丢弃
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return
	}
	data, err := ev.Marshal()
	if err != nil {
		return
	}
	for sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

// Close 断开全部订阅者
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for sub := range h.subs {
		sub.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case <-sub.done:
			sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}

// readLoop 只处理控制帧，连接关闭时注销订阅者
func (h *Hub) readLoop(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("订阅者连接断开")
			}
			return
		}
	}
}
