// Package feed broadcasts live trade ticks to subscribers, both in-process
// (a Go channel fan-out, the natural shape for the AI loop and tests) and
// over the network via github.com/gorilla/websocket, grounded on
// 0xtitan6-polymarket-mm/internal/api/stream.go's register/unregister/
// broadcast hub loop.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"bourse/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	broadcastDepth = 256
	clientSendDepth = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected websocket subscriber.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub is the trade-tick broadcaster. It satisfies execution.TickPublisher.
type Hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu          sync.RWMutex
	wsClients   map[*wsClient]bool
	subscribers map[chan domain.Transaction]bool
}

func NewHub() *Hub {
	return &Hub{
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
		broadcast:   make(chan []byte, broadcastDepth),
		wsClients:   make(map[*wsClient]bool),
		subscribers: make(map[chan domain.Transaction]bool),
	}
}

// Run drives the hub's register/unregister/broadcast loop; call it in its
// own goroutine, typically under the owning tomb.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.wsClients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.wsClients[c]; ok {
				delete(h.wsClients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.wsClients {
				select {
				case c.send <- msg:
				default:
					log.Warn().Msg("feed: client too slow, dropping connection")
					close(c.send)
					delete(h.wsClients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishTrade implements execution.TickPublisher: it fans a settled trade
// out to every in-process subscriber and every websocket client.
func (h *Hub) PublishTrade(trade domain.Transaction) {
	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- trade:
		default:
			log.Warn().Int64("stockId", trade.StockId).Msg("feed: subscriber channel full, dropping tick")
		}
	}
	h.mu.RUnlock()

	data, err := json.Marshal(trade)
	if err != nil {
		log.Error().Err(err).Msg("feed: failed to marshal trade for broadcast")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("feed: broadcast channel full, dropping tick")
	}
}

// Subscribe registers an in-process channel to receive every published
// trade. The returned func unregisters it.
func (h *Hub) Subscribe(buffer int) (<-chan domain.Transaction, func()) {
	ch := make(chan domain.Transaction, buffer)
	h.mu.Lock()
	h.subscribers[ch] = true
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if h.subscribers[ch] {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and registers
// it with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("feed: websocket upgrade failed")
		return
	}
	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, clientSendDepth)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// writePump relays broadcast messages to the socket and pings to keep it
// alive, mirroring the teacher pack's ticker-driven write loop.
func (c *wsClient) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, nil)
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

// readPump discards client input but keeps the read deadline alive so pongs
// are observed; when the client disconnects it unregisters itself.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
