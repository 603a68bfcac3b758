package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"pairsync/internal/network"
	"pairsync/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait      = 10 * time.Second
	clientSendSize = 32
)

var upGrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is pushed to every WebSocket client.
type Event struct {
	Type    string `json:"type"`
	Network string `json:"network"`
	Version uint64 `json:"version,omitempty"`
	Online  *bool  `json:"online,omitempty"`
}

// StoreFeed announces replaced store values.
type StoreFeed interface {
	Subscribe(ch chan<- store.Change) event.Subscription
}

// NetworkFeed announces network switches.
type NetworkFeed interface {
	Current() (name string, online bool)
	Subscribe(ch chan<- network.Change) event.Subscription
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans store and network changes out to WebSocket clients. Run must be
// active for as long as the feeds publish, since feed sends block until
// every subscriber receives.
type Hub struct {
	stores  []StoreFeed
	network NetworkFeed
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(network NetworkFeed, logger *zap.Logger, stores ...StoreFeed) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		stores:  stores,
		network: network,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run relays changes until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	storeCh := make(chan store.Change, 64)
	subs := make([]event.Subscription, 0, len(h.stores)+1)
	for _, feed := range h.stores {
		subs = append(subs, feed.Subscribe(storeCh))
	}
	netCh := make(chan network.Change, 16)
	if h.network != nil {
		subs = append(subs, h.network.Subscribe(netCh))
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-storeCh:
			h.broadcast(Event{Type: change.Store, Network: change.Key, Version: change.Version})
		case change := <-netCh:
			online := change.Online
			h.broadcast(Event{Type: "network", Network: change.Name, Online: &online})
		}
	}
}

// ServeWS upgrades the request and greets the client with the active network.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upGrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, clientSendSize)}
	if h.network != nil {
		name, online := h.network.Current()
		if msg, err := json.Marshal(Event{Type: "network", Network: name, Online: &online}); err == nil {
			cl.send <- msg
		}
	}
	if !h.register(cl) {
		conn.Close()
		return
	}

	go h.writeLoop(cl)
	h.readLoop(cl)
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	h.logger.Debug("websocket client connected", zap.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode websocket event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			// slow client
			delete(h.clients, cl)
			close(cl.send)
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	defer cl.conn.Close()
	for msg := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			h.remove(cl)
			for range cl.send {
			}
			return
		}
	}
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(cl *client) {
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			h.remove(cl)
			return
		}
	}
}
