package hub

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
	"github.com/Phuc-Java/forum-sub000/internal/service"
	"github.com/Phuc-Java/forum-sub000/internal/transport"
)

// Hub owns one websocket client per signed-in user. Inbound frames are
// call intents dispatched to that user's coordinator; outbound frames are
// prompts, state changes and notices. Feed events from the watcher fan out
// to every client's reconciler queue, and each client keeps only what is
// relevant to it.
type Hub struct {
	register   chan *Client
	unregister chan *Client

	onlineUsers   map[string]*Client
	onlineUsersMu sync.RWMutex

	sessions      repo.SessionRepository
	conversations repo.ConversationRepository
	media         transport.Transport
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(sessions repo.SessionRepository, conversations repo.ConversationRepository, media transport.Transport, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:      make(chan *Client, 1024),
		unregister:    make(chan *Client, 1024),
		onlineUsers:   make(map[string]*Client),
		sessions:      sessions,
		conversations: conversations,
		media:         media,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}

	// run manager loop
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run()
	}()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.onlineUsersMu.Lock()
	// One live connection per user; a reconnect supersedes the old one.
	if old, ok := h.onlineUsers[c.userID]; ok {
		old.Close()
	}
	h.onlineUsers[c.userID] = c
	h.onlineUsersMu.Unlock()

	log.Printf("client %s registered for user %s", c.ID, c.userID)
}

func (h *Hub) removeClient(c *Client) {
	h.onlineUsersMu.Lock()
	if current, ok := h.onlineUsers[c.userID]; ok && current == c {
		delete(h.onlineUsers, c.userID)
	}
	h.onlineUsersMu.Unlock()

	c.Close()
	log.Printf("client %s removed for user %s", c.ID, c.userID)
}

// Enqueue implements feed.Sink: every connected client's reconciler gets
// the event and decides its own relevance.
func (h *Hub) Enqueue(ev event.FeedEvent) bool {
	h.onlineUsersMu.RLock()
	clients := make([]*Client, 0, len(h.onlineUsers))
	for _, c := range h.onlineUsers {
		clients = append(clients, c)
	}
	h.onlineUsersMu.RUnlock()

	delivered := true
	for _, c := range clients {
		if !c.recon.Enqueue(ev) {
			delivered = false
		}
	}
	return delivered
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.onlineUsersMu.RLock()
	defer h.onlineUsersMu.RUnlock()
	return len(h.onlineUsers)
}

// InCallCount returns the number of clients currently bound to a call.
func (h *Hub) InCallCount() int {
	h.onlineUsersMu.RLock()
	defer h.onlineUsersMu.RUnlock()

	inCall := service.FilterMap(h.onlineUsers, func(_ string, c *Client) bool {
		return c.coord.Snapshot().InCall()
	})
	return len(inCall)
}

// Stop closes all client connections and waits for the manager loop.
func (h *Hub) Stop() {
	h.cancel()

	h.onlineUsersMu.RLock()
	for _, c := range h.onlineUsers {
		c.Close()
	}
	h.onlineUsersMu.RUnlock()

	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	switch origin {
	case "", "http://localhost:3000":
		return true
	default:
		return false
	}
}

// ServeWS upgrades the connection and registers a client for the user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, displayName string) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	RegisterClient(userID, displayName, conn, h)
}
