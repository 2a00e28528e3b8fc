package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/call"
	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
)

// Client is one user's websocket connection plus their call machinery.
// The read pump dispatches call intents inline, so intents from one client
// are always applied in the order they arrived.
type Client struct {
	ID          string
	userID      string
	displayName string
	conn        *websocket.Conn
	manager     *Hub
	egress      chan event.WsEvent

	coord *call.Coordinator
	recon *call.Reconciler

	// cancel or stop goroutine
	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

var (
	// tuning parameters
	writeWait         = 10 * time.Second    // time allowed to write a message to the peer
	pongWait          = 20 * time.Second    // time allowed to read the next pong message from the peer
	pingInterval      = (pongWait * 9) / 10 // send pings to peer with this period
	maxMessageSize    = 64 * 1024           // max inbound message size (64KB)
	sendBufSize       = 256                 // per-connection outbound buffer size
	sendTimeout       = 2 * time.Second     // timeout for enqueuing outbound messages
	registerTimeout   = 5 * time.Second     // timeout for client registration
	unregisterTimeout = 5 * time.Second     // timeout for client unregistration
	intentTimeout     = 15 * time.Second    // budget for one call intent, transport included
)

// RegisterClient creates a new client with a single WebSocket connection
func RegisterClient(userID, displayName string, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	clientID := uuid.New().String()

	client := &Client{
		ID:             clientID,
		userID:         userID,
		displayName:    displayName,
		conn:           conn,
		manager:        h,
		egress:         make(chan event.WsEvent, sendBufSize),
		cancel:         cancel,
		ctx:            ctx,
		once:           sync.Once{},
		connClosed:     make(chan struct{}),
		connClosedOnce: sync.Once{},
	}

	logger := h.logger.With(zap.String("user_id", userID))
	client.coord = call.NewCoordinator(userID, displayName, h.sessions, h.conversations, h.media, client, logger)
	client.recon = call.NewReconciler(client.coord, logger)

	select {
	case h.register <- client:
		go client.ReadMessages()
		go client.WriteMessage()
		go client.recon.Run(ctx)
		return client
	case <-time.After(registerTimeout):
		log.Printf("failed to register client %s: timeout", clientID)
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) ReadMessages() {
	defer func() {
		select {
		case c.manager.unregister <- c:
			// unregistered successfully
		case <-time.After(unregisterTimeout):
			log.Printf("failed to unregister client %s: timeout", c.ID)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent

			if err := c.conn.ReadJSON(&ev); err != nil {

				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					log.Printf("client disconnected: %v", c.ID)
					return
				}

				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseInternalServerErr,
					websocket.CloseProtocolError,
				) {
					log.Printf("unexpected close for %s: %v", c.ID, err)
				}

				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					log.Printf("client %s timed out - closing connection", c.ID)
					return
				}

				log.Printf("error reading from client %s: %v", c.ID, err)
				return
			}

			// Intents run inline on the read pump: one at a time, in
			// arrival order. A connect that is still waiting on the media
			// transport returns ErrOperationInFlight instead of queueing.
			c.dispatchIntent(ev)
		}
	}
}

func (c *Client) dispatchIntent(ev event.WsEvent) {
	ctx, cancel := context.WithTimeout(c.ctx, intentTimeout)
	defer cancel()

	var err error
	switch ev.Event {
	case event.EventCallStart:
		var p model.StartCallPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			err = c.coord.StartCall(ctx, p.ConversationID, p.CallType)
		}
	case event.EventCallJoin:
		var p model.JoinCallPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			err = c.coord.JoinCall(ctx, p.SessionID)
		}
	case event.EventCallAccept:
		err = c.coord.AcceptIncomingCall(ctx)
	case event.EventCallReject:
		err = c.coord.RejectIncomingCall(ctx)
	case event.EventCallLeave:
		err = c.coord.LeaveCall(ctx)
	case event.EventCallEnd:
		err = c.coord.EndCall(ctx)
	case event.EventCallInterrupted:
		c.coord.TransportInterrupted()
	case event.EventCallResumed:
		c.coord.TransportResumed()
	default:
		log.Printf("unknown event from client %s: %s", c.ID, ev.Event)
		return
	}

	if err != nil {
		c.sendError(ev.Event, err)
	}
}

func (c *Client) sendError(intent string, err error) {
	payload, marshalErr := json.Marshal(model.CallErrorEvent{
		Code:      errorCode(err),
		Error:     err.Error(),
		Timestamp: time.Now().UnixMilli(),
	})
	if marshalErr != nil {
		log.Println("marshal error: ", marshalErr)
		return
	}

	c.SafeSend(event.WsEvent{Event: event.EventCallError, Payload: payload}, sendTimeout)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, call.ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, call.ErrOperationInFlight):
		return "operation_in_flight"
	case errors.Is(err, call.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, call.ErrNoIncomingCall):
		return "no_incoming_call"
	case errors.Is(err, call.ErrTokenAcquisition):
		return "token_acquisition_failed"
	case errors.Is(err, call.ErrInvalidCallType):
		return "invalid_call_type"
	case errors.Is(err, call.ErrConversationNotFound):
		return "conversation_not_found"
	case errors.Is(err, repo.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, repo.ErrConcurrentJoinRace):
		return "join_contention"
	default:
		return "internal_error"
	}
}

func (c *Client) WriteMessage() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})

		log.Println("WriteMessage goroutine exiting for client:", c.ID)
	}()

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Closing write message: for client: %s", c.ID)
			return
		case ev, ok := <-c.egress:
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
					log.Printf("connection closed: %v", err)
				}
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Println("marshal error: ", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Println("write message error: ", err)
				return
			}
		}
	}
}

func (c *Client) pongHandler(pongMsg string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Client) Close() {
	c.once.Do(func() {
		// Mark as closed BEFORE closing the channel
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()
		close(c.egress)

		// Wait for WriteMessage to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
				// WriteMessage closed it properly
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
				log.Printf("safety timeout: force closed connection for client %s", c.ID)
			}
		}()
	})
}

// IsClosed returns true if the client has been closed
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// SafeSend attempts to send an event to the client's egress channel.
// Returns true if sent successfully, false if client is closed or timeout.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}
