package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thereayou/clubchat/internal/models"
	applog "github.com/thereayou/clubchat/pkg/log"
)

// ConnState is the lifecycle of one connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientMessageHandler handles frames the hub does not handle itself.
type ClientMessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, ev *Event) error
}

type Client struct {
	ID       uuid.UUID
	Identity models.Identity
	Conn     *websocket.Conn
	Hub      *Hub

	send chan []byte
	ctx  context.Context

	mu     sync.RWMutex
	rooms  map[uint64]bool
	state  ConnState
	closed bool
}

// NewClient wraps an upgraded connection. Identity must already be resolved.
func NewClient(hub *Hub, conn *websocket.Conn, identity models.Identity) *Client {
	id := uuid.New()
	logger := applog.L().With().
		Str(applog.FieldConnID, id.String()).
		Uint64(applog.FieldUserID, identity.UserID).
		Logger()

	return &Client{
		ID:       id,
		Identity: identity,
		Conn:     conn,
		Hub:      hub,
		send:     make(chan []byte, hub.cfg.SendBuffer),
		ctx:      applog.WithLogger(context.Background(), logger),
		rooms:    make(map[uint64]bool),
		state:    StateConnecting,
	}
}

// Context carries the connection-scoped logger.
func (c *Client) Context() context.Context { return c.ctx }

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump(handler ClientMessageHandler) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	cfg := c.Hub.cfg
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	logger := applog.Ctx(c.ctx)
	for {
		var ev Event
		err := c.Conn.ReadJSON(&ev)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.SendError(ErrInvalidMessage.Error())
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}

		ev.UserID = c.Identity.UserID

		switch ev.Type {
		case EventJoin:
			err = c.Hub.Join(c, ev.RoomID)
		case EventLeave:
			err = c.Hub.Leave(c, ev.RoomID)
		default:
			if handler == nil {
				err = ErrUnknownEvent
			} else {
				err = handler.HandleMessage(c.ctx, c, &ev)
			}
		}

		if err != nil {
			logger.Debug().Err(err).Str(applog.FieldEvent, string(ev.Type)).Msg("event rejected")
			c.SendError(err.Error())
		}
	}
}

// WritePump drains the queue to the socket and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	cfg := c.Hub.cfg
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// flush whatever queued up meanwhile under the same deadline
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.send
				if !ok {
					_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues one event for this connection only.
func (c *Client) SendMessage(t EventType, roomID uint64, data interface{}) error {
	ev, err := NewEvent(t, roomID, c.Identity.UserID, data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

func (c *Client) SendError(errorMsg string) {
	_ = c.SendMessage(EventError, 0, ErrorData{Error: errorMsg})
}

func (c *Client) enqueue(message []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		return ErrClientQueueFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed
	c.rooms = make(map[uint64]bool)
	close(c.send)
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if s == StateAuthenticated && len(c.rooms) > 0 {
		s = StateJoined
	}
	c.state = s
}

func (c *Client) addRoom(roomID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rooms[roomID] = true
	c.state = StateJoined
}

func (c *Client) removeRoom(roomID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
	if !c.closed && len(c.rooms) == 0 && c.state == StateJoined {
		c.state = StateAuthenticated
	}
}

func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) IsInRoom(roomID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

func (c *Client) Rooms() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]uint64, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}
