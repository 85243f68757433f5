package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	applog "github.com/thereayou/clubchat/pkg/log"
)

const (
	relayPublishTimeout = 2 * time.Second
	relayQueueSize      = 1024
)

// Config tunes the per-connection pumps.
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 512 * 1024,
		SendBuffer:     256,
	}
}

// Hub owns room membership. Nothing outside this package touches the room
// sets; callers go through Join, Leave and the Send methods.
type Hub struct {
	cfg        Config
	instanceID string
	relay      Relay

	clients map[uuid.UUID]*Client

	// one user may hold several connections
	userClients map[uint64]map[uuid.UUID]*Client

	rooms map[uint64]map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client

	// envelopes waiting for the relay, drained by one goroutine started in Run
	outbox chan Envelope

	mu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewHub creates a hub. relay may be nil for a single instance.
func NewHub(cfg Config, relay Relay) *Hub {
	def := DefaultConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:         cfg,
		instanceID:  uuid.NewString(),
		relay:       relay,
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uint64]map[uuid.UUID]*Client),
		rooms:       make(map[uint64]map[uuid.UUID]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		outbox:      make(chan Envelope, relayQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) InstanceID() string { return h.instanceID }

// Run processes registrations until Stop.
func (h *Hub) Run() {
	if h.relay != nil {
		if err := h.relay.Subscribe(h.ctx, h.deliverRemote); err != nil {
			applog.L().Error().Err(err).Msg("hub relay subscribe failed, running local only")
		}
		go h.drainOutbox()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// Stop closes every connection queue. Write pumps send a close frame and exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, client := range h.clients {
			client.close()
		}
		h.clients = make(map[uuid.UUID]*Client)
		h.userClients = make(map[uint64]map[uuid.UUID]*Client)
		h.rooms = make(map[uint64]map[uuid.UUID]*Client)

		if h.relay != nil {
			if err := h.relay.Close(); err != nil {
				applog.L().Warn().Err(err).Msg("hub relay close failed")
			}
		}
	})
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.isClosed() {
		return
	}

	h.clients[client.ID] = client
	if _, ok := h.userClients[client.Identity.UserID]; !ok {
		h.userClients[client.Identity.UserID] = make(map[uuid.UUID]*Client)
	}
	h.userClients[client.Identity.UserID][client.ID] = client
	client.setState(StateAuthenticated)

	applog.L().Debug().
		Str(applog.FieldConnID, client.ID.String()).
		Uint64(applog.FieldUserID, client.Identity.UserID).
		Msg("client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, roomID := range client.Rooms() {
		h.removeFromRoomLocked(client, roomID)
	}

	if userClients, ok := h.userClients[client.Identity.UserID]; ok {
		delete(userClients, client.ID)
		if len(userClients) == 0 {
			delete(h.userClients, client.Identity.UserID)
		}
	}

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		applog.L().Debug().
			Str(applog.FieldConnID, client.ID.String()).
			Uint64(applog.FieldUserID, client.Identity.UserID).
			Msg("client unregistered")
	}
	client.close()
}

// Join adds the connection to a room and acks with the room's current users.
// Joining a room twice changes nothing but still acks.
func (h *Hub) Join(client *Client, roomID uint64) error {
	if roomID == 0 {
		return ErrRoomRequired
	}

	h.mu.Lock()
	if client.isClosed() {
		h.mu.Unlock()
		return ErrClientClosed
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[roomID][client.ID] = client
	client.addRoom(roomID)
	users := h.roomUsersLocked(roomID)
	h.mu.Unlock()

	return client.SendMessage(EventJoined, roomID, JoinedData{RoomID: roomID, Users: users})
}

// Leave removes the connection from a room. Leaving a room it is not in is a
// no-op that still acks.
func (h *Hub) Leave(client *Client, roomID uint64) error {
	if roomID == 0 {
		return ErrRoomRequired
	}

	h.mu.Lock()
	h.removeFromRoomLocked(client, roomID)
	h.mu.Unlock()

	return client.SendMessage(EventLeft, roomID, nil)
}

func (h *Hub) removeFromRoomLocked(client *Client, roomID uint64) {
	if room, ok := h.rooms[roomID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.removeRoom(roomID)
}

// EmitToRoom marshals ev and fans it out to the room.
func (h *Hub) EmitToRoom(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.SendToRoom(ev.RoomID, data)
	return nil
}

// EmitToUser marshals ev and sends it to every connection of userID.
func (h *Hub) EmitToUser(userID uint64, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.SendToUser(userID, data)
	return nil
}

// SendToRoom delivers to every connection joined to roomID, here and on the
// other instances.
func (h *Hub) SendToRoom(roomID uint64, message []byte) {
	h.SendToRoomExcept(roomID, message, uuid.Nil)
}

func (h *Hub) SendToRoomExcept(roomID uint64, message []byte, exclude uuid.UUID) {
	h.deliverRoom(roomID, message, exclude)
	h.publish(Envelope{RoomID: roomID, Exclude: exclude, Payload: message})
}

// SendToUser delivers to every connection of userID regardless of rooms.
func (h *Hub) SendToUser(userID uint64, message []byte) {
	h.deliverUser(userID, message)
	h.publish(Envelope{UserID: userID, Payload: message})
}

// BroadcastTyping relays a typing indicator from client to the rest of the room.
func (h *Hub) BroadcastTyping(client *Client, roomID uint64, started bool) error {
	if roomID == 0 {
		return ErrRoomRequired
	}
	if !client.IsInRoom(roomID) {
		return ErrUserNotInRoom
	}

	t := EventTypingStop
	if started {
		t = EventTypingStart
	}
	ev, err := NewEvent(t, roomID, client.Identity.UserID, TypingData{UserName: client.Identity.DisplayName})
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.SendToRoomExcept(roomID, data, client.ID)
	return nil
}

func (h *Hub) deliverRoom(roomID uint64, message []byte, exclude uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[roomID] {
		if client.ID == exclude {
			continue
		}
		h.enqueue(client, message)
	}
}

func (h *Hub) deliverUser(userID uint64, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.userClients[userID] {
		h.enqueue(client, message)
	}
}

// enqueue never blocks; a full queue loses the frame for that connection only.
func (h *Hub) enqueue(client *Client, message []byte) {
	if err := client.enqueue(message); err != nil {
		applog.L().Warn().
			Err(err).
			Str(applog.FieldConnID, client.ID.String()).
			Uint64(applog.FieldUserID, client.Identity.UserID).
			Msg("dropping event")
	}
}

// publish queues env for the relay without blocking; a full queue drops it.
func (h *Hub) publish(env Envelope) {
	if h.relay == nil {
		return
	}
	env.Origin = h.instanceID

	select {
	case h.outbox <- env:
	default:
		applog.L().Warn().
			Uint64(applog.FieldRoomID, env.RoomID).
			Uint64(applog.FieldUserID, env.UserID).
			Msg("relay queue full, dropping envelope")
	}
}

func (h *Hub) drainOutbox() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case env := <-h.outbox:
			ctx, cancel := context.WithTimeout(h.ctx, relayPublishTimeout)
			if err := h.relay.Publish(ctx, env); err != nil {
				applog.L().Warn().Err(err).Uint64(applog.FieldRoomID, env.RoomID).Msg("relay publish failed")
			}
			cancel()
		}
	}
}

func (h *Hub) deliverRemote(env Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	switch {
	case env.RoomID != 0:
		h.deliverRoom(env.RoomID, env.Payload, env.Exclude)
	case env.UserID != 0:
		h.deliverUser(env.UserID, env.Payload)
	}
}

func (h *Hub) roomUsersLocked(roomID uint64) []uint64 {
	seen := make(map[uint64]bool)
	users := make([]uint64, 0)
	for _, c := range h.rooms[roomID] {
		if !seen[c.Identity.UserID] {
			seen[c.Identity.UserID] = true
			users = append(users, c.Identity.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// GetRoomUsers returns the distinct users with a connection joined to roomID.
func (h *Hub) GetRoomUsers(roomID uint64) []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomUsersLocked(roomID)
}

// GetOnlineUsers returns every user with at least one live connection.
func (h *Hub) GetOnlineUsers() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]uint64, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
