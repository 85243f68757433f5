package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereayou/clubchat/internal/middleware"
	ws "github.com/thereayou/clubchat/internal/websocket"
	applog "github.com/thereayou/clubchat/pkg/log"
	"github.com/thereayou/clubchat/pkg/response"
)

// WebSocketHandler upgrades authenticated requests and hands the connection to
// the hub.
type WebSocketHandler struct {
	hub            *ws.Hub
	messageHandler ws.ClientMessageHandler
	upgrader       websocket.Upgrader
}

// NewWebSocketHandler builds the upgrader. An empty allowedOrigins keeps
// gorilla's same-host check; "*" accepts any origin.
func NewWebSocketHandler(hub *ws.Hub, messageHandler ws.ClientMessageHandler, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		messageHandler: messageHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[strings.ToLower(origin)]
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		applog.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, ident)
	h.hub.Register(client)

	applog.Ctx(client.Context()).Info().Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(h.messageHandler)
}
