package handlers

import (
	"context"

	"github.com/thereayou/clubchat/internal/websocket"
	applog "github.com/thereayou/clubchat/pkg/log"
)

// MessageHandler handles the client frames the hub leaves to the application.
// Chat messages themselves go over HTTP so they pass the send rule.
type MessageHandler struct {
	hub *websocket.Hub
}

func NewMessageHandler(hub *websocket.Hub) *MessageHandler {
	return &MessageHandler{hub: hub}
}

func (h *MessageHandler) HandleMessage(ctx context.Context, client *websocket.Client, ev *websocket.Event) error {
	switch ev.Type {
	case websocket.EventTypingStart:
		return h.hub.BroadcastTyping(client, ev.RoomID, true)

	case websocket.EventTypingStop:
		return h.hub.BroadcastTyping(client, ev.RoomID, false)

	default:
		applog.Ctx(ctx).Debug().Str(applog.FieldEvent, string(ev.Type)).Msg("unknown event type")
		return websocket.ErrUnknownEvent
	}
}
