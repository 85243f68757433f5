package handlers

import (
	"context"

	"github.com/thereayou/clubchat/internal/handlers/dto"
	"github.com/thereayou/clubchat/internal/models"
	ws "github.com/thereayou/clubchat/internal/websocket"
	applog "github.com/thereayou/clubchat/pkg/log"
)

// HubNotifier turns committed changes into websocket events.
type HubNotifier struct {
	hub *ws.Hub
}

func NewHubNotifier(hub *ws.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

var changeEvents = map[models.ChangeKind]ws.EventType{
	models.ChangeCreated:          ws.EventMessageCreated,
	models.ChangeUpdated:          ws.EventMessageUpdated,
	models.ChangeUnsent:           ws.EventMessageUnsent,
	models.ChangeDeleted:          ws.EventMessageDeleted,
	models.ChangeDeletedForAuthor: ws.EventMessageDeletedForAuthor,
}

func (n *HubNotifier) Notify(ctx context.Context, kind models.ChangeKind, msg *models.ChatMessage) {
	t, ok := changeEvents[kind]
	if !ok {
		applog.Ctx(ctx).Warn().Str(applog.FieldEvent, string(kind)).Msg("ws notifier: unknown change")
		return
	}

	ev, err := ws.NewEvent(t, msg.RoomID, msg.AuthorID, dto.NewMessageResponse(msg))
	if err != nil {
		applog.Ctx(ctx).Error().Err(err).Msg("ws notifier: marshal error")
		return
	}

	// hiding a message only changes the author's own view
	if kind == models.ChangeDeletedForAuthor {
		err = n.hub.EmitToUser(msg.AuthorID, ev)
	} else {
		err = n.hub.EmitToRoom(ev)
	}
	if err != nil {
		applog.Ctx(ctx).Error().Err(err).Msg("ws notifier: emit failed")
	}
}
