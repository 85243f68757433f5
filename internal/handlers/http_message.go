package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/clubchat/internal/chaterr"
	"github.com/thereayou/clubchat/internal/handlers/dto"
	"github.com/thereayou/clubchat/internal/middleware"
	"github.com/thereayou/clubchat/internal/models"
	"github.com/thereayou/clubchat/internal/services"
	applog "github.com/thereayou/clubchat/pkg/log"
	"github.com/thereayou/clubchat/pkg/response"
)

type HTTPMessageHandler struct {
	chat *services.ChatService
}

func NewHTTPMessageHandler(chat *services.ChatService) *HTTPMessageHandler {
	return &HTTPMessageHandler{chat: chat}
}

// GetRoomMessages serves page-number paging, or cursor paging when ?before= is
// given.
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	ident, roomID, ok := h.scope(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	if raw, set := c.GetQuery("before"); set {
		var before *uint64
		if raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				response.BadRequest(c, "invalid before cursor")
				return
			}
			before = &id
		}

		msgs, hasMore, err := h.chat.History(c.Request.Context(), ident, roomID, before, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		response.Success(c, dto.HistoryResponse{Messages: dto.NewMessageResponses(msgs), HasMore: hasMore})
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	result, err := h.chat.Page(c.Request.Context(), ident, roomID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, dto.PageResponse{
		Messages: dto.NewMessageResponses(result.Messages),
		Pagination: dto.Pagination{
			Page:       result.Pagination.Page,
			Limit:      result.Pagination.Limit,
			Total:      result.Pagination.Total,
			TotalPages: result.Pagination.TotalPages,
		},
	})
}

func (h *HTTPMessageHandler) SendMessage(c *gin.Context) {
	ident, roomID, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "message is required")
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), ident, roomID, req.Message, req.ReplyToMessageID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, dto.NewMessageResponse(msg))
}

func (h *HTTPMessageHandler) UpdateMessage(c *gin.Context) {
	ident, roomID, ok := h.scope(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	var req dto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "message is required")
		return
	}

	msg, err := h.chat.Edit(c.Request.Context(), ident, roomID, messageID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, dto.NewMessageResponse(msg))
}

// DeleteMessage hides the message for its author, or removes it for everyone
// with ?forEveryone=true.
func (h *HTTPMessageHandler) DeleteMessage(c *gin.Context) {
	ident, roomID, ok := h.scope(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	forEveryone := false
	if raw := c.Query("forEveryone"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "forEveryone must be true or false")
			return
		}
		forEveryone = v
	}

	msg, err := h.chat.Delete(c.Request.Context(), ident, roomID, messageID, forEveryone)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, dto.NewMessageResponse(msg))
}

func (h *HTTPMessageHandler) UnsendMessage(c *gin.Context) {
	ident, roomID, ok := h.scope(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	msg, err := h.chat.Unsend(c.Request.Context(), ident, roomID, messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, dto.NewMessageResponse(msg))
}

func (h *HTTPMessageHandler) scope(c *gin.Context) (models.Identity, uint64, bool) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return models.Identity{}, 0, false
	}
	roomID, ok := pathID(c, "clubId")
	if !ok {
		return models.Identity{}, 0, false
	}
	return ident, roomID, true
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// writeError maps the chat error taxonomy onto the response envelope.
func writeError(c *gin.Context, err error) {
	var rl *chaterr.RateLimitedError
	switch {
	case errors.As(err, &rl):
		secs := rl.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		response.TooManyRequests(c, "You are sending messages too quickly. Please slow down.", secs)
	case errors.Is(err, chaterr.ErrAuthentication):
		response.Unauthorized(c, "unauthorized")
	case errors.Is(err, chaterr.ErrAuthorization):
		response.Forbidden(c, "you are not allowed to do that")
	case errors.Is(err, chaterr.ErrNotFound):
		response.NotFound(c, "message not found")
	case errors.Is(err, chaterr.ErrInvalidState):
		response.Conflict(c, "INVALID_STATE", err.Error())
	case errors.Is(err, chaterr.ErrValidation):
		response.BadRequest(c, err.Error())
	default:
		applog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		response.InternalError(c, "internal server error")
	}
}
