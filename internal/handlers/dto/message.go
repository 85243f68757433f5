package dto

import (
	"time"

	"github.com/thereayou/clubchat/internal/models"
)

// SendMessageRequest is the body of POST .../messages.
type SendMessageRequest struct {
	Message          string  `json:"message" binding:"required"`
	ReplyToMessageID *uint64 `json:"reply_to_message_id,omitempty"`
}

// EditMessageRequest is the body of PATCH .../messages/:messageId.
type EditMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// ReplyPreview is the quoted message shown above a reply.
type ReplyPreview struct {
	ID         uint64 `json:"id"`
	AuthorID   uint64 `json:"author_id"`
	AuthorName string `json:"author_name"`
	Body       string `json:"body"`
}

// MessageResponse is a message as every client sees it, over HTTP and in
// websocket events.
type MessageResponse struct {
	ID               uint64        `json:"id"`
	RoomID           uint64        `json:"room_id"`
	AuthorID         uint64        `json:"author_id"`
	AuthorName       string        `json:"author_name"`
	Body             string        `json:"body"`
	State            string        `json:"state"`
	DeletedForAuthor bool          `json:"deleted_for_author"`
	ReplyToID        *uint64       `json:"reply_to_id,omitempty"`
	ReplyTo          *ReplyPreview `json:"reply_to,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PageResponse answers the page-number query.
type PageResponse struct {
	Messages   []MessageResponse `json:"messages"`
	Pagination Pagination        `json:"pagination"`
}

// HistoryResponse answers the cursor query (?before=).
type HistoryResponse struct {
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

func NewMessageResponse(m *models.ChatMessage) MessageResponse {
	resp := MessageResponse{
		ID:               m.ID,
		RoomID:           m.RoomID,
		AuthorID:         m.AuthorID,
		AuthorName:       m.AuthorName,
		Body:             m.VisibleBody(),
		State:            string(m.State),
		DeletedForAuthor: m.DeletedForAuthor,
		ReplyToID:        m.ReplyToID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.ReplyTo != nil {
		resp.ReplyTo = &ReplyPreview{
			ID:         m.ReplyTo.ID,
			AuthorID:   m.ReplyTo.AuthorID,
			AuthorName: m.ReplyTo.AuthorName,
			Body:       m.ReplyTo.VisibleBody(),
		}
	}
	return resp
}

func NewMessageResponses(msgs []models.ChatMessage) []MessageResponse {
	out := make([]MessageResponse, len(msgs))
	for i := range msgs {
		out[i] = NewMessageResponse(&msgs[i])
	}
	return out
}
