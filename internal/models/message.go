package models

import (
	"time"
)

// Placeholder bodies returned instead of the original text.
const (
	UnsentBody  = "unsent"
	DeletedBody = "deleted"
)

// ChatMessage is one message in a club room. Body is plaintext and never
// stored; EncryptedBody is what lands in the table.
type ChatMessage struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID           uint64         `gorm:"not null;index:idx_room_message,priority:1" json:"room_id"`
	AuthorID         uint64         `gorm:"not null;index" json:"author_id"`
	AuthorName       string         `gorm:"size:255;not null;default:''" json:"author_name"`
	EncryptedBody    string         `gorm:"type:text;not null;default:''" json:"-"`
	Body             string         `gorm:"-" json:"body"`
	State            LifecycleState `gorm:"column:lifecycle_state;size:16;not null;default:'sent';index" json:"state"`
	DeletedForAuthor bool           `gorm:"not null;default:false" json:"deleted_for_author"`
	ReplyToID        *uint64        `gorm:"index" json:"reply_to_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty"`

	ReplyTo *ChatMessage `gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL" json:"-"`
}

func (ChatMessage) TableName() string { return "club_chat_messages" }

// VisibleBody is what any reader may see for the current state.
func (m *ChatMessage) VisibleBody() string {
	switch m.State {
	case StateUnsent:
		return UnsentBody
	case StateDeleted:
		return DeletedBody
	default:
		return m.Body
	}
}

// HiddenFor reports whether viewer removed this message from their own view.
func (m *ChatMessage) HiddenFor(viewerID uint64) bool {
	return m.DeletedForAuthor && m.AuthorID == viewerID
}
