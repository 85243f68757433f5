package services

import (
	"context"

	"github.com/thereayou/clubchat/internal/database"
	"github.com/thereayou/clubchat/internal/models"
	"github.com/thereayou/clubchat/internal/ratelimit"
)

// MessageStore is the persistence the chat service needs. *database.Database
// implements it.
type MessageStore interface {
	Append(ctx context.Context, p database.AppendParams) (*models.ChatMessage, error)
	Get(ctx context.Context, id uint64) (*models.ChatMessage, error)
	Page(ctx context.Context, q database.PageQuery) ([]models.ChatMessage, bool, error)
	PageNumber(ctx context.Context, roomID, viewerID uint64, page, limit int) ([]models.ChatMessage, int64, error)
	Edit(ctx context.Context, id, authorID uint64, body string) (*models.ChatMessage, error)
	RemoveForAuthor(ctx context.Context, id, authorID uint64) (*models.ChatMessage, error)
	RemoveForEveryone(ctx context.Context, id uint64, actor models.Identity) (*models.ChatMessage, error)
	Unsend(ctx context.Context, id, authorID uint64) (*models.ChatMessage, error)
}

// Limiter admits or refuses governed actions. *ratelimit.Governor implements it.
type Limiter interface {
	Allow(ctx context.Context, action, key string) (ratelimit.Decision, error)
	Settle(ctx context.Context, d ratelimit.Decision, succeeded bool)
}

// Notifier hears about every committed change. Implementations log their own
// failures; the write has already happened.
type Notifier interface {
	Notify(ctx context.Context, kind models.ChangeKind, msg *models.ChatMessage)
}

// MultiNotifier fans one change out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, kind models.ChangeKind, msg *models.ChatMessage) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, kind, msg)
		}
	}
}
