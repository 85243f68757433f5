package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/thereayou/clubchat/internal/chaterr"
	"github.com/thereayou/clubchat/internal/models"
	applog "github.com/thereayou/clubchat/pkg/log"
	"gorm.io/gorm"
)

type AppendParams struct {
	RoomID    uint64
	Author    models.Identity
	Body      string
	ReplyToID *uint64

	// Inserted, when set, runs inside the insert transaction once the row
	// has its id and before it commits.
	Inserted func(id uint64)
}

type PageQuery struct {
	RoomID   uint64
	Before   *uint64
	Limit    int
	ViewerID uint64
}

// Append stores a new message in state sent and returns it with plaintext body.
func (d *Database) Append(ctx context.Context, p AppendParams) (*models.ChatMessage, error) {
	enc, err := d.crypter.Encrypt(p.Body)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	msg := &models.ChatMessage{
		RoomID:        p.RoomID,
		AuthorID:      p.Author.UserID,
		AuthorName:    p.Author.DisplayName,
		EncryptedBody: enc,
		State:         models.StateSent,
		ReplyToID:     p.ReplyToID,
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.ReplyToID != nil {
			var n int64
			if err := tx.Model(&models.ChatMessage{}).
				Where("id = ? AND room_id = ?", *p.ReplyToID, p.RoomID).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("reply target %d: %w", *p.ReplyToID, chaterr.ErrNotFound)
			}
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if p.Inserted != nil {
			p.Inserted(msg.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.ReplyToID != nil {
		return d.Get(ctx, msg.ID)
	}
	msg.Body = p.Body
	return msg, nil
}

// Get loads one message regardless of state, with its reply preview.
func (d *Database) Get(ctx context.Context, id uint64) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := d.db.WithContext(ctx).Preload("ReplyTo").First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %d: %w", id, chaterr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := d.hydrate(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Page returns up to q.Limit messages older than q.Before, newest page first,
// each page in ascending id order.
func (d *Database) Page(ctx context.Context, q PageQuery) ([]models.ChatMessage, bool, error) {
	tx := d.visible(ctx, q.RoomID, q.ViewerID)
	if q.Before != nil {
		tx = tx.Where("id < ?", *q.Before)
	}

	var rows []models.ChatMessage
	if err := tx.Order("id DESC").Limit(q.Limit + 1).Preload("ReplyTo").Find(&rows).Error; err != nil {
		return nil, false, err
	}

	hasMore := len(rows) > q.Limit
	if hasMore {
		rows = rows[:q.Limit]
	}
	if err := d.finishPage(rows); err != nil {
		return nil, false, err
	}
	return rows, hasMore, nil
}

// PageNumber is the offset flavour used by the HTTP query boundary. Page 1 holds
// the most recent messages.
func (d *Database) PageNumber(ctx context.Context, roomID, viewerID uint64, page, limit int) ([]models.ChatMessage, int64, error) {
	var total int64
	if err := d.visible(ctx, roomID, viewerID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ChatMessage
	err := d.visible(ctx, roomID, viewerID).
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Preload("ReplyTo").
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	if err := d.finishPage(rows); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Edit replaces the body of a sent or edited message owned by authorID.
func (d *Database) Edit(ctx context.Context, id, authorID uint64, body string) (*models.ChatMessage, error) {
	enc, err := d.crypter.Encrypt(body)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	return d.transition(ctx, id, authorID, models.OpEdit, map[string]interface{}{
		"encrypted_body":  enc,
		"lifecycle_state": string(models.StateEdited),
		"updated_at":      d.now(),
	})
}

// RemoveForAuthor hides the message from its author only. Repeating it is fine.
func (d *Database) RemoveForAuthor(ctx context.Context, id, authorID uint64) (*models.ChatMessage, error) {
	return d.transition(ctx, id, authorID, models.OpHideForAuthor, map[string]interface{}{
		"deleted_for_author": true,
		"updated_at":         d.now(),
	})
}

// Unsend withdraws the message for everyone and drops its ciphertext.
func (d *Database) Unsend(ctx context.Context, id, authorID uint64) (*models.ChatMessage, error) {
	return d.transition(ctx, id, authorID, models.OpUnsend, map[string]interface{}{
		"encrypted_body":  "",
		"lifecycle_state": string(models.StateUnsent),
		"updated_at":      d.now(),
	})
}

// RemoveForEveryone deletes the message for the whole room. Only a moderator of
// the message's room may do it.
func (d *Database) RemoveForEveryone(ctx context.Context, id uint64, actor models.Identity) (*models.ChatMessage, error) {
	var meta models.ChatMessage
	err := d.db.WithContext(ctx).Select("id", "room_id").First(&meta, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %d: %w", id, chaterr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	ok, err := d.moderators.CanModerate(ctx, actor, meta.RoomID)
	if err != nil {
		return nil, fmt.Errorf("moderator check: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("user %d cannot moderate room %d: %w", actor.UserID, meta.RoomID, chaterr.ErrAuthorization)
	}

	now := d.now()
	return d.transition(ctx, id, 0, models.OpDeleteForEveryone, map[string]interface{}{
		"encrypted_body":  "",
		"lifecycle_state": string(models.StateDeleted),
		"deleted_at":      now,
		"updated_at":      now,
	})
}

// transition applies op as one conditional update. The WHERE clause carries the
// whole precondition, so two racing mutations on one id cannot both pass.
// authorID 0 means the operation is not author-scoped.
func (d *Database) transition(ctx context.Context, id, authorID uint64, op models.Operation, updates map[string]interface{}) (*models.ChatMessage, error) {
	tx := d.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("id = ?", id).
		Where("lifecycle_state IN ?", statesFor(op))
	if authorID != 0 {
		tx = tx.Where("author_id = ?", authorID)
	}

	res := tx.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if err := d.diagnose(ctx, id, authorID, op); err != nil {
			return nil, err
		}
	}
	return d.Get(ctx, id)
}

// diagnose explains why a conditional update matched nothing. It returns nil
// when the precondition holds now, which only happens for no-op updates on
// drivers that report changed rather than matched rows.
func (d *Database) diagnose(ctx context.Context, id, authorID uint64, op models.Operation) error {
	var m models.ChatMessage
	err := d.db.WithContext(ctx).Select("id", "author_id", "lifecycle_state").First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("message %d: %w", id, chaterr.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if authorID != 0 && m.AuthorID != authorID {
		return fmt.Errorf("user %d is not the author of message %d: %w", authorID, id, chaterr.ErrAuthorization)
	}
	if _, ok := m.State.Next(op); !ok {
		return fmt.Errorf("cannot %s a %s message: %w", op, m.State, chaterr.ErrInvalidState)
	}
	return nil
}

// visible scopes a query to what viewerID can see in roomID.
func (d *Database) visible(ctx context.Context, roomID, viewerID uint64) *gorm.DB {
	return d.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_id = ?", roomID).
		Where("lifecycle_state <> ?", string(models.StateDeleted)).
		Where("NOT (deleted_for_author = ? AND author_id = ?)", true, viewerID)
}

func (d *Database) finishPage(rows []models.ChatMessage) error {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	for i := range rows {
		if err := d.hydrate(&rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// hydrate fills Body from the ciphertext, or with a placeholder for terminal
// states, and does the same for the reply preview.
func (d *Database) hydrate(m *models.ChatMessage) error {
	if m.State.Terminal() {
		m.Body = m.VisibleBody()
	} else {
		body, err := d.crypter.Decrypt(m.EncryptedBody)
		if err != nil {
			return fmt.Errorf("decrypt message %d: %w", m.ID, err)
		}
		m.Body = body
	}

	if m.ReplyTo != nil {
		if err := d.hydrate(m.ReplyTo); err != nil {
			applog.L().Warn().Err(err).
				Uint64(applog.FieldMessageID, m.ID).
				Uint64(applog.FieldReplyToID, m.ReplyTo.ID).
				Msg("reply preview unreadable, dropping it")
			m.ReplyTo = nil
		}
	}
	return nil
}

func statesFor(op models.Operation) []string {
	states := models.StatesAllowing(op)
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
