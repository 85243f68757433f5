package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/thereayou/clubchat/internal/chaterr"
	"github.com/thereayou/clubchat/internal/cipher"
	"github.com/thereayou/clubchat/internal/database"
	"github.com/thereayou/clubchat/internal/models"
	"github.com/thereayou/clubchat/internal/ratelimit"
	applog "github.com/thereayou/clubchat/pkg/log"
)

const (
	RuleSend = "send"

	lockStripes = 64
)

type Config struct {
	MaxBodyLength int
	DefaultLimit  int
	MaxLimit      int
}

func DefaultConfig() Config {
	return Config{MaxBodyLength: 2000, DefaultLimit: 50, MaxLimit: 100}
}

type Pagination struct {
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

type PageResult struct {
	Messages   []models.ChatMessage
	Pagination Pagination
}

// ChatService is the write path: authorize, govern, mutate, broadcast.
type ChatService struct {
	store    MessageStore
	limiter  Limiter
	notifier Notifier
	cfg      Config

	// mutate+notify for one message id runs under one stripe so its events
	// leave in commit order
	stripes [lockStripes]sync.Mutex

	// ids inserted by Send whose created event has not gone out yet;
	// mutate waits on the channel before touching them
	creatingMu sync.Mutex
	creating   map[uint64]chan struct{}
}

// NewChatService wires the service. limiter and notifier may be nil.
func NewChatService(store MessageStore, limiter Limiter, notifier Notifier, cfg Config) *ChatService {
	def := DefaultConfig()
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = def.MaxBodyLength
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	return &ChatService{
		store:    store,
		limiter:  limiter,
		notifier: notifier,
		cfg:      cfg,
		creating: make(map[uint64]chan struct{}),
	}
}

// Page returns one page of the room, page 1 being the most recent messages.
func (s *ChatService) Page(ctx context.Context, viewer models.Identity, roomID uint64, page, limit int) (*PageResult, error) {
	if err := requireIdentity(viewer); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	limit = s.clampLimit(limit)

	msgs, total, err := s.store.PageNumber(ctx, roomID, viewer.UserID, page, limit)
	if err != nil {
		return nil, s.mapErr(ctx, "page messages", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &PageResult{
		Messages: msgs,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// History is the cursor flavour: the limit newest messages older than before.
func (s *ChatService) History(ctx context.Context, viewer models.Identity, roomID uint64, before *uint64, limit int) ([]models.ChatMessage, bool, error) {
	if err := requireIdentity(viewer); err != nil {
		return nil, false, err
	}

	msgs, hasMore, err := s.store.Page(ctx, database.PageQuery{
		RoomID:   roomID,
		Before:   before,
		Limit:    s.clampLimit(limit),
		ViewerID: viewer.UserID,
	})
	if err != nil {
		return nil, false, s.mapErr(ctx, "message history", err)
	}
	return msgs, hasMore, nil
}

// Send stores a new message and broadcasts it to the room.
func (s *ChatService) Send(ctx context.Context, actor models.Identity, roomID uint64, body string, replyToID *uint64) (*models.ChatMessage, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	body, err := s.validateBody(body)
	if err != nil {
		return nil, err
	}
	if roomID == 0 {
		return nil, chaterr.Validation("room id is required")
	}

	decision, governed := s.admit(ctx, actor)
	if governed && !decision.Allowed {
		return nil, &chaterr.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	var inserted uint64
	msg, err := s.store.Append(ctx, database.AppendParams{
		RoomID:    roomID,
		Author:    actor,
		Body:      body,
		ReplyToID: replyToID,
		Inserted: func(id uint64) {
			inserted = id
			s.beginCreate(id)
		},
	})
	if inserted != 0 {
		defer s.endCreate(inserted)
	}
	if governed {
		s.limiter.Settle(ctx, decision, err == nil)
	}
	if err != nil {
		return nil, s.mapErr(ctx, "send message", err)
	}

	applog.Ctx(ctx).Info().
		Uint64(applog.FieldRoomID, roomID).
		Uint64(applog.FieldMessageID, msg.ID).
		Msg("message sent")
	s.notify(ctx, models.ChangeCreated, msg)
	return msg, nil
}

// Edit replaces the body of the actor's own message.
func (s *ChatService) Edit(ctx context.Context, actor models.Identity, roomID, messageID uint64, body string) (*models.ChatMessage, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	body, err := s.validateBody(body)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, "edit message", roomID, messageID, models.ChangeUpdated, func() (*models.ChatMessage, error) {
		return s.store.Edit(ctx, messageID, actor.UserID, body)
	})
}

// Delete hides the message from its author, or removes it for the whole room
// when forEveryone is set and the actor moderates the room.
func (s *ChatService) Delete(ctx context.Context, actor models.Identity, roomID, messageID uint64, forEveryone bool) (*models.ChatMessage, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}

	if forEveryone {
		return s.mutate(ctx, "delete message", roomID, messageID, models.ChangeDeleted, func() (*models.ChatMessage, error) {
			return s.store.RemoveForEveryone(ctx, messageID, actor)
		})
	}
	return s.mutate(ctx, "hide message", roomID, messageID, models.ChangeDeletedForAuthor, func() (*models.ChatMessage, error) {
		return s.store.RemoveForAuthor(ctx, messageID, actor.UserID)
	})
}

// Unsend withdraws the actor's own message for everyone.
func (s *ChatService) Unsend(ctx context.Context, actor models.Identity, roomID, messageID uint64) (*models.ChatMessage, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "unsend message", roomID, messageID, models.ChangeUnsent, func() (*models.ChatMessage, error) {
		return s.store.Unsend(ctx, messageID, actor.UserID)
	})
}

// mutate checks that messageID lives in roomID, applies fn and broadcasts the
// result, all under the message's stripe. A message still being announced by
// Send is waited for first.
func (s *ChatService) mutate(ctx context.Context, op string, roomID, messageID uint64, kind models.ChangeKind, fn func() (*models.ChatMessage, error)) (*models.ChatMessage, error) {
	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.Get(ctx, messageID)
	if err != nil {
		return nil, s.mapErr(ctx, op, err)
	}
	if current.RoomID != roomID {
		return nil, fmt.Errorf("%s: message %d is not in room %d: %w", op, messageID, roomID, chaterr.ErrNotFound)
	}
	if err := s.awaitCreated(ctx, messageID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	msg, err := fn()
	if err != nil {
		return nil, s.mapErr(ctx, op, err)
	}

	applog.Ctx(ctx).Info().
		Uint64(applog.FieldRoomID, roomID).
		Uint64(applog.FieldMessageID, messageID).
		Str(applog.FieldEvent, string(kind)).
		Msg("message changed")
	s.notify(ctx, kind, msg)
	return msg, nil
}

func (s *ChatService) admit(ctx context.Context, actor models.Identity) (ratelimit.Decision, bool) {
	if s.limiter == nil {
		return ratelimit.Decision{}, false
	}
	d, err := s.limiter.Allow(ctx, RuleSend, ratelimit.Key(actor.UserID, ""))
	if err != nil {
		applog.Ctx(ctx).Error().Err(err).Msg("send rule unavailable, admitting")
		return ratelimit.Decision{}, false
	}
	return d, true
}

func (s *ChatService) notify(ctx context.Context, kind models.ChangeKind, msg *models.ChatMessage) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, kind, msg)
	}
}

func (s *ChatService) beginCreate(id uint64) {
	s.creatingMu.Lock()
	s.creating[id] = make(chan struct{})
	s.creatingMu.Unlock()
}

func (s *ChatService) endCreate(id uint64) {
	s.creatingMu.Lock()
	if ch, ok := s.creating[id]; ok {
		close(ch)
		delete(s.creating, id)
	}
	s.creatingMu.Unlock()
}

// awaitCreated blocks until the created event for id has been sent. A row
// visible to Get has committed, so Send has already registered it.
func (s *ChatService) awaitCreated(ctx context.Context, id uint64) error {
	s.creatingMu.Lock()
	ch, ok := s.creating[id]
	s.creatingMu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChatService) lockFor(id uint64) *sync.Mutex {
	return &s.stripes[id%lockStripes]
}

func (s *ChatService) clampLimit(limit int) int {
	if limit < 1 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

func (s *ChatService) validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", chaterr.Validation("message cannot be empty")
	}
	if utf8.RuneCountInString(body) > s.cfg.MaxBodyLength {
		return "", chaterr.Validation(fmt.Sprintf("message exceeds %d characters", s.cfg.MaxBodyLength))
	}
	return body, nil
}

// mapErr keeps taxonomy errors as they are and turns cipher faults into
// ErrIntegrity. Anything else is an internal failure and is returned wrapped.
func (s *ChatService) mapErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, cipher.ErrCipher):
		applog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("stored message failed to decrypt")
		return fmt.Errorf("%s: %w", op, chaterr.ErrIntegrity)
	case errors.Is(err, cipher.ErrPlaintextTooLarge):
		return chaterr.Validation("message is too large")
	case errors.Is(err, chaterr.ErrNotFound),
		errors.Is(err, chaterr.ErrAuthorization),
		errors.Is(err, chaterr.ErrInvalidState),
		errors.Is(err, chaterr.ErrValidation):
		return err
	default:
		applog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("chat operation failed")
		return fmt.Errorf("%s: %w", op, err)
	}
}

func requireIdentity(ident models.Identity) error {
	if ident.UserID == 0 {
		return chaterr.ErrAuthentication
	}
	return nil
}
