package client

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thereayou/clubchat/internal/handlers/dto"
	"github.com/thereayou/clubchat/internal/models"
	ws "github.com/thereayou/clubchat/internal/websocket"
	applog "github.com/thereayou/clubchat/pkg/log"
)

// Sender writes frames to the server socket.
type Sender interface {
	Emit(ev ws.Event) error
}

type Config struct {
	RoomID uint64
	Self   models.Identity

	PageSize        int
	SendTimeout     time.Duration
	ReconcileWindow time.Duration
	LoadThreshold   int

	TypingInterval time.Duration // min gap between typing-start frames
	TypingIdle     time.Duration // inactivity before typing-stop
	TypingExpiry   time.Duration // how long a remote indicator lives

	// Both run on the engine goroutine and must not block.
	OnChange func(View)
	OnNotice func(Notice)
}

func DefaultConfig() Config {
	return Config{
		PageSize:        50,
		SendTimeout:     15 * time.Second,
		ReconcileWindow: 5 * time.Second,
		LoadThreshold:   100,
		TypingInterval:  time.Second,
		TypingIdle:      2 * time.Second,
		TypingExpiry:    3 * time.Second,
	}
}

type pendingSend struct {
	resolved bool
	timer    *time.Timer
}

type typist struct {
	name    string
	expires time.Time
}

// Engine owns the visible list for one room. Every state change happens on
// the goroutine running Run; public methods only post closures to it.
type Engine struct {
	cfg   Config
	api   API
	sock  Sender
	cache *Cache
	now   func() time.Time

	ops  chan func()
	done chan struct{}
	ctx  context.Context

	entries []*Entry
	pending map[uuid.UUID]*pendingSend
	hasMore bool
	loading bool
	fetched bool
	anchor  uint64

	connects int

	typists        map[uint64]typist
	typing         bool
	lastTypingEmit time.Time
	typingTimer    *time.Timer
	typingGen      int
}

func NewEngine(cfg Config, api API, sock Sender, cache *Cache) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = def.ReconcileWindow
	}
	if cfg.LoadThreshold <= 0 {
		cfg.LoadThreshold = def.LoadThreshold
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = def.TypingInterval
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = def.TypingIdle
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = def.TypingExpiry
	}
	if cache == nil {
		cache = NewCache(DefaultCacheTTL, DefaultCacheSize)
	}

	return &Engine{
		cfg:     cfg,
		api:     api,
		sock:    sock,
		cache:   cache,
		now:     time.Now,
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		pending: make(map[uuid.UUID]*pendingSend),
		typists: make(map[uint64]typist),
	}
}

// Run processes posted work until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	defer close(e.done)
	for {
		select {
		case fn := <-e.ops:
			fn()
		case <-ctx.Done():
			e.stopTimers()
			return
		}
	}
}

func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

// Snapshot returns the current view. It blocks until the engine runs it.
func (e *Engine) Snapshot() View {
	ch := make(chan View, 1)
	e.post(func() { ch <- e.view() })
	select {
	case v := <-ch:
		return v
	case <-e.done:
		return View{}
	}
}

// Open paints the cache, if any, and fetches the newest page.
func (e *Engine) Open() {
	e.post(func() {
		if cached := e.cache.Get(e.cfg.RoomID); len(cached) > 0 && !e.fetched {
			e.replaceServer(cached)
			for _, entry := range e.entries {
				entry.cached = true
			}
			e.emit()
		}
		e.fetchLatest()
	})
}

// Connected rejoins the room. After a reconnect it also refetches, since the
// hub kept nothing for us while we were away.
func (e *Engine) Connected() {
	e.post(func() {
		e.connects++
		e.emitFrame(ws.Event{Type: ws.EventJoin, RoomID: e.cfg.RoomID})
		if e.connects > 1 && e.fetched {
			e.fetchLatest()
		}
	})
}

func (e *Engine) HandleEvent(ev ws.Event) {
	e.post(func() { e.handleEvent(ev) })
}

// Send appends an optimistic entry and submits it.
func (e *Engine) Send(body string, replyTo *uint64) {
	e.post(func() {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		e.stopTyping()
		e.submit(body, replyTo)
	})
}

// Retry resubmits a failed entry as a fresh send.
func (e *Engine) Retry(tempID uuid.UUID) {
	e.post(func() {
		i := e.indexOfLocal(tempID)
		if i < 0 || e.entries[i].Status != StatusFailed {
			return
		}
		failed := e.entries[i]
		e.removeAt(i)
		e.submit(failed.Message.Body, failed.Message.ReplyToID)
	})
}

func (e *Engine) Edit(messageID uint64, body string) {
	e.mutate(func(ctx context.Context) (*dto.MessageResponse, error) {
		return e.api.Edit(ctx, e.cfg.RoomID, messageID, body)
	})
}

func (e *Engine) Delete(messageID uint64, forEveryone bool) {
	e.mutate(func(ctx context.Context) (*dto.MessageResponse, error) {
		return e.api.Delete(ctx, e.cfg.RoomID, messageID, forEveryone)
	})
}

func (e *Engine) Unsend(messageID uint64) {
	e.mutate(func(ctx context.Context) (*dto.MessageResponse, error) {
		return e.api.Unsend(ctx, e.cfg.RoomID, messageID)
	})
}

// OnScroll loads older messages when the viewport top is near the start of
// the list.
func (e *Engine) OnScroll(top int) {
	e.post(func() {
		if top < e.cfg.LoadThreshold && e.hasMore && !e.loading {
			e.loadOlder()
		}
	})
}

func (e *Engine) LoadOlder() {
	e.post(func() {
		if e.hasMore && !e.loading {
			e.loadOlder()
		}
	})
}

// KeyPress reports local typing activity.
func (e *Engine) KeyPress() {
	e.post(func() {
		now := e.now()
		if !e.typing || now.Sub(e.lastTypingEmit) >= e.cfg.TypingInterval {
			e.emitFrame(ws.Event{Type: ws.EventTypingStart, RoomID: e.cfg.RoomID})
			e.lastTypingEmit = now
			e.typing = true
		}

		if e.typingTimer != nil {
			e.typingTimer.Stop()
		}
		e.typingGen++
		gen := e.typingGen
		e.typingTimer = time.AfterFunc(e.cfg.TypingIdle, func() {
			e.post(func() {
				if gen == e.typingGen {
					e.stopTyping()
				}
			})
		})
	})
}

func (e *Engine) submit(body string, replyTo *uint64) {
	tempID := uuid.New()
	e.entries = append(e.entries, &Entry{
		Ref:    LocalRef{TempID: tempID},
		Status: StatusSending,
		Message: dto.MessageResponse{
			RoomID:     e.cfg.RoomID,
			AuthorID:   e.cfg.Self.UserID,
			AuthorName: e.cfg.Self.DisplayName,
			Body:       body,
			State:      string(models.StateSent),
			ReplyToID:  replyTo,
			CreatedAt:  e.now(),
		},
	})

	p := &pendingSend{}
	p.timer = time.AfterFunc(e.cfg.SendTimeout, func() {
		e.post(func() { e.timeoutSend(tempID) })
	})
	e.pending[tempID] = p
	e.emit()

	ctx := e.ctx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
		msg, err := e.api.Send(ctx, e.cfg.RoomID, body, replyTo)
		e.post(func() { e.completeSend(tempID, msg, err) })
	}()
}

func (e *Engine) completeSend(tempID uuid.UUID, msg *dto.MessageResponse, err error) {
	p := e.pending[tempID]
	if p == nil {
		// timed out earlier; the server may still have written it
		if err == nil && msg != nil && e.indexOfServer(msg.ID) < 0 {
			e.insertServer(*msg)
			e.changed()
		}
		return
	}
	p.timer.Stop()
	delete(e.pending, tempID)

	if err != nil {
		if p.resolved {
			return
		}
		if wait, limited := IsRateLimited(err); limited {
			e.removeLocal(tempID)
			e.notice(Notice{Kind: NoticeRateLimited, Message: "You are sending messages too quickly. Slow down.", RetryAfter: wait})
			e.emit()
			return
		}
		e.setStatus(tempID, StatusFailed)
		e.notice(Notice{Kind: NoticeSendFailed, Message: "Message not sent: " + err.Error()})
		e.emit()
		return
	}

	p.resolved = true
	if e.indexOfServer(msg.ID) >= 0 {
		e.removeLocal(tempID)
	} else if i := e.indexOfLocal(tempID); i >= 0 {
		e.entries[i] = serverEntry(*msg)
	} else {
		e.insertServer(*msg)
	}
	e.changed()
}

func (e *Engine) timeoutSend(tempID uuid.UUID) {
	p := e.pending[tempID]
	if p == nil || p.resolved {
		return
	}
	delete(e.pending, tempID)
	e.setStatus(tempID, StatusFailed)
	e.notice(Notice{Kind: NoticeSendFailed, Message: "Message not sent: timed out"})
	e.emit()
}

// reconcileEcho swaps the first matching optimistic entry for the server copy.
func (e *Engine) reconcileEcho(msg dto.MessageResponse) bool {
	if msg.AuthorID != e.cfg.Self.UserID {
		return false
	}
	for i, entry := range e.entries {
		tempID, ok := entry.tempID()
		if !ok || entry.Status != StatusSending || entry.Message.Body != msg.Body {
			continue
		}
		if absDuration(entry.Message.CreatedAt.Sub(msg.CreatedAt)) > e.cfg.ReconcileWindow {
			continue
		}
		if p := e.pending[tempID]; p != nil {
			p.resolved = true
		}
		e.entries[i] = serverEntry(msg)
		return true
	}
	return false
}

func (e *Engine) handleEvent(ev ws.Event) {
	if ev.RoomID != 0 && ev.RoomID != e.cfg.RoomID {
		return
	}
	logger := applog.Ctx(e.ctx)

	switch ev.Type {
	case ws.EventMessageCreated:
		msg, ok := decodeMessage(ev)
		if !ok {
			return
		}
		if i := e.indexOfServer(msg.ID); i >= 0 {
			e.entries[i].Message = msg
		} else if !e.reconcileEcho(msg) {
			e.insertServer(msg)
		}
		e.changed()

	case ws.EventMessageUpdated, ws.EventMessageUnsent:
		msg, ok := decodeMessage(ev)
		if !ok {
			return
		}
		if i := e.indexOfServer(msg.ID); i >= 0 {
			e.entries[i].Message = msg
			e.changed()
		}

	case ws.EventMessageDeleted, ws.EventMessageDeletedForAuthor:
		msg, ok := decodeMessage(ev)
		if !ok {
			return
		}
		if i := e.indexOfServer(msg.ID); i >= 0 {
			e.removeAt(i)
			e.changed()
		}

	case ws.EventTypingStart:
		if ev.UserID == e.cfg.Self.UserID {
			return
		}
		var data ws.TypingData
		_ = unmarshal(ev.Data, &data)
		e.typists[ev.UserID] = typist{name: data.UserName, expires: e.now().Add(e.cfg.TypingExpiry)}
		time.AfterFunc(e.cfg.TypingExpiry, func() { e.post(e.expireTypists) })
		e.emit()

	case ws.EventTypingStop:
		if _, ok := e.typists[ev.UserID]; ok {
			delete(e.typists, ev.UserID)
			e.emit()
		}

	case ws.EventError:
		var data ws.ErrorData
		_ = unmarshal(ev.Data, &data)
		e.notice(Notice{Kind: NoticeServerError, Message: data.Error})

	case ws.EventJoined, ws.EventLeft:
		logger.Debug().Str(applog.FieldEvent, string(ev.Type)).Uint64(applog.FieldRoomID, ev.RoomID).Msg("room ack")

	default:
		logger.Debug().Str(applog.FieldEvent, string(ev.Type)).Msg("ignoring event")
	}
}

func (e *Engine) expireTypists() {
	now := e.now()
	changed := false
	for id, t := range e.typists {
		if !now.Before(t.expires) {
			delete(e.typists, id)
			changed = true
		}
	}
	if changed {
		e.emit()
	}
}

func (e *Engine) stopTyping() {
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	e.typingGen++
	if e.typing {
		e.typing = false
		e.emitFrame(ws.Event{Type: ws.EventTypingStop, RoomID: e.cfg.RoomID})
	}
}

func (e *Engine) mutate(call func(ctx context.Context) (*dto.MessageResponse, error)) {
	e.post(func() {
		ctx := e.ctx
		go func() {
			ctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
			defer cancel()
			msg, err := call(ctx)
			e.post(func() {
				if err != nil {
					e.notice(Notice{Kind: NoticeActionFailed, Message: err.Error()})
					return
				}
				e.applyResult(*msg)
			})
		}()
	})
}

// applyResult folds a mutation response into the list. The matching socket
// event may arrive before or after; both are idempotent.
func (e *Engine) applyResult(msg dto.MessageResponse) {
	i := e.indexOfServer(msg.ID)
	if i < 0 {
		return
	}
	if msg.State == string(models.StateDeleted) || (msg.DeletedForAuthor && msg.AuthorID == e.cfg.Self.UserID) {
		e.removeAt(i)
	} else {
		e.entries[i].Message = msg
	}
	e.changed()
}

func (e *Engine) fetchLatest() {
	e.loading = true
	e.emit()

	ctx := e.ctx
	go func() {
		resp, err := e.api.History(ctx, e.cfg.RoomID, nil, e.cfg.PageSize)
		e.post(func() {
			e.loading = false
			if err != nil {
				e.notice(Notice{Kind: NoticeLoadFailed, Message: err.Error()})
				e.emit()
				return
			}
			e.replaceServer(resp.Messages)
			e.hasMore = resp.HasMore
			e.fetched = true
			e.changed()
		})
	}()
}

func (e *Engine) loadOlder() {
	before, ok := e.oldestServerID()
	if !ok {
		e.fetchLatest()
		return
	}
	e.loading = true
	e.emit()

	ctx := e.ctx
	go func() {
		resp, err := e.api.History(ctx, e.cfg.RoomID, &before, e.cfg.PageSize)
		e.post(func() {
			e.loading = false
			if err != nil {
				e.notice(Notice{Kind: NoticeLoadFailed, Message: err.Error()})
				e.emit()
				return
			}
			e.prependOlder(resp.Messages)
			e.hasMore = resp.HasMore
			e.anchor = before
			e.changed()
			e.anchor = 0
		})
	}()
}

// replaceServer swaps the server entries for msgs. Optimistic entries and live
// messages newer than the fetched page survive; cached ones never do.
func (e *Engine) replaceServer(msgs []dto.MessageResponse) {
	var newest uint64
	next := make([]*Entry, 0, len(msgs)+len(e.pending))
	for _, m := range msgs {
		next = append(next, serverEntry(m))
		if m.ID > newest {
			newest = m.ID
		}
	}
	for _, entry := range e.entries {
		if id, ok := entry.serverID(); ok && !entry.cached && id > newest {
			next = append(next, entry)
		}
	}
	for _, entry := range e.entries {
		if _, ok := entry.tempID(); ok {
			next = append(next, entry)
		}
	}
	e.entries = next
}

func (e *Engine) prependOlder(msgs []dto.MessageResponse) {
	older := make([]*Entry, 0, len(msgs)+len(e.entries))
	for _, m := range msgs {
		if e.indexOfServer(m.ID) < 0 {
			older = append(older, serverEntry(m))
		}
	}
	e.entries = append(older, e.entries...)
}

// insertServer keeps server entries ordered by id, ahead of any optimistic
// entries.
func (e *Engine) insertServer(msg dto.MessageResponse) {
	pos := len(e.entries)
	for i, entry := range e.entries {
		id, ok := entry.serverID()
		if !ok || id > msg.ID {
			pos = i
			break
		}
	}
	e.entries = append(e.entries, nil)
	copy(e.entries[pos+1:], e.entries[pos:])
	e.entries[pos] = serverEntry(msg)
}

func (e *Engine) indexOfServer(id uint64) int {
	for i, entry := range e.entries {
		if sid, ok := entry.serverID(); ok && sid == id {
			return i
		}
	}
	return -1
}

func (e *Engine) indexOfLocal(tempID uuid.UUID) int {
	for i, entry := range e.entries {
		if tid, ok := entry.tempID(); ok && tid == tempID {
			return i
		}
	}
	return -1
}

func (e *Engine) oldestServerID() (uint64, bool) {
	for _, entry := range e.entries {
		if id, ok := entry.serverID(); ok {
			return id, true
		}
	}
	return 0, false
}

func (e *Engine) removeLocal(tempID uuid.UUID) {
	if i := e.indexOfLocal(tempID); i >= 0 {
		e.removeAt(i)
	}
}

func (e *Engine) removeAt(i int) {
	e.entries = append(e.entries[:i], e.entries[i+1:]...)
}

func (e *Engine) setStatus(tempID uuid.UUID, s Status) {
	if i := e.indexOfLocal(tempID); i >= 0 {
		e.entries[i].Status = s
	}
}

func (e *Engine) emitFrame(ev ws.Event) {
	if e.sock == nil {
		return
	}
	ev.Timestamp = e.now().UTC()
	if err := e.sock.Emit(ev); err != nil {
		applog.Ctx(e.ctx).Debug().Err(err).Str(applog.FieldEvent, string(ev.Type)).Msg("frame not sent")
	}
}

// changed persists the server entries to the cache and publishes the view.
func (e *Engine) changed() {
	msgs := make([]dto.MessageResponse, 0, len(e.entries))
	for _, entry := range e.entries {
		if _, ok := entry.serverID(); ok {
			msgs = append(msgs, entry.Message)
		}
	}
	e.cache.Put(e.cfg.RoomID, msgs)
	e.emit()
}

func (e *Engine) emit() {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(e.view())
	}
}

func (e *Engine) notice(n Notice) {
	if e.cfg.OnNotice != nil {
		e.cfg.OnNotice(n)
	}
}

func (e *Engine) view() View {
	v := View{
		RoomID:  e.cfg.RoomID,
		Entries: make([]Entry, len(e.entries)),
		HasMore: e.hasMore,
		Loading: e.loading,
		Anchor:  e.anchor,
	}
	for i, entry := range e.entries {
		v.Entries[i] = *entry
	}
	for _, t := range e.typists {
		v.Typing = append(v.Typing, t.name)
	}
	sort.Strings(v.Typing)
	return v
}

func (e *Engine) stopTimers() {
	for _, p := range e.pending {
		p.timer.Stop()
	}
	if e.typingTimer != nil {
		e.typingTimer.Stop()
	}
}

func decodeMessage(ev ws.Event) (dto.MessageResponse, bool) {
	var msg dto.MessageResponse
	if err := unmarshal(ev.Data, &msg); err != nil || msg.ID == 0 {
		return msg, false
	}
	return msg, true
}

var errNoData = errors.New("event has no data")

func unmarshal(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errNoData
	}
	return json.Unmarshal(raw, v)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
