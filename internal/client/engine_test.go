package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/clubchat/internal/handlers/dto"
	"github.com/thereayou/clubchat/internal/models"
	ws "github.com/thereayou/clubchat/internal/websocket"
)

const testRoom uint64 = 7

var (
	alice = models.Identity{UserID: 1, DisplayName: "Alice", Role: models.RoleStudent}
	bob   = models.Identity{UserID: 2, DisplayName: "Bob", Role: models.RoleStudent}
)

type sendResult struct {
	msg *dto.MessageResponse
	err error
}

type sendCall struct {
	body  string
	reply chan sendResult
}

// fakeAPI parks every Send until the test answers it.
type fakeAPI struct {
	sends chan sendCall

	mu         sync.Mutex
	history    func(before *uint64, limit int) (*dto.HistoryResponse, error)
	historyLog []*uint64
	mutation   func(messageID uint64) (*dto.MessageResponse, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		sends: make(chan sendCall, 16),
		history: func(*uint64, int) (*dto.HistoryResponse, error) {
			return &dto.HistoryResponse{}, nil
		},
	}
}

func (f *fakeAPI) History(_ context.Context, _ uint64, before *uint64, limit int) (*dto.HistoryResponse, error) {
	f.mu.Lock()
	fn := f.history
	f.historyLog = append(f.historyLog, before)
	f.mu.Unlock()
	return fn(before, limit)
}

func (f *fakeAPI) historyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.historyLog)
}

func (f *fakeAPI) Send(ctx context.Context, _ uint64, body string, _ *uint64) (*dto.MessageResponse, error) {
	call := sendCall{body: body, reply: make(chan sendResult, 1)}
	select {
	case f.sends <- call:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-call.reply:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAPI) mutate(messageID uint64) (*dto.MessageResponse, error) {
	f.mu.Lock()
	fn := f.mutation
	f.mu.Unlock()
	return fn(messageID)
}

func (f *fakeAPI) Edit(_ context.Context, _, messageID uint64, _ string) (*dto.MessageResponse, error) {
	return f.mutate(messageID)
}

func (f *fakeAPI) Delete(_ context.Context, _, messageID uint64, _ bool) (*dto.MessageResponse, error) {
	return f.mutate(messageID)
}

func (f *fakeAPI) Unsend(_ context.Context, _, messageID uint64) (*dto.MessageResponse, error) {
	return f.mutate(messageID)
}

type fakeSocket struct {
	mu     sync.Mutex
	frames []ws.Event
}

func (s *fakeSocket) Emit(ev ws.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, ev)
	return nil
}

func (s *fakeSocket) types() []ws.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ws.EventType, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Type
	}
	return out
}

type recorder struct {
	mu      sync.Mutex
	views   []View
	notices []Notice
}

func (r *recorder) onChange(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) onNotice(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) noticeKinds() []NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoticeKind, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Kind
	}
	return out
}

func (r *recorder) lastNotice() Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}
	}
	return r.notices[len(r.notices)-1]
}

func (r *recorder) sawAnchor(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.views {
		if v.Anchor == id {
			return true
		}
	}
	return false
}

type harness struct {
	engine *Engine
	api    *fakeAPI
	sock   *fakeSocket
	rec    *recorder
	cache  *Cache
}

func newHarness(t *testing.T, cfg Config, api *fakeAPI, cache *Cache) *harness {
	t.Helper()
	if cache == nil {
		cache = NewCache(time.Hour, 200)
	}
	h := &harness{api: api, sock: &fakeSocket{}, rec: &recorder{}, cache: cache}
	cfg.RoomID = testRoom
	cfg.Self = alice
	cfg.OnChange = h.rec.onChange
	cfg.OnNotice = h.rec.onNotice
	h.engine = NewEngine(cfg, api, h.sock, cache)

	ctx, cancel := context.WithCancel(context.Background())
	go h.engine.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// open loads the first page and waits for it.
func (h *harness) open(t *testing.T) {
	t.Helper()
	h.engine.Open()
	require.Eventually(t, func() bool {
		v := h.engine.Snapshot()
		return !v.Loading && h.api.historyCalls() > 0
	}, time.Second, 5*time.Millisecond)
}

func (h *harness) nextSend(t *testing.T) sendCall {
	t.Helper()
	select {
	case call := <-h.api.sends:
		return call
	case <-time.After(time.Second):
		t.Fatal("no send reached the api")
		return sendCall{}
	}
}

func (h *harness) pendingCount() int {
	ch := make(chan int, 1)
	h.engine.post(func() { ch <- len(h.engine.pending) })
	return <-ch
}

func message(id uint64, author models.Identity, body string, at time.Time) dto.MessageResponse {
	return dto.MessageResponse{
		ID:         id,
		RoomID:     testRoom,
		AuthorID:   author.UserID,
		AuthorName: author.DisplayName,
		Body:       body,
		State:      string(models.StateSent),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func event(t *testing.T, typ ws.EventType, m dto.MessageResponse) ws.Event {
	t.Helper()
	ev, err := ws.NewEvent(typ, m.RoomID, m.AuthorID, m)
	require.NoError(t, err)
	return ev
}

func ids(v View) []uint64 {
	var out []uint64
	for _, e := range v.Entries {
		if id, ok := e.serverID(); ok {
			out = append(out, id)
		}
	}
	return out
}

func TestEngineEchoBeforeResponse(t *testing.T) {
	h := newHarness(t, Config{}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("  hello  ", nil)
	call := h.nextSend(t)
	assert.Equal(t, "hello", call.body)

	v := h.engine.Snapshot()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, StatusSending, v.Entries[0].Status)
	assert.IsType(t, LocalRef{}, v.Entries[0].Ref)

	echo := message(10, alice, "hello", time.Now())
	h.engine.HandleEvent(event(t, ws.EventMessageCreated, echo))

	v = h.engine.Snapshot()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, ServerRef{ID: 10}, v.Entries[0].Ref)
	assert.Equal(t, StatusSent, v.Entries[0].Status)

	call.reply <- sendResult{msg: &echo}
	require.Eventually(t, func() bool { return h.pendingCount() == 0 }, time.Second, 5*time.Millisecond)

	v = h.engine.Snapshot()
	assert.Equal(t, []uint64{10}, ids(v))
	assert.Len(t, v.Entries, 1)
}

func TestEngineResponseBeforeEcho(t *testing.T) {
	h := newHarness(t, Config{}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("hello", nil)
	call := h.nextSend(t)

	msg := message(10, alice, "hello", time.Now())
	call.reply <- sendResult{msg: &msg}
	require.Eventually(t, func() bool {
		return len(ids(h.engine.Snapshot())) == 1
	}, time.Second, 5*time.Millisecond)

	h.engine.HandleEvent(event(t, ws.EventMessageCreated, msg))
	v := h.engine.Snapshot()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, ServerRef{ID: 10}, v.Entries[0].Ref)

	cached := h.cache.Get(testRoom)
	require.Len(t, cached, 1)
	assert.Equal(t, uint64(10), cached[0].ID)
}

func TestEngineEchoOutsideWindowIsNotReconciled(t *testing.T) {
	h := newHarness(t, Config{ReconcileWindow: time.Second}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("hello", nil)
	h.nextSend(t)

	old := message(3, alice, "hello", time.Now().Add(-time.Minute))
	h.engine.HandleEvent(event(t, ws.EventMessageCreated, old))

	v := h.engine.Snapshot()
	require.Len(t, v.Entries, 2)
	assert.Equal(t, ServerRef{ID: 3}, v.Entries[0].Ref)
	assert.Equal(t, StatusSending, v.Entries[1].Status)
}

func TestEngineFailedSendCanBeRetried(t *testing.T) {
	h := newHarness(t, Config{}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("hello", nil)
	call := h.nextSend(t)
	call.reply <- sendResult{err: errors.New("connection reset")}

	require.Eventually(t, func() bool {
		v := h.engine.Snapshot()
		return len(v.Entries) == 1 && v.Entries[0].Status == StatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []NoticeKind{NoticeSendFailed}, h.rec.noticeKinds())

	failed := h.engine.Snapshot().Entries[0]
	tempID, ok := failed.tempID()
	require.True(t, ok)

	h.engine.Retry(tempID)
	call = h.nextSend(t)
	assert.Equal(t, "hello", call.body)

	v := h.engine.Snapshot()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, StatusSending, v.Entries[0].Status)
	retryID, _ := v.Entries[0].tempID()
	assert.NotEqual(t, tempID, retryID)

	msg := message(11, alice, "hello", time.Now())
	call.reply <- sendResult{msg: &msg}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]uint64{11}, ids(h.engine.Snapshot()))
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.engine.Snapshot().Entries, 1)
}

func TestEngineRateLimitedSendIsWithdrawn(t *testing.T) {
	h := newHarness(t, Config{}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("hello", nil)
	call := h.nextSend(t)
	call.reply <- sendResult{err: &APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", RetryAfter: 3 * time.Second}}

	require.Eventually(t, func() bool {
		return h.rec.lastNotice().Kind == NoticeRateLimited
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3*time.Second, h.rec.lastNotice().RetryAfter)
	assert.Empty(t, h.engine.Snapshot().Entries)
}

func TestEngineSendTimesOut(t *testing.T) {
	h := newHarness(t, Config{SendTimeout: 50 * time.Millisecond}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("hello", nil)
	h.nextSend(t)

	require.Eventually(t, func() bool {
		v := h.engine.Snapshot()
		return len(v.Entries) == 1 && v.Entries[0].Status == StatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.rec.noticeKinds(), NoticeSendFailed)
}

func TestEngineEmptySendIgnored(t *testing.T) {
	h := newHarness(t, Config{}, newFakeAPI(), nil)
	h.open(t)

	h.engine.Send("   ", nil)
	assert.Empty(t, h.engine.Snapshot().Entries)
	assert.Empty(t, h.api.sends)
}

func TestEngineOpenPaintsCacheThenReplaces(t *testing.T) {
	now := time.Now()
	cache := NewCache(time.Hour, 200)
	cache.Put(testRoom, []dto.MessageResponse{
		message(1, bob, "stale", now),
		message(2, bob, "kept", now),
	})

	gate := make(chan struct{})
	api := newFakeAPI()
	api.history = func(*uint64, int) (*dto.HistoryResponse, error) {
		<-gate
		return &dto.HistoryResponse{Messages: []dto.MessageResponse{
			message(2, bob, "kept", now),
			message(3, bob, "fresh", now),
		}}, nil
	}
	h := newHarness(t, Config{}, api, cache)

	h.engine.Open()
	v := h.engine.Snapshot()
	assert.Equal(t, []uint64{1, 2}, ids(v))
	assert.True(t, v.Loading)

	close(gate)
	require.Eventually(t, func() bool {
		return !h.engine.Snapshot().Loading
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []uint64{2, 3}, ids(h.engine.Snapshot()))
	cached := cache.Get(testRoom)
	require.Len(t, cached, 2)
	assert.Equal(t, "fresh", cached[1].Body)
}

func TestEngineOnScrollLoadsOlder(t *testing.T) {
	now := time.Now()
	page := func(from, to uint64) []dto.MessageResponse {
		var out []dto.MessageResponse
		for id := from; id <= to; id++ {
			out = append(out, message(id, bob, "m", now))
		}
		return out
	}

	api := newFakeAPI()
	api.history = func(before *uint64, limit int) (*dto.HistoryResponse, error) {
		if before == nil {
			return &dto.HistoryResponse{Messages: page(51, 100), HasMore: true}, nil
		}
		// overlaps the current oldest entry by one
		return &dto.HistoryResponse{Messages: page(2, 51), HasMore: false}, nil
	}
	h := newHarness(t, Config{PageSize: 50, LoadThreshold: 100}, api, nil)
	h.open(t)

	v := h.engine.Snapshot()
	require.Len(t, v.Entries, 50)
	assert.True(t, v.HasMore)

	h.engine.OnScroll(500)
	assert.False(t, h.engine.Snapshot().Loading)
	assert.Equal(t, 1, api.historyCalls())

	h.engine.OnScroll(20)
	require.Eventually(t, func() bool {
		v := h.engine.Snapshot()
		return !v.Loading && len(v.Entries) == 99
	}, time.Second, 5*time.Millisecond)

	v = h.engine.Snapshot()
	got := ids(v)
	assert.Equal(t, uint64(2), got[0])
	assert.Equal(t, uint64(100), got[len(got)-1])
	assert.False(t, v.HasMore)
	assert.Zero(t, v.Anchor)
	assert.True(t, h.rec.sawAnchor(51))

	api.mu.Lock()
	require.Len(t, api.historyLog, 2)
	require.NotNil(t, api.historyLog[1])
	assert.Equal(t, uint64(51), *api.historyLog[1])
	api.mu.Unlock()

	h.engine.OnScroll(0)
	assert.False(t, h.engine.Snapshot().Loading)
	assert.Equal(t, 2, api.historyCalls())
}

func TestEngineLoadFailureNotifies(t *testing.T) {
	api := newFakeAPI()
	api.history = func(*uint64, int) (*dto.HistoryResponse, error) {
		return nil, &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	}
	h := newHarness(t, Config{}, api, nil)
	h.open(t)

	assert.Equal(t, []NoticeKind{NoticeLoadFailed}, h.rec.noticeKinds())
	assert.Empty(t, h.engine.Snapshot().Entries)
}

func TestEngineOutboundTyping(t *testing.T) {
	h := newHarness(t, Config{TypingInterval: time.Hour, TypingIdle: 50 * time.Millisecond}, newFakeAPI(), nil)

	h.engine.KeyPress()
	h.engine.KeyPress()
	h.engine.KeyPress()
	h.engine.Snapshot()
	assert.Equal(t, []ws.EventType{ws.EventTypingStart}, h.sock.types())

	require.Eventually(t, func() bool {
		return len(h.sock.types()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, ws.EventTypingStop, h.sock.types()[1])

	h.engine.KeyPress()
	h.engine.Send("hi", nil)
	h.engine.Snapshot()
	assert.Equal(t, []ws.EventType{
		ws.EventTypingStart, ws.EventTypingStop,
		ws.EventTypingStart, ws.EventTypingStop,
	}, h.sock.types())

	// the idle timer was cancelled by the send
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.sock.types(), 4)
}

func TestEngineIncomingTyping(t *testing.T) {
	h := newHarness(t, Config{TypingExpiry: 300 * time.Millisecond}, newFakeAPI(), nil)

	typing := func(typ ws.EventType, who models.Identity) ws.Event {
		ev, err := ws.NewEvent(typ, testRoom, who.UserID, ws.TypingData{UserName: who.DisplayName})
		require.NoError(t, err)
		return ev
	}

	h.engine.HandleEvent(typing(ws.EventTypingStart, alice))
	assert.Empty(t, h.engine.Snapshot().Typing)

	carol := models.Identity{UserID: 3, DisplayName: "Carol"}
	h.engine.HandleEvent(typing(ws.EventTypingStart, bob))
	h.engine.HandleEvent(typing(ws.EventTypingStart, carol))
	assert.Equal(t, []string{"Bob", "Carol"}, h.engine.Snapshot().Typing)

	h.engine.HandleEvent(typing(ws.EventTypingStop, carol))
	assert.Equal(t, []string{"Bob"}, h.engine.Snapshot().Typing)

	require.Eventually(t, func() bool {
		return len(h.engine.Snapshot().Typing) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEngineConnectedJoinsAndRefetches(t *testing.T) {
	h := newHarness(t, Config{}, newFakeAPI(), nil)

	h.engine.Connected()
	h.engine.Snapshot()
	require.Equal(t, []ws.EventType{ws.EventJoin}, h.sock.types())
	h.sock.mu.Lock()
	assert.Equal(t, testRoom, h.sock.frames[0].RoomID)
	h.sock.mu.Unlock()

	h.open(t)
	assert.Equal(t, 1, h.api.historyCalls())

	h.engine.Connected()
	require.Eventually(t, func() bool {
		return h.api.historyCalls() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ws.EventType{ws.EventJoin, ws.EventJoin}, h.sock.types())
}

func TestEngineAppliesRemoteChanges(t *testing.T) {
	now := time.Now()
	api := newFakeAPI()
	api.history = func(*uint64, int) (*dto.HistoryResponse, error) {
		return &dto.HistoryResponse{Messages: []dto.MessageResponse{
			message(1, bob, "one", now),
			message(2, bob, "two", now),
			message(3, bob, "three", now),
		}}, nil
	}
	h := newHarness(t, Config{}, api, nil)
	h.open(t)

	edited := message(2, bob, "two, edited", now)
	edited.State = string(models.StateEdited)
	h.engine.HandleEvent(event(t, ws.EventMessageUpdated, edited))

	unsent := message(3, bob, "", now)
	unsent.State = string(models.StateUnsent)
	h.engine.HandleEvent(event(t, ws.EventMessageUnsent, unsent))

	h.engine.HandleEvent(event(t, ws.EventMessageDeleted, message(1, bob, "", now)))

	elsewhere := message(4, bob, "other room", now)
	elsewhere.RoomID = testRoom + 1
	h.engine.HandleEvent(event(t, ws.EventMessageCreated, elsewhere))

	v := h.engine.Snapshot()
	require.Equal(t, []uint64{2, 3}, ids(v))
	assert.Equal(t, "two, edited", v.Entries[0].Message.Body)
	assert.Equal(t, string(models.StateUnsent), v.Entries[1].Message.State)

	errEv, err := ws.NewEvent(ws.EventError, 0, 0, ws.ErrorData{Error: "not in room"})
	require.NoError(t, err)
	h.engine.HandleEvent(errEv)
	h.engine.Snapshot()
	assert.Equal(t, Notice{Kind: NoticeServerError, Message: "not in room"}, h.rec.lastNotice())
}

func TestEngineMutationResults(t *testing.T) {
	now := time.Now()
	api := newFakeAPI()
	api.history = func(*uint64, int) (*dto.HistoryResponse, error) {
		return &dto.HistoryResponse{Messages: []dto.MessageResponse{
			message(5, alice, "mine", now),
			message(6, bob, "theirs", now),
		}}, nil
	}
	api.mutation = func(id uint64) (*dto.MessageResponse, error) {
		switch id {
		case 5:
			m := message(5, alice, "mine", now)
			m.DeletedForAuthor = true
			return &m, nil
		default:
			return nil, &APIError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "not yours"}
		}
	}
	h := newHarness(t, Config{}, api, nil)
	h.open(t)

	h.engine.Delete(5, false)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]uint64{6}, ids(h.engine.Snapshot()))
	}, time.Second, 5*time.Millisecond)

	h.engine.Edit(6, "hijack")
	require.Eventually(t, func() bool {
		return h.rec.lastNotice().Kind == NoticeActionFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "theirs", h.engine.Snapshot().Entries[0].Message.Body)
}
