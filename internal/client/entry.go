// Package client is the terminal-side chat engine: an optimistic, cached,
// date-grouped view of one club room kept live over the websocket.
package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/thereayou/clubchat/internal/handlers/dto"
)

// Status of an entry in the local list. Only sent entries exist on the server.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Ref identifies an entry: LocalRef before the server has acknowledged it,
// ServerRef after.
type Ref interface {
	isRef()
}

// LocalRef is the engine's own handle for an optimistic send. TempID never
// leaves the engine.
type LocalRef struct {
	TempID uuid.UUID
}

type ServerRef struct {
	ID uint64
}

func (LocalRef) isRef()  {}
func (ServerRef) isRef() {}

// Entry is one row of the visible list.
type Entry struct {
	Ref     Ref
	Status  Status
	Message dto.MessageResponse

	cached bool
}

func (e *Entry) serverID() (uint64, bool) {
	if r, ok := e.Ref.(ServerRef); ok {
		return r.ID, true
	}
	return 0, false
}

func (e *Entry) tempID() (uuid.UUID, bool) {
	if r, ok := e.Ref.(LocalRef); ok {
		return r.TempID, true
	}
	return uuid.Nil, false
}

func serverEntry(m dto.MessageResponse) *Entry {
	return &Entry{Ref: ServerRef{ID: m.ID}, Status: StatusSent, Message: m}
}

// NoticeKind classifies something the UI should surface once.
type NoticeKind string

const (
	NoticeRateLimited  NoticeKind = "rate-limited"
	NoticeSendFailed   NoticeKind = "send-failed"
	NoticeActionFailed NoticeKind = "action-failed"
	NoticeLoadFailed   NoticeKind = "load-failed"
	NoticeServerError  NoticeKind = "server-error"
)

type Notice struct {
	Kind       NoticeKind
	Message    string
	RetryAfter time.Duration
}

// View is an immutable snapshot of the engine state.
type View struct {
	RoomID  uint64
	Entries []Entry
	Typing  []string
	HasMore bool
	Loading bool

	// Anchor is the first entry that was visible before older messages were
	// prepended; the UI keeps it in place. Zero when nothing was prepended.
	Anchor uint64
}

// Groups buckets the view by calendar day relative to now.
func (v View) Groups(now time.Time) []DateGroup {
	return GroupByDate(v.Entries, now)
}
