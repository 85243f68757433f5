package models

// ChangeKind names a committed lifecycle change, as seen by notifiers.
type ChangeKind string

const (
	ChangeCreated          ChangeKind = "created"
	ChangeUpdated          ChangeKind = "updated"
	ChangeUnsent           ChangeKind = "unsent"
	ChangeDeleted          ChangeKind = "deleted"
	ChangeDeletedForAuthor ChangeKind = "deleted_for_author"
)
