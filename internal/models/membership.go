package models

import "time"

const (
	MemberRoleMember    = "member"
	MemberRoleLeader    = "leader"
	MemberRolePresident = "president"

	MemberStatusPending  = "pending"
	MemberStatusApproved = "approved"
	MemberStatusRejected = "rejected"
)

// ClubMember is owned by the club administration side of the portal. Chat only
// reads it to decide who moderates a room.
type ClubMember struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ClubID    uint64 `gorm:"not null;uniqueIndex:ux_club_member,priority:1"`
	UserID    uint64 `gorm:"not null;uniqueIndex:ux_club_member,priority:2"`
	Role      string `gorm:"size:32;not null;default:'member'"`
	Status    string `gorm:"size:32;not null;default:'pending'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ClubMember) TableName() string { return "club_members" }

// Moderates reports whether this membership grants delete-for-everyone.
func (m ClubMember) Moderates() bool {
	if m.Status != MemberStatusApproved {
		return false
	}
	return m.Role == MemberRoleLeader || m.Role == MemberRolePresident
}
