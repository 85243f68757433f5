package database

import (
	"context"
	"errors"

	"github.com/thereayou/clubchat/internal/models"
	"gorm.io/gorm"
)

// Memberships answers the moderator question from the club_members table.
type Memberships struct {
	db *gorm.DB
}

func NewMemberships(db *gorm.DB) *Memberships {
	return &Memberships{db: db}
}

// CanModerate is true for portal admins and for approved leaders or presidents
// of the club that owns the room.
func (m *Memberships) CanModerate(ctx context.Context, actor models.Identity, roomID uint64) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}

	var member models.ClubMember
	err := m.db.WithContext(ctx).
		Where("club_id = ? AND user_id = ?", roomID, actor.UserID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.Moderates(), nil
}
