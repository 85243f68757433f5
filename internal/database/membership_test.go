package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/clubchat/internal/models"
)

func TestCanModerate(t *testing.T) {
	db := newTestDB(t)
	m := NewMemberships(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&[]models.ClubMember{
		{ClubID: 7, UserID: 1, Role: models.MemberRolePresident, Status: models.MemberStatusApproved},
		{ClubID: 7, UserID: 2, Role: models.MemberRoleLeader, Status: models.MemberStatusPending},
		{ClubID: 7, UserID: 3, Role: models.MemberRoleMember, Status: models.MemberStatusApproved},
	}).Error)

	tests := []struct {
		name  string
		actor models.Identity
		room  uint64
		want  bool
	}{
		{"president", models.Identity{UserID: 1}, 7, true},
		{"president of another club", models.Identity{UserID: 1}, 8, false},
		{"pending leader", models.Identity{UserID: 2}, 7, false},
		{"plain member", models.Identity{UserID: 3}, 7, false},
		{"stranger", models.Identity{UserID: 4}, 7, false},
		{"admin", models.Identity{UserID: 5, Role: models.RoleAdmin}, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.CanModerate(ctx, tt.actor, tt.room)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
