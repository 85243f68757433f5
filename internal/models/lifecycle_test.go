package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from LifecycleState
		op   Operation
		to   LifecycleState
		ok   bool
	}{
		{StateSent, OpEdit, StateEdited, true},
		{StateEdited, OpEdit, StateEdited, true},
		{StateSent, OpUnsend, StateUnsent, true},
		{StateEdited, OpDeleteForEveryone, StateDeleted, true},
		{StateSent, OpHideForAuthor, StateSent, true},
		{StateUnsent, OpHideForAuthor, StateUnsent, true},
		{StateUnsent, OpEdit, StateUnsent, false},
		{StateUnsent, OpUnsend, StateUnsent, false},
		{StateUnsent, OpDeleteForEveryone, StateUnsent, false},
		{StateDeleted, OpEdit, StateDeleted, false},
		{StateDeleted, OpUnsend, StateDeleted, false},
		{StateDeleted, OpHideForAuthor, StateDeleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.op.String(), func(t *testing.T) {
			to, ok := tt.from.Next(tt.op)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestStatesAllowing(t *testing.T) {
	assert.Equal(t, []LifecycleState{StateSent, StateEdited}, StatesAllowing(OpEdit))
	assert.Equal(t, []LifecycleState{StateSent, StateEdited}, StatesAllowing(OpUnsend))
	assert.Equal(t, []LifecycleState{StateSent, StateEdited, StateUnsent}, StatesAllowing(OpHideForAuthor))
}

func TestLifecycleScanRejectsUnknown(t *testing.T) {
	var s LifecycleState
	require.NoError(t, s.Scan([]byte("edited")))
	assert.Equal(t, StateEdited, s)

	assert.Error(t, s.Scan("sending"))
	assert.Error(t, s.Scan(42))

	_, err := LifecycleState("failed").Value()
	assert.Error(t, err)
}

func TestVisibleBody(t *testing.T) {
	m := ChatMessage{Body: "secret", State: StateUnsent}
	assert.Equal(t, UnsentBody, m.VisibleBody())

	m.State = StateDeleted
	assert.Equal(t, DeletedBody, m.VisibleBody())

	m.State = StateEdited
	assert.Equal(t, "secret", m.VisibleBody())
}

func TestClubMemberModerates(t *testing.T) {
	assert.True(t, ClubMember{Role: MemberRoleLeader, Status: MemberStatusApproved}.Moderates())
	assert.True(t, ClubMember{Role: MemberRolePresident, Status: MemberStatusApproved}.Moderates())
	assert.False(t, ClubMember{Role: MemberRoleLeader, Status: MemberStatusPending}.Moderates())
	assert.False(t, ClubMember{Role: MemberRoleMember, Status: MemberStatusApproved}.Moderates())
}
