package models

import "strconv"

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Identity is the authenticated caller as vouched for by the auth collaborator.
type Identity struct {
	UserID      uint64 `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (i Identity) Subject() string { return strconv.FormatUint(i.UserID, 10) }
