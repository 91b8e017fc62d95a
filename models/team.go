package models

import (
	"time"

	"gorm.io/gorm"
)

// Member roles inside a team
const (
	MemberRoleAdmin        = "admin"
	MemberRoleUser         = "user"
	MemberRoleProductOwner = "product-owner"
)

// Team groups users around a shared backlog of features
type Team struct {
	gorm.Model
	Name           string `gorm:"not null" json:"name"`
	Description    string `json:"description"`
	CreatedBy      uint   `gorm:"not null;index" json:"created_by"`
	CreatedByEmail string `json:"created_by_email"`

	// Relations
	Members []TeamMember `gorm:"foreignKey:TeamID" json:"members,omitempty"`
}

// TeamMember represents team members and their roles.
// Rows are hard deleted so a removed user can be added again.
type TeamMember struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	TeamID   uint      `gorm:"not null;uniqueIndex:idx_team_members_team_user" json:"team_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_team_members_team_user;index" json:"user_id"`
	Role     string    `gorm:"not null;default:'user'" json:"role"` // admin, user, product-owner
	JoinedAt time.Time `json:"joined_at"`

	// Relations
	Team *Team `json:"-"`
	User *User `json:"user,omitempty"`
}

// IsValidMemberRole reports whether role is one of the team member roles
func IsValidMemberRole(role string) bool {
	switch role {
	case MemberRoleAdmin, MemberRoleUser, MemberRoleProductOwner:
		return true
	}
	return false
}
