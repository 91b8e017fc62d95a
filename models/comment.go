package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MentionRef is a resolved @mention stored alongside the comment
type MentionRef struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Comment is a message on a feature, optionally replying to another comment
type Comment struct {
	gorm.Model
	FeatureID uint                            `gorm:"not null;index" json:"feature_id"`
	UserID    uint                            `gorm:"not null;index" json:"user_id"`
	Content   string                          `gorm:"type:text;not null" json:"content"`
	ParentID  *uint                           `gorm:"index" json:"parent_id"`
	Mentions  datatypes.JSONSlice[MentionRef] `json:"mentions"`
	IsEdited  bool                            `gorm:"not null;default:false" json:"is_edited"`
	EditedAt  *time.Time                      `json:"edited_at,omitempty"`

	// Relations
	User *User `json:"user,omitempty"`
}
