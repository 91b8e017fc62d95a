package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types
const (
	NotificationMention       = "mention"
	NotificationReply         = "reply"
	NotificationFeatureUpdate = "feature_update"
)

// Notification is an in-app alert for a single recipient
type Notification struct {
	ID          uint              `gorm:"primarykey" json:"id"`
	UserID      uint              `gorm:"not null;index" json:"user_id"`
	Type        string            `gorm:"not null" json:"type"` // mention, reply, feature_update
	RelatedID   uint              `json:"related_id"`
	RelatedType string            `json:"related_type"` // comment, feature
	Message     string            `gorm:"not null" json:"message"`
	IsRead      bool              `gorm:"not null;default:false;index" json:"is_read"`
	TriggeredBy *uint             `json:"triggered_by,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
