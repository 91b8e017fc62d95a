package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Feature workflow states
const (
	FeatureStatusBacklog    = "backlog"
	FeatureStatusInProgress = "in_progress"
	FeatureStatusReview     = "review"
	FeatureStatusDone       = "done"
)

// Feature priorities. "urgent" is accepted on input and stored as critical.
const (
	FeaturePriorityLow      = "low"
	FeaturePriorityMedium   = "medium"
	FeaturePriorityHigh     = "high"
	FeaturePriorityCritical = "critical"
	FeaturePriorityUrgent   = "urgent"
)

// Feature types. Only parent features may have children.
const (
	FeatureTypeParent   = "parent"
	FeatureTypeStory    = "story"
	FeatureTypeTask     = "task"
	FeatureTypeResearch = "research"
)

// Feature is a trackable unit of work owned by a team
type Feature struct {
	gorm.Model
	Title       string                      `gorm:"not null" json:"title"`
	Description string                      `gorm:"type:text" json:"description"`
	Status      string                      `gorm:"not null;default:'backlog';index" json:"status"`
	Priority    string                      `gorm:"not null;default:'medium'" json:"priority"`
	Type        string                      `gorm:"not null;default:'story'" json:"type"`
	ParentID    *uint                       `gorm:"index" json:"parent_id"`
	TeamID      uint                        `gorm:"not null;index" json:"team_id"`
	CreatedBy   uint                        `gorm:"not null" json:"created_by"`
	AssignedTo  *uint                       `json:"assigned_to"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	DueDate     *time.Time                  `json:"due_date"`
	Votes       int                         `gorm:"not null;default:0" json:"votes"`
	Impact      int                         `json:"impact"`
	Effort      int                         `json:"effort"`

	// Relations
	Creator  *User `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Assignee *User `gorm:"foreignKey:AssignedTo" json:"assignee,omitempty"`
}

// IsValidFeatureStatus reports whether status is a known workflow state
func IsValidFeatureStatus(status string) bool {
	switch status {
	case FeatureStatusBacklog, FeatureStatusInProgress, FeatureStatusReview, FeatureStatusDone:
		return true
	}
	return false
}

// NormalizePriority maps input priorities onto the stored set.
// The second return value is false for unknown priorities.
func NormalizePriority(priority string) (string, bool) {
	switch priority {
	case FeaturePriorityLow, FeaturePriorityMedium, FeaturePriorityHigh, FeaturePriorityCritical:
		return priority, true
	case FeaturePriorityUrgent:
		return FeaturePriorityCritical, true
	}
	return "", false
}

// IsValidFeatureType reports whether t is a known feature type
func IsValidFeatureType(t string) bool {
	switch t {
	case FeatureTypeParent, FeatureTypeStory, FeatureTypeTask, FeatureTypeResearch:
		return true
	}
	return false
}
