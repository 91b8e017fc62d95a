package models

import "time"

// Dependency edge types
const (
	DependencyBlocks    = "blocks"
	DependencyBlockedBy = "blocked_by"
	DependencyDependsOn = "depends_on"
	DependencyRelatesTo = "relates_to"
)

// FeatureDependency is a typed directed edge between two features of the same team.
// One row is stored per logical relation; the reverse view is derived when reading.
type FeatureDependency struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	SourceFeatureID uint      `gorm:"not null;uniqueIndex:idx_feature_dependencies_edge;index;check:chk_feature_dependencies_no_self,source_feature_id <> target_feature_id" json:"source_feature_id"`
	TargetFeatureID uint      `gorm:"not null;uniqueIndex:idx_feature_dependencies_edge;index" json:"target_feature_id"`
	DependencyType  string    `gorm:"not null;uniqueIndex:idx_feature_dependencies_edge" json:"dependency_type"`
	CreatedBy       uint      `gorm:"not null" json:"created_by"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Relations
	SourceFeature *Feature `gorm:"foreignKey:SourceFeatureID" json:"source_feature,omitempty"`
	TargetFeature *Feature `gorm:"foreignKey:TargetFeatureID" json:"target_feature,omitempty"`
}
