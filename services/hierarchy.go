package services

import (
	"context"
	"errors"

	"featureforge/models"

	"gorm.io/gorm"
)

// MaxHierarchyDepth is the deepest level a feature may sit at, counting roots as 1
const MaxHierarchyDepth = 2

var (
	canHaveChildren = map[string]bool{
		models.FeatureTypeParent: true,
	}
	canBeChildren = map[string]bool{
		models.FeatureTypeStory:    true,
		models.FeatureTypeTask:     true,
		models.FeatureTypeResearch: true,
	}
)

// ValidateHierarchy checks that a feature of childType may be placed under one of parentType
func ValidateHierarchy(parentType, childType string) error {
	if !canHaveChildren[parentType] {
		return invalid("Features of type %q cannot have children", parentType)
	}
	if !canBeChildren[childType] {
		return invalid("Features of type %q cannot be children", childType)
	}
	return nil
}

// validateDepth walks the ancestry of parentID and fails when a child attached
// below it would exceed MaxHierarchyDepth, or when childID already appears in
// that ancestry. childID is zero for features that do not exist yet.
func validateDepth(tx *gorm.DB, parentID, childID uint) error {
	seen := make(map[uint]bool)
	depth := 0
	current := parentID
	for {
		if childID != 0 && current == childID {
			return invalid("A feature cannot be its own ancestor")
		}
		if seen[current] {
			return invalid("Feature hierarchy contains a cycle")
		}
		seen[current] = true
		depth++

		var f models.Feature
		if err := tx.Select("id", "parent_id").First(&f, current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("Parent feature not found")
			}
			return err
		}
		if f.ParentID == nil {
			break
		}
		current = *f.ParentID
	}

	if depth+1 > MaxHierarchyDepth {
		return invalid("Maximum hierarchy depth of %d exceeded", MaxHierarchyDepth)
	}
	return nil
}

// ValidateDepth reports whether a new child may be attached below parentID
func ValidateDepth(ctx context.Context, db *gorm.DB, parentID uint) error {
	tx, err := conn(ctx, db)
	if err != nil {
		return err
	}
	return validateDepth(tx, parentID, 0)
}
