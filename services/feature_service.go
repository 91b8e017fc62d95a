package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"featureforge/models"
	"featureforge/utils"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateFeatureInput describes a new feature. Empty status, priority and type
// fall back to backlog, medium and story.
type CreateFeatureInput struct {
	TeamID      uint
	ActorID     uint
	Title       string
	Description string
	Status      string
	Priority    string
	Type        string
	ParentID    *uint
	AssignedTo  *uint
	Tags        []string
	DueDate     *time.Time
	Impact      int
	Effort      int
}

// UpdateFeatureInput carries the fields to change; nil fields are left alone.
// ClearParent and ClearAssignee reset the corresponding reference to null.
type UpdateFeatureInput struct {
	Title         *string
	Description   *string
	Status        *string
	Priority      *string
	Type          *string
	ParentID      *uint
	ClearParent   bool
	AssignedTo    *uint
	ClearAssignee bool
	Tags          []string
	DueDate       *time.Time
	Impact        *int
	Effort        *int
}

// FeatureFilter narrows ListFeatures. RootOnly selects features without a parent.
type FeatureFilter struct {
	Status     string
	Type       string
	ParentID   *uint
	RootOnly   bool
	AssignedTo *uint
	Search     string
}

// FeatureNode is a feature with its children attached
type FeatureNode struct {
	*models.Feature
	Children []*FeatureNode `json:"children"`
}

// BuildFeatureTree assembles parent to child trees from a flat list. A feature
// whose parent is not in the list becomes a root.
func BuildFeatureTree(features []models.Feature) []*FeatureNode {
	nodes := make(map[uint]*FeatureNode, len(features))
	for i := range features {
		nodes[features[i].ID] = &FeatureNode{Feature: &features[i], Children: []*FeatureNode{}}
	}

	roots := make([]*FeatureNode, 0)
	for i := range features {
		node := nodes[features[i].ID]
		if features[i].ParentID != nil {
			if parent, ok := nodes[*features[i].ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// FeatureService manages features inside teams
type FeatureService struct {
	db            *gorm.DB
	notifications *NotificationService
}

func NewFeatureService(db *gorm.DB, notifications *NotificationService) *FeatureService {
	return &FeatureService{db: db, notifications: notifications}
}

// checkParent validates placing a feature of childType below parentID.
// childID is zero for a feature that does not exist yet.
func checkParent(tx *gorm.DB, teamID, parentID, childID uint, childType string) error {
	var parent models.Feature
	if err := tx.First(&parent, parentID).Error; err != nil {
		return notFoundOr(err, "Parent feature not found")
	}
	if parent.TeamID != teamID {
		return invalid("Parent feature must belong to the same team")
	}
	if err := ValidateHierarchy(parent.Type, childType); err != nil {
		return err
	}
	return validateDepth(tx, parentID, childID)
}

func checkAssignee(tx *gorm.DB, teamID, userID uint) error {
	role, err := memberRole(tx, teamID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return invalid("Assignee must be a member of the team")
	}
	return nil
}

func cleanTags(tags []string) datatypes.JSONSlice[string] {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *FeatureService) CreateFeature(ctx context.Context, in CreateFeatureInput) (*models.Feature, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("Feature title is required")
	}
	if in.Status == "" {
		in.Status = models.FeatureStatusBacklog
	}
	if !models.IsValidFeatureStatus(in.Status) {
		return nil, invalid("Invalid feature status %q", in.Status)
	}
	if in.Priority == "" {
		in.Priority = models.FeaturePriorityMedium
	}
	priority, ok := models.NormalizePriority(in.Priority)
	if !ok {
		return nil, invalid("Invalid feature priority %q", in.Priority)
	}
	if in.Type == "" {
		in.Type = models.FeatureTypeStory
	}
	if !models.IsValidFeatureType(in.Type) {
		return nil, invalid("Invalid feature type %q", in.Type)
	}

	var feature models.Feature
	err = db.Transaction(func(tx *gorm.DB) error {
		var team models.Team
		if err := tx.Select("id").First(&team, in.TeamID).Error; err != nil {
			return notFoundOr(err, "Team not found")
		}
		if _, err := requireMember(tx, in.TeamID, in.ActorID); err != nil {
			return err
		}
		if in.ParentID != nil {
			if err := checkParent(tx, in.TeamID, *in.ParentID, 0, in.Type); err != nil {
				return err
			}
		}
		if in.AssignedTo != nil {
			if err := checkAssignee(tx, in.TeamID, *in.AssignedTo); err != nil {
				return err
			}
		}

		feature = models.Feature{
			Title:       title,
			Description: in.Description,
			Status:      in.Status,
			Priority:    priority,
			Type:        in.Type,
			ParentID:    in.ParentID,
			TeamID:      in.TeamID,
			CreatedBy:   in.ActorID,
			AssignedTo:  in.AssignedTo,
			Tags:        cleanTags(in.Tags),
			DueDate:     in.DueDate,
			Impact:      in.Impact,
			Effort:      in.Effort,
		}
		if err := tx.Create(&feature).Error; err != nil {
			return err
		}
		return tx.Preload("Creator").Preload("Assignee").First(&feature, feature.ID).Error
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("feature_created", map[string]interface{}{
		"feature_id": feature.ID,
		"team_id":    feature.TeamID,
		"type":       feature.Type,
		"actor_id":   in.ActorID,
	})
	return &feature, nil
}

func (s *FeatureService) GetFeature(ctx context.Context, featureID, actorID uint) (*models.Feature, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var feature models.Feature
	if err := db.Preload("Creator").Preload("Assignee").First(&feature, featureID).Error; err != nil {
		return nil, notFoundOr(err, "Feature not found")
	}
	if _, err := requireVisible(db, feature.TeamID, actorID, "Feature not found"); err != nil {
		return nil, err
	}
	return &feature, nil
}

func (s *FeatureService) ListFeatures(ctx context.Context, teamID, actorID uint, filter FeatureFilter) ([]models.Feature, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if _, err := requireMember(db, teamID, actorID); err != nil {
		return nil, err
	}

	query := db.Preload("Assignee").Where("team_id = ?", teamID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.ParentID != nil {
		query = query.Where("parent_id = ?", *filter.ParentID)
	} else if filter.RootOnly {
		query = query.Where("parent_id IS NULL")
	}
	if filter.AssignedTo != nil {
		query = query.Where("assigned_to = ?", *filter.AssignedTo)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := containsPattern(search)
		query = query.Where(`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`, pattern, pattern)
	}

	var features []models.Feature
	if err := query.Order("created_at desc, id desc").Find(&features).Error; err != nil {
		return nil, err
	}
	return features, nil
}

// UpdateFeature applies in to a feature. A status change notifies the creator
// and the assignee unless they made the change themselves.
func (s *FeatureService) UpdateFeature(ctx context.Context, featureID, actorID uint, in UpdateFeatureInput) (*models.Feature, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var (
		feature   models.Feature
		notes     []models.Notification
		oldStatus string
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&feature, featureID).Error; err != nil {
			return notFoundOr(err, "Feature not found")
		}
		if _, err := requireVisible(tx, feature.TeamID, actorID, "Feature not found"); err != nil {
			return err
		}
		oldStatus = feature.Status

		updates := map[string]interface{}{}
		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return invalid("Feature title is required")
			}
			updates["title"] = title
		}
		if in.Description != nil {
			updates["description"] = *in.Description
		}
		if in.Status != nil {
			if !models.IsValidFeatureStatus(*in.Status) {
				return invalid("Invalid feature status %q", *in.Status)
			}
			updates["status"] = *in.Status
		}
		if in.Priority != nil {
			priority, ok := models.NormalizePriority(*in.Priority)
			if !ok {
				return invalid("Invalid feature priority %q", *in.Priority)
			}
			updates["priority"] = priority
		}

		newType := feature.Type
		if in.Type != nil {
			if !models.IsValidFeatureType(*in.Type) {
				return invalid("Invalid feature type %q", *in.Type)
			}
			newType = *in.Type
			updates["type"] = newType
		}
		if newType != models.FeatureTypeParent {
			var children int64
			if err := tx.Model(&models.Feature{}).Where("parent_id = ?", feature.ID).Count(&children).Error; err != nil {
				return err
			}
			if children > 0 {
				return invalid("Features with children must stay of type %q", models.FeatureTypeParent)
			}
		}

		newParent := feature.ParentID
		switch {
		case in.ClearParent:
			newParent = nil
			updates["parent_id"] = nil
		case in.ParentID != nil:
			newParent = in.ParentID
			updates["parent_id"] = *in.ParentID
		}
		if newParent != nil && (in.ParentID != nil || in.Type != nil) {
			if *newParent == feature.ID {
				return invalid("A feature cannot be its own parent")
			}
			if err := checkParent(tx, feature.TeamID, *newParent, feature.ID, newType); err != nil {
				return err
			}
		}

		switch {
		case in.ClearAssignee:
			updates["assigned_to"] = nil
		case in.AssignedTo != nil:
			if err := checkAssignee(tx, feature.TeamID, *in.AssignedTo); err != nil {
				return err
			}
			updates["assigned_to"] = *in.AssignedTo
		}
		if in.Tags != nil {
			updates["tags"] = cleanTags(in.Tags)
		}
		if in.DueDate != nil {
			updates["due_date"] = *in.DueDate
		}
		if in.Impact != nil {
			updates["impact"] = *in.Impact
		}
		if in.Effort != nil {
			updates["effort"] = *in.Effort
		}

		if len(updates) > 0 {
			if err := tx.Model(&feature).Updates(updates).Error; err != nil {
				return err
			}
		}
		// reload into a zero value so cleared references come back as nil
		id := feature.ID
		feature = models.Feature{}
		if err := tx.Preload("Creator").Preload("Assignee").First(&feature, id).Error; err != nil {
			return err
		}

		if feature.Status != oldStatus {
			var actor models.User
			if err := tx.First(&actor, actorID).Error; err != nil {
				return notFoundOr(err, "User not found")
			}
			notes = statusNotifications(&feature, &actor, oldStatus)
			return s.notifications.create(tx, notes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifications.publish(notes)
	if feature.Status != oldStatus {
		utils.LogEvent("feature_status_changed", map[string]interface{}{
			"feature_id": feature.ID,
			"from":       oldStatus,
			"to":         feature.Status,
			"actor_id":   actorID,
		})
	}
	return &feature, nil
}

func statusNotifications(feature *models.Feature, actor *models.User, oldStatus string) []models.Notification {
	recipients := []uint{feature.CreatedBy}
	if feature.AssignedTo != nil {
		recipients = append(recipients, *feature.AssignedTo)
	}

	notes := make([]models.Notification, 0, len(recipients))
	seen := make(map[uint]bool, len(recipients))
	for _, id := range recipients {
		if id == actor.ID || seen[id] {
			continue
		}
		seen[id] = true
		notes = append(notes, models.Notification{
			UserID:      id,
			Type:        models.NotificationFeatureUpdate,
			RelatedID:   feature.ID,
			RelatedType: "feature",
			Message:     fmt.Sprintf("%s moved %s from %s to %s", displayName(actor), feature.Title, oldStatus, feature.Status),
			TriggeredBy: utils.Pointer(actor.ID),
			Metadata: map[string]interface{}{
				"feature_id": feature.ID,
				"team_id":    feature.TeamID,
				"old_status": oldStatus,
				"new_status": feature.Status,
			},
		})
	}
	return notes
}

// DeleteFeature removes a feature together with its comments and dependency
// edges. Children are detached to the top level. Only the creator or a team
// admin may delete.
func (s *FeatureService) DeleteFeature(ctx context.Context, featureID, actorID uint) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var feature models.Feature
		if err := tx.First(&feature, featureID).Error; err != nil {
			return notFoundOr(err, "Feature not found")
		}
		role, err := requireVisible(tx, feature.TeamID, actorID, "Feature not found")
		if err != nil {
			return err
		}
		if feature.CreatedBy != actorID && role != models.MemberRoleAdmin {
			return forbidden("Only the creator or a team admin can delete this feature")
		}

		if err := tx.Where("source_feature_id = ? OR target_feature_id = ?", featureID, featureID).
			Delete(&models.FeatureDependency{}).Error; err != nil {
			return err
		}
		if err := tx.Where("feature_id = ?", featureID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Feature{}).Where("parent_id = ?", featureID).
			Update("parent_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&feature).Error
	})
	if err != nil {
		return err
	}

	utils.LogEvent("feature_deleted", map[string]interface{}{
		"feature_id": featureID,
		"actor_id":   actorID,
	})
	return nil
}

// Vote adds one vote to a feature
func (s *FeatureService) Vote(ctx context.Context, featureID, actorID uint) (*models.Feature, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var feature models.Feature
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&feature, featureID).Error; err != nil {
			return notFoundOr(err, "Feature not found")
		}
		if _, err := requireVisible(tx, feature.TeamID, actorID, "Feature not found"); err != nil {
			return err
		}
		if err := tx.Model(&feature).UpdateColumn("votes", gorm.Expr("votes + ?", 1)).Error; err != nil {
			return err
		}
		return tx.First(&feature, feature.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &feature, nil
}

// GetFeatureTree returns the team's features as parent to child trees, oldest first
func (s *FeatureService) GetFeatureTree(ctx context.Context, teamID, actorID uint) ([]*FeatureNode, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var team models.Team
	if err := db.Select("id").First(&team, teamID).Error; err != nil {
		return nil, notFoundOr(err, "Team not found")
	}
	if _, err := requireMember(db, teamID, actorID); err != nil {
		return nil, err
	}

	var features []models.Feature
	if err := db.Preload("Assignee").
		Where("team_id = ?", teamID).
		Order("created_at asc, id asc").
		Find(&features).Error; err != nil {
		return nil, err
	}
	return BuildFeatureTree(features), nil
}
