package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"featureforge/metrics"
	"featureforge/models"
	"featureforge/utils"

	"gorm.io/gorm"
)

var inverseDependencyTypes = map[string]string{
	models.DependencyBlocks:    models.DependencyBlockedBy,
	models.DependencyBlockedBy: models.DependencyBlocks,
	models.DependencyRelatesTo: models.DependencyRelatesTo,
}

// InverseDependencyType returns the type implied on the reverse edge.
// depends_on has no inverse.
func InverseDependencyType(t string) (string, bool) {
	inv, ok := inverseDependencyTypes[t]
	return inv, ok
}

// IsValidDependencyType reports whether t is a known edge type
func IsValidDependencyType(t string) bool {
	switch t {
	case models.DependencyBlocks, models.DependencyBlockedBy, models.DependencyDependsOn, models.DependencyRelatesTo:
		return true
	}
	return false
}

// blockingTypes are the incoming edge types that hold a feature back
var blockingTypes = map[string]bool{
	models.DependencyBlocks:    true,
	models.DependencyDependsOn: true,
}

// FeatureSummary is the compact feature shape embedded in dependency views
type FeatureSummary struct {
	ID       uint   `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
}

func summarize(f *models.Feature) *FeatureSummary {
	if f == nil {
		return nil
	}
	return &FeatureSummary{ID: f.ID, Title: f.Title, Status: f.Status, Type: f.Type, Priority: f.Priority}
}

// Edge is one logical dependency. Derived edges are the reverse reading of a
// stored row and share its DependencyID.
type Edge struct {
	DependencyID    uint            `json:"dependency_id"`
	SourceFeatureID uint            `json:"source_feature_id"`
	TargetFeatureID uint            `json:"target_feature_id"`
	DependencyType  string          `json:"dependency_type"`
	RelationType    string          `json:"relation_type"`
	Derived         bool            `json:"derived"`
	Description     string          `json:"description"`
	CreatedBy       uint            `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	SourceFeature   *FeatureSummary `json:"source_feature,omitempty"`
	TargetFeature   *FeatureSummary `json:"target_feature,omitempty"`
}

type edgeKey struct {
	source, target uint
	kind           string
}

// ExpandEdges returns the stored edges followed by the inverse reading of every
// stored edge whose type has one. An inverse that is itself stored is not repeated.
func ExpandEdges(stored []models.FeatureDependency) []Edge {
	seen := make(map[edgeKey]bool, len(stored)*2)
	edges := make([]Edge, 0, len(stored)*2)

	for _, d := range stored {
		k := edgeKey{d.SourceFeatureID, d.TargetFeatureID, d.DependencyType}
		if seen[k] {
			continue
		}
		seen[k] = true
		edges = append(edges, Edge{
			DependencyID:    d.ID,
			SourceFeatureID: d.SourceFeatureID,
			TargetFeatureID: d.TargetFeatureID,
			DependencyType:  d.DependencyType,
			RelationType:    d.DependencyType,
			Description:     d.Description,
			CreatedBy:       d.CreatedBy,
			CreatedAt:       d.CreatedAt,
		})
	}

	for _, d := range stored {
		inv, ok := InverseDependencyType(d.DependencyType)
		if !ok {
			continue
		}
		k := edgeKey{d.TargetFeatureID, d.SourceFeatureID, inv}
		if seen[k] {
			continue
		}
		seen[k] = true
		edges = append(edges, Edge{
			DependencyID:    d.ID,
			SourceFeatureID: d.TargetFeatureID,
			TargetFeatureID: d.SourceFeatureID,
			DependencyType:  inv,
			RelationType:    inv,
			Derived:         true,
			Description:     d.Description,
			CreatedBy:       d.CreatedBy,
			CreatedAt:       d.CreatedAt,
		})
	}
	return edges
}

// IsBlocked reports whether any edge into featureID of a blocking type comes
// from a feature that is not done. statuses maps feature id to status.
func IsBlocked(featureID uint, edges []Edge, statuses map[uint]string) bool {
	for _, e := range edges {
		if e.TargetFeatureID != featureID || !blockingTypes[e.DependencyType] {
			continue
		}
		if status, ok := statuses[e.SourceFeatureID]; ok && status != models.FeatureStatusDone {
			return true
		}
	}
	return false
}

// DependencyStats counts a feature's outgoing relations by type
type DependencyStats struct {
	Blocking  int `json:"blocking"`
	BlockedBy int `json:"blocked_by"`
	DependsOn int `json:"depends_on"`
	Related   int `json:"related"`
	Outgoing  int `json:"outgoing"`
	Incoming  int `json:"incoming"`
}

// FeatureDependencies is the read view of one feature's edges
type FeatureDependencies struct {
	Feature   *models.Feature `json:"feature"`
	Outgoing  []Edge          `json:"outgoing"`
	Incoming  []Edge          `json:"incoming"`
	Stats     DependencyStats `json:"stats"`
	IsBlocked bool            `json:"is_blocked"`
}

// TeamDependencyStats summarises all edges of a team
type TeamDependencyStats struct {
	Total           int            `json:"total"`
	ByType          map[string]int `json:"by_type"`
	BlockedFeatures int            `json:"blocked_features"`
}

// TeamDependencies is the aggregate view across a team's features
type TeamDependencies struct {
	TeamID            uint                `json:"team_id"`
	Dependencies      []Edge              `json:"dependencies"`
	Stats             TeamDependencyStats `json:"stats"`
	BlockedFeatureIDs []uint              `json:"blocked_feature_ids"`
}

// CreateDependencyInput describes a new edge
type CreateDependencyInput struct {
	SourceID    uint
	TargetID    uint
	Type        string
	Description string
	ActorID     uint
}

// DependencyService manages typed edges between features
type DependencyService struct {
	db *gorm.DB
}

func NewDependencyService(db *gorm.DB) *DependencyService {
	return &DependencyService{db: db}
}

// CreateDependency stores a new edge. The existence checks and the insert share
// one transaction, and an existing inverse edge counts as a duplicate.
func (s *DependencyService) CreateDependency(ctx context.Context, in CreateDependencyInput) (*models.FeatureDependency, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !IsValidDependencyType(in.Type) {
		return nil, invalid("Invalid dependency type %q", in.Type)
	}
	if in.SourceID == in.TargetID {
		return nil, invalid("A feature cannot depend on itself")
	}

	var created models.FeatureDependency
	err = db.Transaction(func(tx *gorm.DB) error {
		var source, target models.Feature
		if err := tx.First(&source, in.SourceID).Error; err != nil {
			return notFoundOr(err, "Source feature not found")
		}
		if _, err := requireVisible(tx, source.TeamID, in.ActorID, "Source feature not found"); err != nil {
			return err
		}
		if err := tx.First(&target, in.TargetID).Error; err != nil {
			return notFoundOr(err, "Target feature not found")
		}
		if source.TeamID != target.TeamID {
			return invalid("Features must belong to the same team")
		}

		exists, err := edgeExists(tx, source.ID, target.ID, in.Type)
		if err != nil {
			return err
		}
		if exists {
			return conflict("Dependency already exists")
		}
		if inv, ok := InverseDependencyType(in.Type); ok {
			exists, err = edgeExists(tx, target.ID, source.ID, inv)
			if err != nil {
				return err
			}
			if exists {
				return conflict("Dependency already exists as %s from the target feature", inv)
			}
		}

		created = models.FeatureDependency{
			SourceFeatureID: source.ID,
			TargetFeatureID: target.ID,
			DependencyType:  in.Type,
			CreatedBy:       in.ActorID,
			Description:     in.Description,
		}
		if err := tx.Create(&created).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return conflict("Dependency already exists")
			}
			return err
		}
		return tx.Preload("SourceFeature").Preload("TargetFeature").First(&created, created.ID).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.DependenciesCreated.WithLabelValues(created.DependencyType).Inc()
	utils.LogEvent("dependency_created", map[string]interface{}{
		"dependency_id": created.ID,
		"source_id":     created.SourceFeatureID,
		"target_id":     created.TargetFeatureID,
		"type":          created.DependencyType,
		"actor_id":      in.ActorID,
	})
	return &created, nil
}

func edgeExists(tx *gorm.DB, sourceID, targetID uint, kind string) (bool, error) {
	var count int64
	err := tx.Model(&models.FeatureDependency{}).
		Where("source_feature_id = ? AND target_feature_id = ? AND dependency_type = ?", sourceID, targetID, kind).
		Count(&count).Error
	return count > 0, err
}

// DeleteDependency removes an edge attached to featureID, together with any
// stored inverse row, in one transaction.
func (s *DependencyService) DeleteDependency(ctx context.Context, featureID, dependencyID, actorID uint) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}

	var removed int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var feature models.Feature
		if err := tx.Select("id", "team_id").First(&feature, featureID).Error; err != nil {
			return notFoundOr(err, "Feature not found")
		}
		if _, err := requireVisible(tx, feature.TeamID, actorID, "Feature not found"); err != nil {
			return err
		}

		var dep models.FeatureDependency
		err := tx.Where("id = ? AND (source_feature_id = ? OR target_feature_id = ?)", dependencyID, featureID, featureID).
			First(&dep).Error
		if err != nil {
			return notFoundOr(err, "Dependency not found")
		}

		if inv, ok := InverseDependencyType(dep.DependencyType); ok {
			res := tx.Where("source_feature_id = ? AND target_feature_id = ? AND dependency_type = ?",
				dep.TargetFeatureID, dep.SourceFeatureID, inv).
				Delete(&models.FeatureDependency{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}

		res := tx.Delete(&dep)
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return err
	}

	metrics.DependenciesDeleted.Add(float64(removed))
	utils.LogEvent("dependency_deleted", map[string]interface{}{
		"dependency_id": dependencyID,
		"feature_id":    featureID,
		"rows":          removed,
		"actor_id":      actorID,
	})
	return nil
}

// GetFeatureDependencies returns the outgoing and incoming edges of a feature,
// including derived inverse readings, with counts and the blocked flag.
func (s *DependencyService) GetFeatureDependencies(ctx context.Context, featureID, actorID uint) (*FeatureDependencies, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var feature models.Feature
	if err := db.First(&feature, featureID).Error; err != nil {
		return nil, notFoundOr(err, "Feature not found")
	}
	if _, err := requireVisible(db, feature.TeamID, actorID, "Feature not found"); err != nil {
		return nil, err
	}

	var stored []models.FeatureDependency
	if err := db.Where("source_feature_id = ? OR target_feature_id = ?", featureID, featureID).
		Order("created_at asc, id asc").
		Find(&stored).Error; err != nil {
		return nil, err
	}

	edges := ExpandEdges(stored)
	features, err := loadFeatures(db, edges, feature)
	if err != nil {
		return nil, err
	}

	view := &FeatureDependencies{
		Feature:  &feature,
		Outgoing: []Edge{},
		Incoming: []Edge{},
	}
	for _, e := range edges {
		e.SourceFeature = summarize(features[e.SourceFeatureID])
		e.TargetFeature = summarize(features[e.TargetFeatureID])
		switch featureID {
		case e.SourceFeatureID:
			view.Outgoing = append(view.Outgoing, e)
			countOutgoing(&view.Stats, e.DependencyType)
		case e.TargetFeatureID:
			// seen from the target, the relation reads as its inverse
			if inv, ok := InverseDependencyType(e.DependencyType); ok {
				e.RelationType = inv
			}
			view.Incoming = append(view.Incoming, e)
		}
	}
	view.Stats.Outgoing = len(view.Outgoing)
	view.Stats.Incoming = len(view.Incoming)
	view.IsBlocked = IsBlocked(featureID, edges, statusMap(features))
	return view, nil
}

func countOutgoing(stats *DependencyStats, kind string) {
	switch kind {
	case models.DependencyBlocks:
		stats.Blocking++
	case models.DependencyBlockedBy:
		stats.BlockedBy++
	case models.DependencyDependsOn:
		stats.DependsOn++
	case models.DependencyRelatesTo:
		stats.Related++
	}
}

// loadFeatures fetches every feature an edge touches, keyed by id
func loadFeatures(db *gorm.DB, edges []Edge, known ...models.Feature) (map[uint]*models.Feature, error) {
	features := make(map[uint]*models.Feature)
	for i := range known {
		features[known[i].ID] = &known[i]
	}
	var missing []uint
	for _, e := range edges {
		for _, id := range []uint{e.SourceFeatureID, e.TargetFeatureID} {
			if _, ok := features[id]; !ok {
				features[id] = nil
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 {
		return features, nil
	}
	var rows []models.Feature
	if err := db.Where("id IN ?", missing).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		features[rows[i].ID] = &rows[i]
	}
	return features, nil
}

func statusMap(features map[uint]*models.Feature) map[uint]string {
	statuses := make(map[uint]string, len(features))
	for id, f := range features {
		if f != nil {
			statuses[id] = f.Status
		}
	}
	return statuses
}

// GetTeamDependencies aggregates the stored edges of every feature in a team
func (s *DependencyService) GetTeamDependencies(ctx context.Context, teamID, actorID uint) (*TeamDependencies, error) {
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

	var teamFeatures []models.Feature
	if err := db.Where("team_id = ?", teamID).Find(&teamFeatures).Error; err != nil {
		return nil, err
	}

	view := &TeamDependencies{
		TeamID:            teamID,
		Dependencies:      []Edge{},
		BlockedFeatureIDs: []uint{},
		Stats:             TeamDependencyStats{ByType: map[string]int{}},
	}
	if len(teamFeatures) == 0 {
		return view, nil
	}

	ids := make([]uint, len(teamFeatures))
	for i, f := range teamFeatures {
		ids[i] = f.ID
	}

	var stored []models.FeatureDependency
	if err := db.Where("source_feature_id IN ? OR target_feature_id IN ?", ids, ids).
		Order("created_at asc, id asc").
		Find(&stored).Error; err != nil {
		return nil, err
	}

	edges := ExpandEdges(stored)
	features, err := loadFeatures(db, edges, teamFeatures...)
	if err != nil {
		return nil, err
	}
	statuses := statusMap(features)

	for _, e := range edges {
		if e.Derived {
			continue
		}
		e.SourceFeature = summarize(features[e.SourceFeatureID])
		e.TargetFeature = summarize(features[e.TargetFeatureID])
		view.Dependencies = append(view.Dependencies, e)
		view.Stats.ByType[e.DependencyType]++
	}
	view.Stats.Total = len(view.Dependencies)

	for _, id := range ids {
		if IsBlocked(id, edges, statuses) {
			view.BlockedFeatureIDs = append(view.BlockedFeatureIDs, id)
		}
	}
	sort.Slice(view.BlockedFeatureIDs, func(i, j int) bool { return view.BlockedFeatureIDs[i] < view.BlockedFeatureIDs[j] })
	view.Stats.BlockedFeatures = len(view.BlockedFeatureIDs)
	return view, nil
}
