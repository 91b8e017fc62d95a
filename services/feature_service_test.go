package services

import (
	"context"
	"testing"

	"featureforge/models"
	"featureforge/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type featureFixture struct {
	svc       *FeatureService
	publisher *recordingPublisher
	alice     models.User
	bob       models.User
	carol     models.User
	outsider  models.User
	team      models.Team
}

func newFeatureFixture(t *testing.T) *featureFixture {
	t.Helper()
	db := newTestDB(t)
	f := &featureFixture{publisher: &recordingPublisher{}}
	f.alice = createUser(t, db, "Alice", "alice@example.com")
	f.bob = createUser(t, db, "Bob", "bob@example.com")
	f.carol = createUser(t, db, "Carol", "carol@example.com")
	f.outsider = createUser(t, db, "Olga", "olga@example.com")
	f.team = createTeam(t, db, "Core", f.alice, f.bob, f.carol)
	f.svc = NewFeatureService(db, NewNotificationService(db, f.publisher))
	return f
}

func TestCreateFeatureDefaults(t *testing.T) {
	f := newFeatureFixture(t)

	feature, err := f.svc.CreateFeature(context.Background(), CreateFeatureInput{
		TeamID:  f.team.ID,
		ActorID: f.bob.ID,
		Title:   "  Dark mode ",
		Tags:    []string{"ui", " ui ", "", "theme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Dark mode", feature.Title)
	assert.Equal(t, models.FeatureStatusBacklog, feature.Status)
	assert.Equal(t, models.FeaturePriorityMedium, feature.Priority)
	assert.Equal(t, models.FeatureTypeStory, feature.Type)
	assert.Equal(t, []string{"ui", "theme"}, []string(feature.Tags))
	require.NotNil(t, feature.Creator)
	assert.Equal(t, "Bob", feature.Creator.Name)
	assert.Zero(t, feature.Votes)
}

func TestCreateFeatureNormalizesUrgent(t *testing.T) {
	f := newFeatureFixture(t)

	feature, err := f.svc.CreateFeature(context.Background(), CreateFeatureInput{
		TeamID:     f.team.ID,
		ActorID:    f.alice.ID,
		Title:      "Outage fix",
		Priority:   models.FeaturePriorityUrgent,
		AssignedTo: utils.Pointer(f.carol.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FeaturePriorityCritical, feature.Priority)
	require.NotNil(t, feature.Assignee)
	assert.Equal(t, f.carol.ID, feature.Assignee.ID)
}

func TestCreateFeatureValidation(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()
	otherTeam := createTeam(t, f.svc.db, "Other", f.alice)
	epic := createFeature(t, f.svc.db, f.team, f.alice, "Epic", models.FeatureTypeParent, nil)
	story := createFeature(t, f.svc.db, f.team, f.alice, "Story", models.FeatureTypeStory, utils.Pointer(epic.ID))
	foreignEpic := createFeature(t, f.svc.db, otherTeam, f.alice, "Foreign", models.FeatureTypeParent, nil)

	tests := []struct {
		name string
		in   CreateFeatureInput
		want error
	}{
		{"empty title", CreateFeatureInput{Title: " "}, ErrValidation},
		{"bad status", CreateFeatureInput{Title: "x", Status: "shipped"}, ErrValidation},
		{"bad priority", CreateFeatureInput{Title: "x", Priority: "meh"}, ErrValidation},
		{"bad type", CreateFeatureInput{Title: "x", Type: "bug"}, ErrValidation},
		{"story cannot have children", CreateFeatureInput{Title: "x", ParentID: utils.Pointer(story.ID)}, ErrValidation},
		{"parent cannot be a child", CreateFeatureInput{Title: "x", Type: models.FeatureTypeParent, ParentID: utils.Pointer(epic.ID)}, ErrValidation},
		{"parent in another team", CreateFeatureInput{Title: "x", ParentID: utils.Pointer(foreignEpic.ID)}, ErrValidation},
		{"missing parent", CreateFeatureInput{Title: "x", ParentID: utils.Pointer(uint(9999))}, ErrNotFound},
		{"assignee outside team", CreateFeatureInput{Title: "x", AssignedTo: utils.Pointer(f.outsider.ID)}, ErrValidation},
		{"missing team", CreateFeatureInput{TeamID: 9999, Title: "x"}, ErrNotFound},
		{"non member", CreateFeatureInput{Title: "x", ActorID: f.outsider.ID}, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			if in.TeamID == 0 {
				in.TeamID = f.team.ID
			}
			if in.ActorID == 0 {
				in.ActorID = f.alice.ID
			}
			_, err := f.svc.CreateFeature(ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	child, err := f.svc.CreateFeature(ctx, CreateFeatureInput{
		TeamID:   f.team.ID,
		ActorID:  f.alice.ID,
		Title:    "Spike",
		Type:     models.FeatureTypeResearch,
		ParentID: utils.Pointer(epic.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, epic.ID, *child.ParentID)
}

func TestUpdateFeatureStatusNotifiesCreatorAndAssignee(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()

	feature, err := f.svc.CreateFeature(ctx, CreateFeatureInput{
		TeamID:     f.team.ID,
		ActorID:    f.alice.ID,
		Title:      "Search",
		AssignedTo: utils.Pointer(f.bob.ID),
	})
	require.NoError(t, err)

	status := models.FeatureStatusInProgress
	updated, err := f.svc.UpdateFeature(ctx, feature.ID, f.carol.ID, UpdateFeatureInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.FeatureStatusInProgress, updated.Status)

	for _, user := range []models.User{f.alice, f.bob} {
		notes := notificationsFor(t, f.svc.db, user.ID)
		require.Len(t, notes, 1, user.Name)
		assert.Equal(t, models.NotificationFeatureUpdate, notes[0].Type)
		assert.Equal(t, feature.ID, notes[0].RelatedID)
		assert.Equal(t, "Carol moved Search from backlog to in_progress", notes[0].Message)
		assert.Equal(t, "in_progress", notes[0].Metadata["new_status"])
	}
	assert.Empty(t, notificationsFor(t, f.svc.db, f.carol.ID))
	assert.Len(t, f.publisher.published(), 2)

	// the creator moving their own feature only notifies the assignee
	status = models.FeatureStatusDone
	_, err = f.svc.UpdateFeature(ctx, feature.ID, f.alice.ID, UpdateFeatureInput{Status: &status})
	require.NoError(t, err)
	assert.Len(t, notificationsFor(t, f.svc.db, f.alice.ID), 1)
	assert.Len(t, notificationsFor(t, f.svc.db, f.bob.ID), 2)

	// no status change, no notification
	title := "Full text search"
	_, err = f.svc.UpdateFeature(ctx, feature.ID, f.carol.ID, UpdateFeatureInput{Title: &title})
	require.NoError(t, err)
	assert.Len(t, f.publisher.published(), 3)
}

func TestUpdateFeatureFields(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()
	epic := createFeature(t, f.svc.db, f.team, f.alice, "Epic", models.FeatureTypeParent, nil)
	story := createFeature(t, f.svc.db, f.team, f.alice, "Story", models.FeatureTypeStory, nil)

	priority := "urgent"
	updated, err := f.svc.UpdateFeature(ctx, story.ID, f.bob.ID, UpdateFeatureInput{
		Priority:   &priority,
		ParentID:   utils.Pointer(epic.ID),
		AssignedTo: utils.Pointer(f.carol.ID),
		Tags:       []string{"api"},
		Impact:     utils.Pointer(4),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FeaturePriorityCritical, updated.Priority)
	require.NotNil(t, updated.ParentID)
	assert.Equal(t, epic.ID, *updated.ParentID)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, f.carol.ID, *updated.AssignedTo)
	assert.Equal(t, []string{"api"}, []string(updated.Tags))
	assert.Equal(t, 4, updated.Impact)

	updated, err = f.svc.UpdateFeature(ctx, story.ID, f.bob.ID, UpdateFeatureInput{ClearParent: true, ClearAssignee: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ParentID)
	assert.Nil(t, updated.AssignedTo)
	assert.Equal(t, []string{"api"}, []string(updated.Tags), "nil tags leave them alone")

	_, err = f.svc.UpdateFeature(ctx, story.ID, f.outsider.ID, UpdateFeatureInput{ClearParent: true})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateFeature(ctx, 9999, f.alice.ID, UpdateFeatureInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateFeatureHierarchyRules(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()
	epic := createFeature(t, f.svc.db, f.team, f.alice, "Epic", models.FeatureTypeParent, nil)
	createFeature(t, f.svc.db, f.team, f.alice, "Child", models.FeatureTypeTask, utils.Pointer(epic.ID))
	other := createFeature(t, f.svc.db, f.team, f.alice, "Other epic", models.FeatureTypeParent, nil)

	story := models.FeatureTypeStory
	_, err := f.svc.UpdateFeature(ctx, epic.ID, f.alice.ID, UpdateFeatureInput{Type: &story})
	require.ErrorIs(t, err, ErrValidation, "a feature with children stays a parent")

	_, err = f.svc.UpdateFeature(ctx, epic.ID, f.alice.ID, UpdateFeatureInput{ParentID: utils.Pointer(epic.ID)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateFeature(ctx, other.ID, f.alice.ID, UpdateFeatureInput{ParentID: utils.Pointer(epic.ID)})
	require.ErrorIs(t, err, ErrValidation, "parents cannot be nested")
}

func TestDeleteFeaturePermissionsAndCascade(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()
	epic := createFeature(t, f.svc.db, f.team, f.bob, "Epic", models.FeatureTypeParent, nil)
	child := createFeature(t, f.svc.db, f.team, f.bob, "Child", models.FeatureTypeStory, utils.Pointer(epic.ID))
	other := createFeature(t, f.svc.db, f.team, f.bob, "Other", models.FeatureTypeStory, nil)
	require.NoError(t, f.svc.db.Create(&models.FeatureDependency{
		SourceFeatureID: other.ID, TargetFeatureID: epic.ID, DependencyType: models.DependencyRelatesTo, CreatedBy: f.bob.ID,
	}).Error)
	require.NoError(t, f.svc.db.Create(&models.Comment{FeatureID: epic.ID, UserID: f.bob.ID, Content: "plan"}).Error)

	require.ErrorIs(t, f.svc.DeleteFeature(ctx, epic.ID, f.carol.ID), ErrForbidden)
	require.ErrorIs(t, f.svc.DeleteFeature(ctx, epic.ID, f.outsider.ID), ErrNotFound)

	// alice is a team admin
	require.NoError(t, f.svc.DeleteFeature(ctx, epic.ID, f.alice.ID))
	require.ErrorIs(t, f.svc.DeleteFeature(ctx, epic.ID, f.alice.ID), ErrNotFound)

	var count int64
	require.NoError(t, f.svc.db.Model(&models.FeatureDependency{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, f.svc.db.Model(&models.Comment{}).Where("feature_id = ?", epic.ID).Count(&count).Error)
	assert.Zero(t, count)

	detached, err := f.svc.GetFeature(ctx, child.ID, f.carol.ID)
	require.NoError(t, err)
	assert.Nil(t, detached.ParentID)

	require.NoError(t, f.svc.DeleteFeature(ctx, other.ID, f.bob.ID), "creator may delete")
}

func TestSearchMatchesWildcardsLiterally(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()
	uptime := createFeature(t, f.svc.db, f.team, f.alice, "Reach 99% uptime", models.FeatureTypeStory, nil)
	createFeature(t, f.svc.db, f.team, f.alice, "Export CSV", models.FeatureTypeStory, nil)

	found, err := f.svc.ListFeatures(ctx, f.team.ID, f.bob.ID, FeatureFilter{Search: "%"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, uptime.ID, found[0].ID)

	found, err = f.svc.ListFeatures(ctx, f.team.ID, f.bob.ID, FeatureFilter{Search: "_"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestVoteAndQueries(t *testing.T) {
	f := newFeatureFixture(t)
	ctx := context.Background()
	epic := createFeature(t, f.svc.db, f.team, f.alice, "Epic", models.FeatureTypeParent, nil)
	a := createFeature(t, f.svc.db, f.team, f.alice, "Login page", models.FeatureTypeStory, utils.Pointer(epic.ID))
	b := createFeature(t, f.svc.db, f.team, f.alice, "Logout", models.FeatureTypeTask, utils.Pointer(epic.ID))
	loose := createFeature(t, f.svc.db, f.team, f.alice, "Billing", models.FeatureTypeStory, nil)

	voted, err := f.svc.Vote(ctx, a.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, voted.Votes)
	voted, err = f.svc.Vote(ctx, a.ID, f.carol.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, voted.Votes)
	_, err = f.svc.Vote(ctx, a.ID, f.outsider.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	roots, err := f.svc.ListFeatures(ctx, f.team.ID, f.bob.ID, FeatureFilter{RootOnly: true})
	require.NoError(t, err)
	assert.Len(t, roots, 2)

	children, err := f.svc.ListFeatures(ctx, f.team.ID, f.bob.ID, FeatureFilter{ParentID: utils.Pointer(epic.ID)})
	require.NoError(t, err)
	assert.Len(t, children, 2)

	tasks, err := f.svc.ListFeatures(ctx, f.team.ID, f.bob.ID, FeatureFilter{Type: models.FeatureTypeTask})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, b.ID, tasks[0].ID)

	found, err := f.svc.ListFeatures(ctx, f.team.ID, f.bob.ID, FeatureFilter{Search: "LOG"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = f.svc.ListFeatures(ctx, f.team.ID, f.outsider.ID, FeatureFilter{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GetFeature(ctx, a.ID, f.outsider.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	tree, err := f.svc.GetFeatureTree(ctx, f.team.ID, f.carol.ID)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, epic.ID, tree[0].ID)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, a.ID, tree[0].Children[0].ID)
	assert.Equal(t, b.ID, tree[0].Children[1].ID)
	assert.Equal(t, loose.ID, tree[1].ID)
	assert.Empty(t, tree[1].Children)
}

func TestBuildFeatureTreeOrphans(t *testing.T) {
	features := []models.Feature{
		{Model: gorm.Model{ID: 1}, Title: "root"},
		{Model: gorm.Model{ID: 2}, Title: "child", ParentID: utils.Pointer[uint](1)},
		{Model: gorm.Model{ID: 3}, Title: "orphan", ParentID: utils.Pointer[uint](42)},
	}

	roots := BuildFeatureTree(features)
	require.Len(t, roots, 2)
	assert.Equal(t, "root", roots[0].Title)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "child", roots[0].Children[0].Title)
	assert.Equal(t, "orphan", roots[1].Title)
}
