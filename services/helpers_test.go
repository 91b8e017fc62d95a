package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"featureforge/models"
	"featureforge/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "featureforge.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, name, email string) models.User {
	t.Helper()
	user := models.User{Name: name, Email: email, PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	return user
}

// createTeam makes admin the team admin and adds members with the user role
func createTeam(t *testing.T, db *gorm.DB, name string, admin models.User, members ...models.User) models.Team {
	t.Helper()
	team := models.Team{Name: name, CreatedBy: admin.ID, CreatedByEmail: admin.Email}
	require.NoError(t, db.Create(&team).Error)
	addMember(t, db, team, admin, models.MemberRoleAdmin)
	for _, m := range members {
		addMember(t, db, team, m, models.MemberRoleUser)
	}
	return team
}

func addMember(t *testing.T, db *gorm.DB, team models.Team, user models.User, role string) {
	t.Helper()
	require.NoError(t, db.Create(&models.TeamMember{
		TeamID:   team.ID,
		UserID:   user.ID,
		Role:     role,
		JoinedAt: time.Now(),
	}).Error)
}

func createFeature(t *testing.T, db *gorm.DB, team models.Team, creator models.User, title, kind string, parentID *uint) models.Feature {
	t.Helper()
	feature := models.Feature{
		Title:     title,
		Status:    models.FeatureStatusBacklog,
		Priority:  models.FeaturePriorityMedium,
		Type:      kind,
		ParentID:  parentID,
		TeamID:    team.ID,
		CreatedBy: creator.ID,
	}
	require.NoError(t, db.Create(&feature).Error)
	return feature
}

type recordingPublisher struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (p *recordingPublisher) Publish(n models.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, n)
}

func (p *recordingPublisher) published() []models.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Notification(nil), p.notes...)
}

type recordingEmails struct {
	mu   sync.Mutex
	sent []utils.EmailMessage
}

func (r *recordingEmails) Dispatch(_ context.Context, msg utils.EmailMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
}

func (r *recordingEmails) messages() []utils.EmailMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]utils.EmailMessage(nil), r.sent...)
}

func notificationsFor(t *testing.T, db *gorm.DB, userID uint) []models.Notification {
	t.Helper()
	var notes []models.Notification
	require.NoError(t, db.Where("user_id = ?", userID).Order("id asc").Find(&notes).Error)
	return notes
}
