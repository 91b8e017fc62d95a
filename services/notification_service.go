package services

import (
	"context"
	"time"

	"featureforge/metrics"
	"featureforge/models"
	"featureforge/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher pushes a stored notification to live listeners
type Publisher interface {
	Publish(n models.Notification)
}

// NotificationService stores notifications and hands them to a Publisher once
// they are committed.
type NotificationService struct {
	db        *gorm.DB
	publisher Publisher
	log       *logrus.Entry
}

func NewNotificationService(db *gorm.DB, publisher Publisher) *NotificationService {
	return &NotificationService{
		db:        db,
		publisher: publisher,
		log:       utils.Logger("notifications"),
	}
}

// create inserts notes inside an existing transaction. Callers publish after commit.
func (s *NotificationService) create(tx *gorm.DB, notes []models.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	return tx.Create(&notes).Error
}

func (s *NotificationService) publish(notes []models.Notification) {
	for _, n := range notes {
		metrics.NotificationsCreated.WithLabelValues(n.Type).Inc()
		if s.publisher != nil {
			s.publisher.Publish(n)
		}
	}
	if len(notes) > 0 {
		s.log.WithField("count", len(notes)).Debug("notifications published")
	}
}

// Notify stores and publishes notes
func (s *NotificationService) Notify(ctx context.Context, notes ...models.Notification) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return s.create(tx, notes)
	}); err != nil {
		return err
	}
	s.publish(notes)
	return nil
}

// NotificationQuery selects a page of one user's notifications
type NotificationQuery struct {
	UserID     uint
	UnreadOnly bool
	Page       int
	Limit      int
}

// NotificationPage is one page of notifications, newest first
type NotificationPage struct {
	Notifications []models.Notification `json:"notifications"`
	Total         int64                 `json:"total"`
	Unread        int64                 `json:"unread"`
	Page          int                   `json:"page"`
	Limit         int                   `json:"limit"`
}

func (s *NotificationService) List(ctx context.Context, q NotificationQuery) (*NotificationPage, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	query := db.Model(&models.Notification{}).Where("user_id = ?", q.UserID)
	if q.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	query = query.Session(&gorm.Session{})

	page := &NotificationPage{Page: q.Page, Limit: q.Limit}
	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	if err := query.Order("created_at desc, id desc").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&page.Notifications).Error; err != nil {
		return nil, err
	}

	unread, err := s.UnreadCount(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	page.Unread = unread
	return page, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// SetRead marks one of the user's notifications read or unread
func (s *NotificationService) SetRead(ctx context.Context, id, userID uint, read bool) (*models.Notification, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var n models.Notification
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return nil, notFoundOr(err, "Notification not found")
	}
	if n.IsRead == read {
		return &n, nil
	}
	if err := db.Model(&n).Update("is_read", read).Error; err != nil {
		return nil, err
	}
	n.IsRead = read
	return &n, nil
}

// MarkAllRead returns the number of notifications that changed
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return 0, err
	}
	res := db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *NotificationService) Delete(ctx context.Context, id, userID uint) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}
	res := db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("Notification not found")
	}
	return nil
}

// CleanupOlderThan deletes notifications created more than age ago
func (s *NotificationService) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return 0, err
	}
	if age <= 0 {
		return 0, invalid("Retention period must be positive")
	}

	cutoff := time.Now().Add(-age)
	res := db.Where("created_at < ?", cutoff).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, res.Error
	}

	utils.LogEvent("notifications_cleaned", map[string]interface{}{
		"deleted": res.RowsAffected,
		"cutoff":  cutoff,
	})
	return res.RowsAffected, nil
}
