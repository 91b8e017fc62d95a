package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"featureforge/models"
	"featureforge/utils"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const excerptLength = 140

// CommentNode is a comment with its replies attached
type CommentNode struct {
	*models.Comment
	Replies []*CommentNode `json:"replies"`
}

// BuildCommentTree threads a flat list into reply trees. comments must already
// be in display order. A comment whose parent is not in the list becomes a root.
func BuildCommentTree(comments []models.Comment) []*CommentNode {
	nodes := make(map[uint]*CommentNode, len(comments))
	for i := range comments {
		nodes[comments[i].ID] = &CommentNode{Comment: &comments[i], Replies: []*CommentNode{}}
	}

	roots := make([]*CommentNode, 0)
	for i := range comments {
		node := nodes[comments[i].ID]
		if comments[i].ParentID != nil {
			if parent, ok := nodes[*comments[i].ParentID]; ok && parent != node {
				parent.Replies = append(parent.Replies, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// CreateCommentInput describes a new comment. TeamID is optional and, when
// set, must match the feature's team.
type CreateCommentInput struct {
	FeatureID uint
	UserID    uint
	Content   string
	ParentID  *uint
	TeamID    uint
}

// CommentService stores comments and fans out mention and reply notifications
type CommentService struct {
	db            *gorm.DB
	notifications *NotificationService
	emails        EmailSender
	appURL        string
}

func NewCommentService(db *gorm.DB, notifications *NotificationService, emails EmailSender, appURL string) *CommentService {
	return &CommentService{
		db:            db,
		notifications: notifications,
		emails:        emails,
		appURL:        appURL,
	}
}

// commentContext is what every comment write needs to know about its feature
type commentContext struct {
	feature models.Feature
	author  models.User
	members []models.TeamMember
}

func loadCommentContext(tx *gorm.DB, featureID, userID uint) (*commentContext, error) {
	cc := &commentContext{}
	if err := tx.First(&cc.feature, featureID).Error; err != nil {
		return nil, notFoundOr(err, "Feature not found")
	}
	if _, err := requireVisible(tx, cc.feature.TeamID, userID, "Feature not found"); err != nil {
		return nil, err
	}
	if err := tx.First(&cc.author, userID).Error; err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	members, err := teamMembers(tx, cc.feature.TeamID)
	if err != nil {
		return nil, err
	}
	cc.members = members
	return cc, nil
}

// commentForbidden answers a write on someone else's comment: 403 inside the
// team, 404 for callers who cannot see the feature at all.
func commentForbidden(tx *gorm.DB, comment *models.Comment, actorID uint) error {
	var feature models.Feature
	if err := tx.Select("id", "team_id").First(&feature, comment.FeatureID).Error; err != nil {
		return notFoundOr(err, "Comment not found")
	}
	if _, err := requireVisible(tx, feature.TeamID, actorID, "Comment not found"); err != nil {
		return err
	}
	return forbidden("Not authorized")
}

func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, invalid("Comment content is required")
	}

	var (
		comment models.Comment
		cc      *commentContext
		notes   []models.Notification
		fresh   []models.MentionRef
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		cc, err = loadCommentContext(tx, in.FeatureID, in.UserID)
		if err != nil {
			return err
		}
		if in.TeamID != 0 && in.TeamID != cc.feature.TeamID {
			return invalid("Feature does not belong to this team")
		}

		var parent *models.Comment
		if in.ParentID != nil {
			parent = &models.Comment{}
			err := tx.Where("id = ? AND feature_id = ?", *in.ParentID, in.FeatureID).First(parent).Error
			if err != nil {
				return notFoundOr(err, "Parent comment not found")
			}
		}

		mentions := ResolveMentions(ParseMentions(content), cc.members)
		comment = models.Comment{
			FeatureID: in.FeatureID,
			UserID:    in.UserID,
			Content:   content,
			ParentID:  in.ParentID,
			Mentions:  mentions,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}

		fresh = mentionedOthers(mentions, in.UserID)
		notes = s.mentionNotifications(cc, &comment, fresh)
		if parent != nil && parent.UserID != in.UserID {
			notes = append(notes, models.Notification{
				UserID:      parent.UserID,
				Type:        models.NotificationReply,
				RelatedID:   comment.ID,
				RelatedType: "comment",
				Message:     fmt.Sprintf("%s replied to your comment on %s", displayName(&cc.author), cc.feature.Title),
				TriggeredBy: utils.Pointer(in.UserID),
				Metadata:    commentMetadata(&cc.feature, &comment),
			})
		}
		if err := s.notifications.create(tx, notes); err != nil {
			return err
		}
		return tx.Preload("User").First(&comment, comment.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifications.publish(notes)
	s.emailMentions(ctx, cc, &comment, fresh)
	utils.LogEvent("comment_created", map[string]interface{}{
		"comment_id": comment.ID,
		"feature_id": comment.FeatureID,
		"user_id":    comment.UserID,
		"mentions":   len(comment.Mentions),
	})
	return &comment, nil
}

// UpdateComment replaces the content of a comment. Only users who were not
// mentioned before the edit are notified.
func (s *CommentService) UpdateComment(ctx context.Context, commentID, actorID uint, content string) (*models.Comment, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("Comment content is required")
	}

	var (
		comment models.Comment
		cc      *commentContext
		notes   []models.Notification
		fresh   []models.MentionRef
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&comment, commentID).Error; err != nil {
			return notFoundOr(err, "Comment not found")
		}
		if comment.UserID != actorID {
			return commentForbidden(tx, &comment, actorID)
		}

		var err error
		cc, err = loadCommentContext(tx, comment.FeatureID, actorID)
		if err != nil {
			return err
		}

		previous := make(map[uint]bool, len(comment.Mentions))
		for _, m := range comment.Mentions {
			previous[m.UserID] = true
		}

		mentions := ResolveMentions(ParseMentions(content), cc.members)
		for _, m := range mentionedOthers(mentions, actorID) {
			if !previous[m.UserID] {
				fresh = append(fresh, m)
			}
		}

		now := time.Now()
		err = tx.Model(&comment).Updates(map[string]interface{}{
			"content":   content,
			"mentions":  datatypes.JSONSlice[models.MentionRef](mentions),
			"is_edited": true,
			"edited_at": now,
		}).Error
		if err != nil {
			return err
		}

		notes = s.mentionNotifications(cc, &comment, fresh)
		if err := s.notifications.create(tx, notes); err != nil {
			return err
		}
		return tx.Preload("User").First(&comment, comment.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifications.publish(notes)
	s.emailMentions(ctx, cc, &comment, fresh)
	return &comment, nil
}

// DeleteComment removes a comment and every reply below it
func (s *CommentService) DeleteComment(ctx context.Context, commentID, actorID uint) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}

	var removed int
	err = db.Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := tx.First(&comment, commentID).Error; err != nil {
			return notFoundOr(err, "Comment not found")
		}
		if comment.UserID != actorID {
			return commentForbidden(tx, &comment, actorID)
		}

		ids := []uint{comment.ID}
		frontier := []uint{comment.ID}
		for len(frontier) > 0 {
			var children []uint
			if err := tx.Model(&models.Comment{}).Where("parent_id IN ?", frontier).Pluck("id", &children).Error; err != nil {
				return err
			}
			ids = append(ids, children...)
			frontier = children
		}
		removed = len(ids)
		return tx.Where("id IN ?", ids).Delete(&models.Comment{}).Error
	})
	if err != nil {
		return err
	}

	utils.LogEvent("comment_deleted", map[string]interface{}{
		"comment_id": commentID,
		"removed":    removed,
		"actor_id":   actorID,
	})
	return nil
}

// GetCommentsForFeature returns the feature's comments threaded into reply trees,
// oldest first at every level.
func (s *CommentService) GetCommentsForFeature(ctx context.Context, featureID, actorID uint) ([]*CommentNode, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var feature models.Feature
	if err := db.Select("id", "team_id").First(&feature, featureID).Error; err != nil {
		return nil, notFoundOr(err, "Feature not found")
	}
	if _, err := requireVisible(db, feature.TeamID, actorID, "Feature not found"); err != nil {
		return nil, err
	}

	var comments []models.Comment
	if err := db.Preload("User").
		Where("feature_id = ?", featureID).
		Order("created_at asc, id asc").
		Find(&comments).Error; err != nil {
		return nil, err
	}
	return BuildCommentTree(comments), nil
}

func mentionedOthers(mentions []models.MentionRef, authorID uint) []models.MentionRef {
	out := make([]models.MentionRef, 0, len(mentions))
	for _, m := range mentions {
		if m.UserID != authorID {
			out = append(out, m)
		}
	}
	return out
}

func (s *CommentService) mentionNotifications(cc *commentContext, comment *models.Comment, mentions []models.MentionRef) []models.Notification {
	notes := make([]models.Notification, 0, len(mentions))
	for _, m := range mentions {
		notes = append(notes, models.Notification{
			UserID:      m.UserID,
			Type:        models.NotificationMention,
			RelatedID:   comment.ID,
			RelatedType: "comment",
			Message:     fmt.Sprintf("%s mentioned you in a comment on %s", displayName(&cc.author), cc.feature.Title),
			TriggeredBy: utils.Pointer(cc.author.ID),
			Metadata:    commentMetadata(&cc.feature, comment),
		})
	}
	return notes
}

func commentMetadata(feature *models.Feature, comment *models.Comment) map[string]interface{} {
	return map[string]interface{}{
		"feature_id":    feature.ID,
		"feature_title": feature.Title,
		"team_id":       feature.TeamID,
		"comment_id":    comment.ID,
	}
}

func (s *CommentService) emailMentions(ctx context.Context, cc *commentContext, comment *models.Comment, mentions []models.MentionRef) {
	if s.emails == nil {
		return
	}
	excerpt := excerpt(comment.Content)
	for _, m := range mentions {
		sendEmail(ctx, s.emails, utils.MentionEmail(m.Email, displayName(&cc.author), cc.feature.Title, excerpt, s.appURL, cc.feature.ID))
	}
}

func excerpt(content string) string {
	if utf8.RuneCountInString(content) <= excerptLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:excerptLength]) + "..."
}
