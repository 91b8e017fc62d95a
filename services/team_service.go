package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"featureforge/models"
	"featureforge/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TeamPolicy holds the membership limits
type TeamPolicy struct {
	MaxMembers      int
	MaxTeamsPerUser int
}

func DefaultTeamPolicy() TeamPolicy {
	return TeamPolicy{MaxMembers: 10, MaxTeamsPerUser: 5}
}

// TeamService manages teams and their membership
type TeamService struct {
	db     *gorm.DB
	policy TeamPolicy
	emails EmailSender
	appURL string
}

func NewTeamService(db *gorm.DB, policy TeamPolicy, emails EmailSender, appURL string) *TeamService {
	defaults := DefaultTeamPolicy()
	if policy.MaxMembers <= 0 {
		policy.MaxMembers = defaults.MaxMembers
	}
	if policy.MaxTeamsPerUser <= 0 {
		policy.MaxTeamsPerUser = defaults.MaxTeamsPerUser
	}
	return &TeamService{db: db, policy: policy, emails: emails, appURL: appURL}
}

func (s *TeamService) Policy() TeamPolicy {
	return s.policy
}

func (s *TeamService) countUserTeams(tx *gorm.DB, userID uint) (int64, error) {
	var count int64
	err := tx.Model(&models.TeamMember{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// CreateTeam creates a team with the actor as its first admin
func (s *TeamService) CreateTeam(ctx context.Context, actorID uint, name, description string) (*models.Team, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("Team name is required")
	}

	var team models.Team
	err = db.Transaction(func(tx *gorm.DB) error {
		var actor models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&actor, actorID).Error; err != nil {
			return notFoundOr(err, "User not found")
		}
		count, err := s.countUserTeams(tx, actorID)
		if err != nil {
			return err
		}
		if count >= int64(s.policy.MaxTeamsPerUser) {
			return invalid("User team limit exceeded")
		}

		team = models.Team{
			Name:           name,
			Description:    description,
			CreatedBy:      actor.ID,
			CreatedByEmail: actor.Email,
		}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		admin := models.TeamMember{
			TeamID:   team.ID,
			UserID:   actor.ID,
			Role:     models.MemberRoleAdmin,
			JoinedAt: time.Now(),
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		return tx.Preload("Members.User").First(&team, team.ID).Error
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("team_created", map[string]interface{}{
		"team_id":  team.ID,
		"actor_id": actorID,
	})
	return &team, nil
}

// TeamSummary is a team as listed for one of its members
type TeamSummary struct {
	models.Team
	Role        string `json:"role"`
	MemberCount int64  `json:"member_count"`
}

// ListTeamsForUser returns every team userID belongs to, oldest membership first
func (s *TeamService) ListTeamsForUser(ctx context.Context, userID uint) ([]TeamSummary, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var memberships []models.TeamMember
	if err := db.Preload("Team").
		Where("user_id = ?", userID).
		Order("joined_at asc, id asc").
		Find(&memberships).Error; err != nil {
		return nil, err
	}

	counts, err := memberCounts(db, memberships)
	if err != nil {
		return nil, err
	}

	teams := make([]TeamSummary, 0, len(memberships))
	for _, m := range memberships {
		// soft-deleted teams are not preloaded
		if m.Team == nil {
			continue
		}
		teams = append(teams, TeamSummary{Team: *m.Team, Role: m.Role, MemberCount: counts[m.TeamID]})
	}
	return teams, nil
}

// memberCounts returns the member count of every team in memberships with one grouped query
func memberCounts(db *gorm.DB, memberships []models.TeamMember) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(memberships))
	if len(memberships) == 0 {
		return counts, nil
	}
	teamIDs := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		teamIDs = append(teamIDs, m.TeamID)
	}

	var rows []struct {
		TeamID uint
		Total  int64
	}
	err := db.Model(&models.TeamMember{}).
		Select("team_id, COUNT(*) AS total").
		Where("team_id IN ?", teamIDs).
		Group("team_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.TeamID] = r.Total
	}
	return counts, nil
}

func (s *TeamService) GetTeam(ctx context.Context, teamID, actorID uint) (*models.Team, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var team models.Team
	if err := db.First(&team, teamID).Error; err != nil {
		return nil, notFoundOr(err, "Team not found")
	}
	if _, err := requireMember(db, teamID, actorID); err != nil {
		return nil, err
	}
	members, err := teamMembers(db, teamID)
	if err != nil {
		return nil, err
	}
	team.Members = members
	return &team, nil
}

// UpdateTeamInput carries the fields to change; nil fields are left alone
type UpdateTeamInput struct {
	Name        *string
	Description *string
}

func (s *TeamService) UpdateTeam(ctx context.Context, teamID, actorID uint, in UpdateTeamInput) (*models.Team, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var team models.Team
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&team, teamID).Error; err != nil {
			return notFoundOr(err, "Team not found")
		}
		if err := requireAdmin(tx, teamID, actorID); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return invalid("Team name is required")
			}
			updates["name"] = name
		}
		if in.Description != nil {
			updates["description"] = *in.Description
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&team).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// DeleteTeam removes a team with its members, features, comments and dependencies
func (s *TeamService) DeleteTeam(ctx context.Context, teamID, actorID uint) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var team models.Team
		if err := tx.First(&team, teamID).Error; err != nil {
			return notFoundOr(err, "Team not found")
		}
		if err := requireAdmin(tx, teamID, actorID); err != nil {
			return err
		}

		var featureIDs []uint
		if err := tx.Model(&models.Feature{}).Where("team_id = ?", teamID).Pluck("id", &featureIDs).Error; err != nil {
			return err
		}
		if len(featureIDs) > 0 {
			if err := tx.Where("source_feature_id IN ? OR target_feature_id IN ?", featureIDs, featureIDs).
				Delete(&models.FeatureDependency{}).Error; err != nil {
				return err
			}
			if err := tx.Where("feature_id IN ?", featureIDs).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("team_id = ?", teamID).Delete(&models.Feature{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("team_id = ?", teamID).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&team).Error
	})
	if err != nil {
		return err
	}

	utils.LogEvent("team_deleted", map[string]interface{}{
		"team_id":  teamID,
		"actor_id": actorID,
	})
	return nil
}

// AddMemberInput identifies the user to add by id or by email
type AddMemberInput struct {
	TeamID  uint
	ActorID uint
	UserID  uint
	Email   string
	Role    string
}

// AddMemberResult reports what AddMember did. Invited is set when the email
// belonged to nobody and an invitation was sent instead.
type AddMemberResult struct {
	Member  *models.TeamMember `json:"member,omitempty"`
	Invited bool               `json:"invited"`
	Email   string             `json:"email,omitempty"`
}

// AddMember adds a user to a team. The member count is checked while holding a
// lock on the team row so concurrent adds cannot overshoot the limit.
func (s *TeamService) AddMember(ctx context.Context, in AddMemberInput) (*AddMemberResult, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.MemberRoleUser
	}
	if !models.IsValidMemberRole(in.Role) {
		return nil, invalid("Invalid member role %q", in.Role)
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.UserID == 0 && in.Email == "" {
		return nil, invalid("user_id or email is required")
	}
	if in.UserID == 0 {
		email, err := utils.CheckInviteEmail(in.Email)
		if err != nil {
			return nil, invalid("Invalid email address: %s", err.Error())
		}
		in.Email = email
	}

	var (
		team    models.Team
		actor   models.User
		user    models.User
		member  models.TeamMember
		invited bool
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&team, in.TeamID).Error; err != nil {
			return notFoundOr(err, "Team not found")
		}
		if err := requireAdmin(tx, team.ID, in.ActorID); err != nil {
			return err
		}
		if err := tx.First(&actor, in.ActorID).Error; err != nil {
			return notFoundOr(err, "User not found")
		}
		// counted under the team row lock, so invites see the same cap as adds
		var count int64
		if err := tx.Model(&models.TeamMember{}).Where("team_id = ?", team.ID).Count(&count).Error; err != nil {
			return err
		}
		full := count >= int64(s.policy.MaxMembers)

		var err error
		if in.UserID != 0 {
			err = tx.First(&user, in.UserID).Error
		} else {
			err = tx.Where("LOWER(email) = ?", in.Email).First(&user).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if in.UserID != 0 {
				return notFound("User not found")
			}
			if full {
				return invalid("Team size limit exceeded")
			}
			invited = true
			return nil
		}
		if err != nil {
			return err
		}

		role, err := memberRole(tx, team.ID, user.ID)
		if err != nil {
			return err
		}
		if role != "" {
			return conflict("User is already a member of this team")
		}

		if full {
			return invalid("Team size limit exceeded")
		}
		userTeams, err := s.countUserTeams(tx, user.ID)
		if err != nil {
			return err
		}
		if userTeams >= int64(s.policy.MaxTeamsPerUser) {
			return invalid("User team limit exceeded")
		}

		member = models.TeamMember{
			TeamID:   team.ID,
			UserID:   user.ID,
			Role:     in.Role,
			JoinedAt: time.Now(),
		}
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return conflict("User is already a member of this team")
			}
			return err
		}
		member.User = &user
		return nil
	})
	if err != nil {
		return nil, err
	}

	if invited {
		sendEmail(ctx, s.emails, utils.TeamInviteEmail(in.Email, team.Name, displayName(&actor), s.appURL))
		utils.LogEvent("team_invite_sent", map[string]interface{}{
			"team_id":  team.ID,
			"email":    in.Email,
			"actor_id": in.ActorID,
		})
		return &AddMemberResult{Invited: true, Email: in.Email}, nil
	}

	sendEmail(ctx, s.emails, utils.TeamAddedEmail(user.Email, team.Name, displayName(&actor), s.appURL, team.ID))
	utils.LogEvent("team_member_added", map[string]interface{}{
		"team_id":  team.ID,
		"user_id":  user.ID,
		"role":     member.Role,
		"actor_id": in.ActorID,
	})
	return &AddMemberResult{Member: &member, Email: user.Email}, nil
}

// RemoveMember deletes a membership. Admins may remove themselves.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, actorID, userID uint) error {
	db, err := conn(ctx, s.db)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := requireAdmin(tx, teamID, actorID); err != nil {
			return err
		}
		res := tx.Where("team_id = ? AND user_id = ?", teamID, userID).Delete(&models.TeamMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("Member not found")
		}
		return nil
	})
}

func (s *TeamService) UpdateMemberRole(ctx context.Context, teamID, actorID, userID uint, role string) (*models.TeamMember, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !models.IsValidMemberRole(role) {
		return nil, invalid("Invalid member role %q", role)
	}

	var member models.TeamMember
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := requireAdmin(tx, teamID, actorID); err != nil {
			return err
		}
		if err := tx.Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error; err != nil {
			return notFoundOr(err, "Member not found")
		}
		if err := tx.Model(&member).Update("role", role).Error; err != nil {
			return err
		}
		return tx.Preload("User").First(&member, member.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *TeamService) ListMembers(ctx context.Context, teamID, actorID uint) ([]models.TeamMember, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if _, err := requireMember(db, teamID, actorID); err != nil {
		return nil, err
	}
	return teamMembers(db, teamID)
}

const mentionCandidateLimit = 10

// MentionCandidates lists members whose name or email contains q
func (s *TeamService) MentionCandidates(ctx context.Context, teamID, actorID uint, q string) ([]models.MentionRef, error) {
	db, err := conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if _, err := requireMember(db, teamID, actorID); err != nil {
		return nil, err
	}

	pattern := containsPattern(q)
	var users []models.User
	err = db.Model(&models.User{}).
		Joins("JOIN team_members ON team_members.user_id = users.id").
		Where("team_members.team_id = ?", teamID).
		Where(`LOWER(users.name) LIKE ? ESCAPE '\' OR LOWER(users.email) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("users.name asc, users.id asc").
		Limit(mentionCandidateLimit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	refs := make([]models.MentionRef, 0, len(users))
	for i := range users {
		refs = append(refs, models.MentionRef{
			UserID:   users[i].ID,
			Username: mentionHandle(&users[i]),
			Email:    users[i].Email,
		})
	}
	return refs, nil
}
