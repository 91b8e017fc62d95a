package services

import (
	"errors"
	"strings"

	"featureforge/models"

	"gorm.io/gorm"
)

// memberRole returns the role userID holds in teamID, or "" when not a member
func memberRole(tx *gorm.DB, teamID, userID uint) (string, error) {
	var member models.TeamMember
	err := tx.Select("role").Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

func requireMember(tx *gorm.DB, teamID, userID uint) (string, error) {
	role, err := memberRole(tx, teamID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", forbidden("You are not a member of this team")
	}
	return role, nil
}

// requireVisible is requireMember for lookups keyed by an entity id. A caller
// outside the team gets the same not found answer as for a missing id.
func requireVisible(tx *gorm.DB, teamID, userID uint, msg string) (string, error) {
	role, err := memberRole(tx, teamID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", notFound(msg)
	}
	return role, nil
}

func requireAdmin(tx *gorm.DB, teamID, userID uint) error {
	role, err := memberRole(tx, teamID, userID)
	if err != nil {
		return err
	}
	if role != models.MemberRoleAdmin {
		return forbidden("Only team admins can perform this action")
	}
	return nil
}

// teamMembers loads every member of a team with the user preloaded
func teamMembers(tx *gorm.DB, teamID uint) ([]models.TeamMember, error) {
	var members []models.TeamMember
	err := tx.Preload("User").
		Where("team_id = ?", teamID).
		Order("joined_at asc, id asc").
		Find(&members).Error
	return members, err
}

func displayName(u *models.User) string {
	if u == nil {
		return "Someone"
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a lowercase LIKE pattern matching q literally. Queries
// using it must add ESCAPE '\'.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
}
