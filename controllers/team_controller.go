package controller

import (
	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type TeamController struct {
	Teams  *services.TeamService
	Logger *logrus.Entry
}

func NewTeamController(teams *services.TeamService) *TeamController {
	return &TeamController{Teams: teams, Logger: utils.Logger("teams")}
}

type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type UpdateTeamRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type AddMemberRequest struct {
	UserID uint   `json:"user_id" validate:"required_without=Email"`
	Email  string `json:"email" validate:"omitempty,email"`
	Role   string `json:"role" validate:"omitempty,oneof=admin user product-owner"`
}

type UpdateMemberRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin user product-owner"`
}

func (tc *TeamController) CreateTeam(c *fiber.Ctx) error {
	var req CreateTeamRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	team, err := tc.Teams.CreateTeam(c.UserContext(), currentUser(c).ID, req.Name, req.Description)
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to create team")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(team))
}

func (tc *TeamController) ListTeams(c *fiber.Ctx) error {
	teams, err := tc.Teams.ListTeamsForUser(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to fetch teams")
	}
	return c.JSON(utils.SuccessResponse(teams))
}

func (tc *TeamController) GetTeam(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	team, err := tc.Teams.GetTeam(c.UserContext(), teamID, currentUser(c).ID)
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to fetch team")
	}
	return c.JSON(utils.SuccessResponse(team))
}

func (tc *TeamController) UpdateTeam(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}
	var req UpdateTeamRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	team, err := tc.Teams.UpdateTeam(c.UserContext(), teamID, currentUser(c).ID, services.UpdateTeamInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to update team")
	}
	return c.JSON(utils.SuccessResponse(team))
}

func (tc *TeamController) DeleteTeam(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	if err := tc.Teams.DeleteTeam(c.UserContext(), teamID, currentUser(c).ID); err != nil {
		return respondError(c, tc.Logger, err, "Failed to delete team")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Team deleted"}))
}

func (tc *TeamController) ListMembers(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	members, err := tc.Teams.ListMembers(c.UserContext(), teamID, currentUser(c).ID)
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to fetch members")
	}
	return c.JSON(utils.SuccessResponse(members))
}

// AddMember adds an existing user, or invites an email address with no account
func (tc *TeamController) AddMember(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}
	var req AddMemberRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	result, err := tc.Teams.AddMember(c.UserContext(), services.AddMemberInput{
		TeamID:  teamID,
		ActorID: currentUser(c).ID,
		UserID:  req.UserID,
		Email:   req.Email,
		Role:    req.Role,
	})
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to add member")
	}

	status := fiber.StatusCreated
	if result.Invited {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(utils.SuccessResponse(result))
}

func (tc *TeamController) UpdateMemberRole(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return badParam(c, "user id")
	}
	var req UpdateMemberRoleRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	member, err := tc.Teams.UpdateMemberRole(c.UserContext(), teamID, currentUser(c).ID, userID, req.Role)
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to update member role")
	}
	return c.JSON(utils.SuccessResponse(member))
}

func (tc *TeamController) RemoveMember(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return badParam(c, "user id")
	}

	if err := tc.Teams.RemoveMember(c.UserContext(), teamID, currentUser(c).ID, userID); err != nil {
		return respondError(c, tc.Logger, err, "Failed to remove member")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Member removed"}))
}

// MentionCandidates powers @mention autocomplete
func (tc *TeamController) MentionCandidates(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	users, err := tc.Teams.MentionCandidates(c.UserContext(), teamID, currentUser(c).ID, c.Query("q"))
	if err != nil {
		return respondError(c, tc.Logger, err, "Failed to search members")
	}
	return c.JSON(utils.SuccessResponse(users))
}
