package controller

import (
	"strconv"
	"time"

	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type FeatureController struct {
	Features *services.FeatureService
	Logger   *logrus.Entry
}

func NewFeatureController(features *services.FeatureService) *FeatureController {
	return &FeatureController{Features: features, Logger: utils.Logger("features")}
}

type CreateFeatureRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	Status      string     `json:"status" validate:"omitempty,oneof=backlog in_progress review done"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high critical urgent"`
	Type        string     `json:"type" validate:"omitempty,oneof=parent story task research"`
	ParentID    *uint      `json:"parent_id"`
	AssignedTo  *uint      `json:"assigned_to"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"due_date"`
	Impact      int        `json:"impact" validate:"gte=0,max=10"`
	Effort      int        `json:"effort" validate:"gte=0,max=10"`
}

type UpdateFeatureRequest struct {
	Title         *string    `json:"title" validate:"omitempty,max=200"`
	Description   *string    `json:"description"`
	Status        *string    `json:"status" validate:"omitempty,oneof=backlog in_progress review done"`
	Priority      *string    `json:"priority" validate:"omitempty,oneof=low medium high critical urgent"`
	Type          *string    `json:"type" validate:"omitempty,oneof=parent story task research"`
	ParentID      *uint      `json:"parent_id"`
	ClearParent   bool       `json:"clear_parent"`
	AssignedTo    *uint      `json:"assigned_to"`
	ClearAssignee bool       `json:"clear_assignee"`
	Tags          []string   `json:"tags"`
	DueDate       *time.Time `json:"due_date"`
	Impact        *int       `json:"impact" validate:"omitempty,gte=0,max=10"`
	Effort        *int       `json:"effort" validate:"omitempty,gte=0,max=10"`
}

func (fc *FeatureController) CreateFeature(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}
	var req CreateFeatureRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	feature, err := fc.Features.CreateFeature(c.UserContext(), services.CreateFeatureInput{
		TeamID:      teamID,
		ActorID:     currentUser(c).ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Type:        req.Type,
		ParentID:    req.ParentID,
		AssignedTo:  req.AssignedTo,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		Impact:      req.Impact,
		Effort:      req.Effort,
	})
	if err != nil {
		return respondError(c, fc.Logger, err, "Failed to create feature")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(feature))
}

// ListFeatures supports ?status=&type=&parent_id=&root_only=&assigned_to=&search=
func (fc *FeatureController) ListFeatures(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	filter := services.FeatureFilter{
		Status:   c.Query("status"),
		Type:     c.Query("type"),
		RootOnly: c.QueryBool("root_only", false),
		Search:   c.Query("search"),
	}
	if v := c.Query("parent_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return badParam(c, "parent_id")
		}
		filter.ParentID = utils.Pointer(uint(id))
	}
	if v := c.Query("assigned_to"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return badParam(c, "assigned_to")
		}
		filter.AssignedTo = utils.Pointer(uint(id))
	}

	features, err := fc.Features.ListFeatures(c.UserContext(), teamID, currentUser(c).ID, filter)
	if err != nil {
		return respondError(c, fc.Logger, err, "Failed to fetch features")
	}
	return c.JSON(utils.SuccessResponse(features))
}

func (fc *FeatureController) GetFeatureTree(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	tree, err := fc.Features.GetFeatureTree(c.UserContext(), teamID, currentUser(c).ID)
	if err != nil {
		return respondError(c, fc.Logger, err, "Failed to fetch feature tree")
	}
	return c.JSON(utils.SuccessResponse(tree))
}

func (fc *FeatureController) GetFeature(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}

	feature, err := fc.Features.GetFeature(c.UserContext(), featureID, currentUser(c).ID)
	if err != nil {
		return respondError(c, fc.Logger, err, "Failed to fetch feature")
	}
	return c.JSON(utils.SuccessResponse(feature))
}

func (fc *FeatureController) UpdateFeature(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}
	var req UpdateFeatureRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	feature, err := fc.Features.UpdateFeature(c.UserContext(), featureID, currentUser(c).ID, services.UpdateFeatureInput{
		Title:         req.Title,
		Description:   req.Description,
		Status:        req.Status,
		Priority:      req.Priority,
		Type:          req.Type,
		ParentID:      req.ParentID,
		ClearParent:   req.ClearParent,
		AssignedTo:    req.AssignedTo,
		ClearAssignee: req.ClearAssignee,
		Tags:          req.Tags,
		DueDate:       req.DueDate,
		Impact:        req.Impact,
		Effort:        req.Effort,
	})
	if err != nil {
		return respondError(c, fc.Logger, err, "Failed to update feature")
	}
	return c.JSON(utils.SuccessResponse(feature))
}

func (fc *FeatureController) DeleteFeature(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}

	if err := fc.Features.DeleteFeature(c.UserContext(), featureID, currentUser(c).ID); err != nil {
		return respondError(c, fc.Logger, err, "Failed to delete feature")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Feature deleted"}))
}

func (fc *FeatureController) Vote(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}

	feature, err := fc.Features.Vote(c.UserContext(), featureID, currentUser(c).ID)
	if err != nil {
		return respondError(c, fc.Logger, err, "Failed to record vote")
	}
	return c.JSON(utils.SuccessResponse(feature))
}
