package controller

import (
	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type DependencyController struct {
	Dependencies *services.DependencyService
	Logger       *logrus.Entry
}

func NewDependencyController(deps *services.DependencyService) *DependencyController {
	return &DependencyController{Dependencies: deps, Logger: utils.Logger("dependencies")}
}

type CreateDependencyRequest struct {
	TargetFeatureID uint   `json:"targetFeatureId" validate:"required"`
	DependencyType  string `json:"dependencyType" validate:"required"`
	Description     string `json:"description" validate:"max=500"`
}

func (dc *DependencyController) CreateDependency(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}
	var req CreateDependencyRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	dep, err := dc.Dependencies.CreateDependency(c.UserContext(), services.CreateDependencyInput{
		SourceID:    featureID,
		TargetID:    req.TargetFeatureID,
		Type:        req.DependencyType,
		Description: req.Description,
		ActorID:     currentUser(c).ID,
	})
	if err != nil {
		return respondError(c, dc.Logger, err, "Failed to create dependency")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(dep))
}

func (dc *DependencyController) GetFeatureDependencies(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}

	view, err := dc.Dependencies.GetFeatureDependencies(c.UserContext(), featureID, currentUser(c).ID)
	if err != nil {
		return respondError(c, dc.Logger, err, "Failed to fetch dependencies")
	}
	return c.JSON(utils.SuccessResponse(view))
}

func (dc *DependencyController) DeleteDependency(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}
	dependencyID, ok := paramID(c, "dependencyId")
	if !ok {
		return badParam(c, "dependency id")
	}

	if err := dc.Dependencies.DeleteDependency(c.UserContext(), featureID, dependencyID, currentUser(c).ID); err != nil {
		return respondError(c, dc.Logger, err, "Failed to delete dependency")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{}))
}

func (dc *DependencyController) GetTeamDependencies(c *fiber.Ctx) error {
	teamID, ok := paramID(c, "teamId")
	if !ok {
		return badParam(c, "team id")
	}

	view, err := dc.Dependencies.GetTeamDependencies(c.UserContext(), teamID, currentUser(c).ID)
	if err != nil {
		return respondError(c, dc.Logger, err, "Failed to fetch team dependencies")
	}
	return c.JSON(utils.SuccessResponse(view))
}
