package controller

import (
	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CommentController struct {
	Comments *services.CommentService
	Logger   *logrus.Entry
}

func NewCommentController(comments *services.CommentService) *CommentController {
	return &CommentController{Comments: comments, Logger: utils.Logger("comments")}
}

type CreateCommentRequest struct {
	Content  string `json:"content" validate:"required,max=10000"`
	ParentID *uint  `json:"parent_id"`
	TeamID   uint   `json:"team_id"`
}

type UpdateCommentRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

func (cc *CommentController) GetComments(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}

	tree, err := cc.Comments.GetCommentsForFeature(c.UserContext(), featureID, currentUser(c).ID)
	if err != nil {
		return respondError(c, cc.Logger, err, "Failed to fetch comments")
	}
	return c.JSON(utils.SuccessResponse(tree))
}

func (cc *CommentController) CreateComment(c *fiber.Ctx) error {
	featureID, ok := paramID(c, "featureId")
	if !ok {
		return badParam(c, "feature id")
	}
	var req CreateCommentRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	comment, err := cc.Comments.CreateComment(c.UserContext(), services.CreateCommentInput{
		FeatureID: featureID,
		UserID:    currentUser(c).ID,
		Content:   req.Content,
		ParentID:  req.ParentID,
		TeamID:    req.TeamID,
	})
	if err != nil {
		return respondError(c, cc.Logger, err, "Failed to create comment")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(comment))
}

func (cc *CommentController) UpdateComment(c *fiber.Ctx) error {
	commentID, ok := paramID(c, "id")
	if !ok {
		return badParam(c, "comment id")
	}
	var req UpdateCommentRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	comment, err := cc.Comments.UpdateComment(c.UserContext(), commentID, currentUser(c).ID, req.Content)
	if err != nil {
		return respondError(c, cc.Logger, err, "Failed to update comment")
	}
	return c.JSON(utils.SuccessResponse(comment))
}

func (cc *CommentController) DeleteComment(c *fiber.Ctx) error {
	commentID, ok := paramID(c, "id")
	if !ok {
		return badParam(c, "comment id")
	}

	if err := cc.Comments.DeleteComment(c.UserContext(), commentID, currentUser(c).ID); err != nil {
		return respondError(c, cc.Logger, err, "Failed to delete comment")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Comment deleted"}))
}
