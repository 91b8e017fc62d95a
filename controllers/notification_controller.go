package controller

import (
	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type NotificationController struct {
	Notifications *services.NotificationService
	Logger        *logrus.Entry
}

func NewNotificationController(notifications *services.NotificationService) *NotificationController {
	return &NotificationController{Notifications: notifications, Logger: utils.Logger("notifications")}
}

// ListNotifications supports ?unread=true&page=&limit=
func (nc *NotificationController) ListNotifications(c *fiber.Ctx) error {
	page, err := nc.Notifications.List(c.UserContext(), services.NotificationQuery{
		UserID:     currentUser(c).ID,
		UnreadOnly: c.QueryBool("unread", false),
		Page:       c.QueryInt("page", 1),
		Limit:      c.QueryInt("limit", 20),
	})
	if err != nil {
		return respondError(c, nc.Logger, err, "Failed to fetch notifications")
	}
	return c.JSON(utils.SuccessResponse(page))
}

func (nc *NotificationController) UnreadCount(c *fiber.Ctx) error {
	count, err := nc.Notifications.UnreadCount(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return respondError(c, nc.Logger, err, "Failed to count notifications")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"unread": count}))
}

// MarkRead marks a notification read. A body of {"read": false} marks it unread.
func (nc *NotificationController) MarkRead(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badParam(c, "notification id")
	}

	req := struct {
		Read *bool `json:"read"`
	}{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", nil)
		}
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}

	n, err := nc.Notifications.SetRead(c.UserContext(), id, currentUser(c).ID, read)
	if err != nil {
		return respondError(c, nc.Logger, err, "Failed to update notification")
	}
	return c.JSON(utils.SuccessResponse(n))
}

func (nc *NotificationController) MarkAllRead(c *fiber.Ctx) error {
	updated, err := nc.Notifications.MarkAllRead(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return respondError(c, nc.Logger, err, "Failed to update notifications")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"updated": updated}))
}

func (nc *NotificationController) DeleteNotification(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badParam(c, "notification id")
	}

	if err := nc.Notifications.Delete(c.UserContext(), id, currentUser(c).ID); err != nil {
		return respondError(c, nc.Logger, err, "Failed to delete notification")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Notification deleted"}))
}
