package controller

import (
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// EmailController exposes delivery counters of the email dispatcher
type EmailController struct {
	Dispatcher *utils.EmailDispatcher
	Queue      *utils.EmailQueue
	Logger     *logrus.Entry
}

func NewEmailController(dispatcher *utils.EmailDispatcher, queue *utils.EmailQueue) *EmailController {
	return &EmailController{Dispatcher: dispatcher, Queue: queue, Logger: utils.Logger("email")}
}

func (ec *EmailController) GetStats(c *fiber.Ctx) error {
	stats, err := ec.Dispatcher.Stats(c.UserContext())
	if err != nil {
		ec.Logger.WithError(err).Error("Failed to read email stats")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch email stats", nil)
	}

	response := fiber.Map{"outcomes": stats, "queue_enabled": ec.Queue != nil}
	if ec.Queue != nil {
		if pending, err := ec.Queue.Len(c.UserContext()); err == nil {
			response["pending"] = pending
		} else {
			ec.Logger.WithError(err).Warn("Failed to read email queue length")
		}
	}
	return c.JSON(utils.SuccessResponse(response))
}
