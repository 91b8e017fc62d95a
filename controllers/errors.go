package controller

import (
	"errors"
	"strconv"

	"featureforge/middleware"
	"featureforge/models"
	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// respondError maps service errors onto HTTP statuses. Unclassified errors are
// logged and answered with fallback so driver messages never reach clients.
func respondError(c *fiber.Ctx, log *logrus.Entry, err error, fallback string) error {
	message := fallback
	var se *services.Error
	if errors.As(err, &se) {
		message = se.Message
	}

	switch {
	case errors.Is(err, services.ErrValidation):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, message, nil)
	case errors.Is(err, services.ErrForbidden):
		return utils.ErrorResponse(c, fiber.StatusForbidden, message, nil)
	case errors.Is(err, services.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, message, nil)
	case errors.Is(err, services.ErrConflict):
		return utils.ErrorResponse(c, fiber.StatusConflict, message, nil)
	case errors.Is(err, services.ErrUnavailable):
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Database unavailable", nil)
	}

	log.WithError(err).WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
	}).Error(fallback)
	utils.LogError("request_failed", err, map[string]interface{}{
		"method": c.Method(),
		"path":   c.Path(),
	})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, fallback, nil)
}

// paramID reads a positive numeric route parameter
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func badParam(c *fiber.Ctx, what string) error {
	return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid "+what, nil)
}

func currentUser(c *fiber.Ctx) *models.User {
	return middleware.CurrentUser(c)
}

// parseBody decodes and validates the request body into req. When it reports
// false the error response has already been written and err should be returned.
func parseBody(c *fiber.Ctx, req interface{}) (ok bool, err error) {
	if err := c.BodyParser(req); err != nil {
		return false, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return false, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	return true, nil
}
