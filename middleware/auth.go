package middleware

import (
	"errors"
	"strings"

	"featureforge/models"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Protected authenticates the request with a JWT taken from the Authorization
// header, the access_token cookie or, for websocket upgrades, the token query
// parameter. The user is stored in c.Locals("user").
func Protected(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := tokenFromRequest(c)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, err.Error(), nil)
		}

		claims, err := utils.ParseJWTToken(token, secret)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid or expired token", nil)
		}

		if db == nil {
			return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Database unavailable", nil)
		}

		var user models.User
		if err := db.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, "User not found", nil)
			}
			utils.LogError("auth_user_lookup", err, map[string]interface{}{"user_id": claims.UserID})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to authenticate", nil)
		}

		if !user.IsActive {
			return utils.ErrorResponse(c, fiber.StatusForbidden, "Account is not active", nil)
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)
		return c.Next()
	}
}

func tokenFromRequest(c *fiber.Ctx) (string, error) {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("Invalid authorization format")
		}
		return parts[1], nil
	}
	if token := c.Cookies("access_token"); token != "" {
		return token, nil
	}
	if token := c.Query("token"); token != "" && strings.HasPrefix(c.Path(), "/ws/") {
		return token, nil
	}
	return "", errors.New("Authorization required")
}

// CurrentUser returns the user stored by Protected, or nil
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}
