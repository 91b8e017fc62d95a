package controller

import (
	"errors"
	"strings"
	"time"

	"featureforge/models"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthController struct {
	DB       *gorm.DB
	Secret   string
	TokenTTL time.Duration
	Logger   *logrus.Entry
}

func NewAuthController(db *gorm.DB, secret string, ttl time.Duration) *AuthController {
	return &AuthController{
		DB:       db,
		Secret:   secret,
		TokenTTL: ttl,
		Logger:   utils.Logger("auth"),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

func (ac *AuthController) issue(c *fiber.Ctx, status int, user *models.User) error {
	token, err := utils.GenerateJWTToken(user, ac.Secret, ac.TokenTTL)
	if err != nil {
		ac.Logger.WithError(err).Error("Failed to generate token")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate token", nil)
	}
	return c.Status(status).JSON(utils.SuccessResponse(AuthResponse{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(ac.TokenTTL),
		User:        user,
	}))
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}
	if ac.DB == nil {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Database unavailable", nil)
	}
	db := ac.DB.WithContext(c.UserContext())
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	err := db.Where("LOWER(email) = ?", email).First(&existing).Error
	if err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Email already registered", nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		ac.Logger.WithError(err).Error("Failed to check existing user")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create user", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to hash password", nil)
	}

	user := models.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         models.UserRoleUser,
		PasswordHash: string(hashedPassword),
		IsActive:     true,
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Email already registered", nil)
		}
		ac.Logger.WithError(err).Error("Failed to create user")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create user", nil)
	}

	utils.LogEvent("user_registered", map[string]interface{}{"user_id": user.ID})
	return ac.issue(c, fiber.StatusCreated, &user)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}
	if ac.DB == nil {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Database unavailable", nil)
	}

	var user models.User
	err := ac.DB.WithContext(c.UserContext()).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			ac.Logger.WithError(err).Error("Failed to load user")
		}
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", nil)
	}
	if !user.IsActive {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Account is not active", nil)
	}

	return ac.issue(c, fiber.StatusOK, &user)
}

// Me returns the authenticated user
func (ac *AuthController) Me(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(currentUser(c)))
}
