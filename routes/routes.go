package routes

import (
	"errors"
	"time"

	controller "featureforge/controllers"
	"featureforge/metrics"
	"featureforge/middleware"
	"featureforge/services"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options carries everything the HTTP layer needs. DB may be nil, in which
// case data routes answer 503.
type Options struct {
	DB                 *gorm.DB
	JWTSecret          string
	JWTTTL             time.Duration
	CORSOrigins        []string
	RateLimitPerMinute int
	RateLimitStorage   fiber.Storage
	TeamPolicy         services.TeamPolicy
	AppURL             string
	Emails             *utils.EmailDispatcher
	EmailQueue         *utils.EmailQueue
	Hub                *controller.NotificationHub
	AccessLog          bool
}

const accessLogFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n"

// NewApp builds the Fiber application with global middleware and every route
func NewApp(opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "FeatureForge",
		ErrorHandler: errorHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return uuid.New().String() },
	}))
	app.Use(middleware.Metrics())
	corsConfig := middleware.DefaultCORSConfig()
	if len(opts.CORSOrigins) > 0 {
		corsConfig.AllowedOrigins = opts.CORSOrigins
	}
	app.Use(middleware.CORS(corsConfig))
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{Format: accessLogFormat}))
	}

	SetupRoutes(app, opts)
	return app
}

// errorHandler renders errors that escaped the handlers in the JSON envelope
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		utils.LogError("unhandled_error", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
	}
	return utils.ErrorResponse(c, code, message, nil)
}

func SetupRoutes(app *fiber.App, opts Options) {
	if opts.Hub == nil {
		opts.Hub = controller.NewNotificationHub()
	}
	if opts.Emails == nil {
		opts.Emails = utils.NewEmailDispatcher(utils.NewSMTPMailer(utils.SMTPConfig{}), nil, nil, 0)
	}

	notifications := services.NewNotificationService(opts.DB, opts.Hub)
	teams := services.NewTeamService(opts.DB, opts.TeamPolicy, opts.Emails, opts.AppURL)
	features := services.NewFeatureService(opts.DB, notifications)
	dependencies := services.NewDependencyService(opts.DB)
	comments := services.NewCommentService(opts.DB, notifications, opts.Emails, opts.AppURL)

	authController := controller.NewAuthController(opts.DB, opts.JWTSecret, opts.JWTTTL)
	teamController := controller.NewTeamController(teams)
	featureController := controller.NewFeatureController(features)
	dependencyController := controller.NewDependencyController(dependencies)
	commentController := controller.NewCommentController(comments)
	notificationController := controller.NewNotificationController(notifications)
	emailController := controller.NewEmailController(opts.Emails, opts.EmailQueue)

	protected := middleware.Protected(opts.DB, opts.JWTSecret)

	app.Get("/health", healthHandler(opts.DB))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// Auth
	auth := app.Group("/auth")
	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)
	auth.Get("/me", protected, authController.Me)

	// Live notifications
	app.Get("/ws/notifications", opts.Hub.Upgrade, protected, opts.Hub.Handler())

	api := app.Group("/api", protected)
	if opts.RateLimitPerMinute > 0 {
		api.Use(middleware.RateLimiter(opts.RateLimitPerMinute, opts.RateLimitStorage))
	}

	// Teams
	teamsGroup := api.Group("/teams")
	teamsGroup.Post("/", teamController.CreateTeam)
	teamsGroup.Get("/", teamController.ListTeams)
	teamsGroup.Get("/:teamId", teamController.GetTeam)
	teamsGroup.Put("/:teamId", teamController.UpdateTeam)
	teamsGroup.Delete("/:teamId", teamController.DeleteTeam)

	// Members
	teamsGroup.Get("/:teamId/members/mentions", teamController.MentionCandidates)
	teamsGroup.Get("/:teamId/members", teamController.ListMembers)
	teamsGroup.Post("/:teamId/members", teamController.AddMember)
	teamsGroup.Put("/:teamId/members/:userId", teamController.UpdateMemberRole)
	teamsGroup.Delete("/:teamId/members/:userId", teamController.RemoveMember)

	// Team features and dependencies
	teamsGroup.Get("/:teamId/features/tree", featureController.GetFeatureTree)
	teamsGroup.Get("/:teamId/features", featureController.ListFeatures)
	teamsGroup.Post("/:teamId/features", featureController.CreateFeature)
	teamsGroup.Get("/:teamId/dependencies", dependencyController.GetTeamDependencies)

	// Features
	featuresGroup := api.Group("/features")
	featuresGroup.Get("/:featureId", featureController.GetFeature)
	featuresGroup.Put("/:featureId", featureController.UpdateFeature)
	featuresGroup.Delete("/:featureId", featureController.DeleteFeature)
	featuresGroup.Post("/:featureId/vote", featureController.Vote)
	featuresGroup.Get("/:featureId/dependencies", dependencyController.GetFeatureDependencies)
	featuresGroup.Post("/:featureId/dependencies", dependencyController.CreateDependency)
	featuresGroup.Delete("/:featureId/dependencies/:dependencyId", dependencyController.DeleteDependency)
	featuresGroup.Get("/:featureId/comments", commentController.GetComments)
	featuresGroup.Post("/:featureId/comments", commentController.CreateComment)

	// Comments
	commentsGroup := api.Group("/comments")
	commentsGroup.Put("/:id", commentController.UpdateComment)
	commentsGroup.Delete("/:id", commentController.DeleteComment)

	// Notifications
	notificationsGroup := api.Group("/notifications")
	notificationsGroup.Get("/", notificationController.ListNotifications)
	notificationsGroup.Get("/unread-count", notificationController.UnreadCount)
	notificationsGroup.Put("/read-all", notificationController.MarkAllRead)
	notificationsGroup.Put("/:id/read", notificationController.MarkRead)
	notificationsGroup.Delete("/:id", notificationController.DeleteNotification)

	// Email delivery
	api.Get("/email/stats", emailController.GetStats)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "The requested resource was not found", nil)
	})
}

func healthHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok", "database": "unconfigured"}
		if db == nil {
			return c.JSON(status)
		}

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		status["database"] = "ok"
		return c.JSON(status)
	}
}
