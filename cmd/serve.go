package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"featureforge/config"
	controller "featureforge/controllers"
	"featureforge/middleware"
	"featureforge/routes"
	"featureforge/services"
	"featureforge/utils"
	"featureforge/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the email worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	log := logrus.WithField("component", "server")
	cfg := config.AppConfig

	flush, err := utils.InitSentry(cfg.SentryDSN, cfg.Environment, version)
	if err != nil {
		log.WithError(err).Warn("Sentry disabled")
	} else {
		defer flush()
	}

	if err := config.ConnectDB(); err != nil {
		// Keep serving; data routes answer 503 until the database is back
		log.WithError(err).Error("Database unavailable")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ConnectRedis(ctx); err != nil {
		log.WithError(err).Warn("Redis unavailable, email is sent inline")
	}

	mailer := utils.NewSMTPMailer(utils.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
	})

	var (
		queue     *utils.EmailQueue
		stats     utils.EmailStatsStore = utils.NewMemoryEmailStats(cfg.EmailStatsTTL)
		rlStorage fiber.Storage
	)
	if config.Redis != nil {
		queue = utils.NewEmailQueue(config.Redis)
		stats = utils.NewRedisEmailStats(config.Redis, cfg.EmailStatsTTL)
		rlStorage = middleware.NewRedisStorage(config.Redis)
		defer config.Redis.Close()
	}
	dispatcher := utils.NewEmailDispatcher(mailer, queue, stats, cfg.EmailTimeout)

	if queue != nil {
		emailWorker := worker.NewEmailWorker(queue, dispatcher, cfg.EmailMaxAttempts)
		go emailWorker.Start(ctx)
	}

	app := routes.NewApp(routes.Options{
		DB:                 config.DB,
		JWTSecret:          cfg.JWTSecret,
		JWTTTL:             cfg.JWTTTL,
		CORSOrigins:        middleware.ParseOrigins(cfg.CORSOrigins),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitStorage:   rlStorage,
		TeamPolicy: services.TeamPolicy{
			MaxMembers:      cfg.MaxTeamMembers,
			MaxTeamsPerUser: cfg.MaxTeamsPerUser,
		},
		AppURL:     cfg.AppURL,
		Emails:     dispatcher,
		EmailQueue: queue,
		Hub:        controller.NewNotificationHub(),
		AccessLog:  true,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on port %s", cfg.ServerPort)
		errCh <- app.Listen(":" + cfg.ServerPort)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return app.ShutdownWithContext(shutdownCtx)
}
