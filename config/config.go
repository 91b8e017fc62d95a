package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"featureforge/models"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB        *gorm.DB
	Redis     *redis.Client
	AppConfig Config
)

const devJWTSecret = "featureforge-dev-secret"

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

type Config struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`
	ServerPort  string `json:"server_port"`
	AppURL      string `json:"app_url"`
	CORSOrigins string `json:"cors_origins"`

	DBHost            string        `json:"db_host"`
	DBPort            string        `json:"db_port"`
	DBUser            string        `json:"db_user"`
	DBPassword        string        `json:"-"`
	DBName            string        `json:"db_name"`
	DBSSLMode         string        `json:"db_ssl_mode"`
	DBMaxIdleConns    int           `json:"db_max_idle_conns"`
	DBMaxOpenConns    int           `json:"db_max_open_conns"`
	DBConnMaxLifetime time.Duration `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime time.Duration `json:"db_conn_max_idle_time"`
	AutoMigrate       bool          `json:"auto_migrate"`

	JWTSecret string        `json:"-"`
	JWTTTL    time.Duration `json:"jwt_ttl"`

	Redis RedisConfig `json:"redis"`
	SMTP  SMTPConfig  `json:"smtp"`

	MaxTeamMembers            int           `json:"max_team_members"`
	MaxTeamsPerUser           int           `json:"max_teams_per_user"`
	NotificationRetentionDays int           `json:"notification_retention_days"`
	EmailTimeout              time.Duration `json:"email_timeout"`
	EmailStatsTTL             time.Duration `json:"email_stats_ttl"`
	EmailMaxAttempts          int           `json:"email_max_attempts"`
	RateLimitPerMinute        int           `json:"rate_limit_per_minute"`

	SentryDSN string `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "featureforge"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		DBConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		DBConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getEnvAsDuration("JWT_TTL", 24*time.Hour),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("FROM_EMAIL", "no-reply@featureforge.local"),
			FromName:  getEnv("FROM_NAME", "FeatureForge"),
		},

		MaxTeamMembers:            getEnvAsInt("MAX_TEAM_MEMBERS", 10),
		MaxTeamsPerUser:           getEnvAsInt("MAX_TEAMS_PER_USER", 5),
		NotificationRetentionDays: getEnvAsInt("NOTIFICATION_RETENTION_DAYS", 30),
		EmailTimeout:              getEnvAsDuration("EMAIL_TIMEOUT", 30*time.Second),
		EmailStatsTTL:             getEnvAsDuration("EMAIL_STATS_TTL", 24*time.Hour),
		EmailMaxAttempts:          getEnvAsInt("EMAIL_MAX_ATTEMPTS", 3),
		RateLimitPerMinute:        getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	if err := cfg.validate(); err != nil {
		return err
	}

	AppConfig = cfg
	logConfig()
	return nil
}

func (c *Config) validate() error {
	if c.MaxTeamMembers < 1 {
		return fmt.Errorf("MAX_TEAM_MEMBERS must be at least 1")
	}
	if c.MaxTeamsPerUser < 1 {
		return fmt.Errorf("MAX_TEAMS_PER_USER must be at least 1")
	}
	if c.NotificationRetentionDays < 1 {
		return fmt.Errorf("NOTIFICATION_RETENTION_DAYS must be at least 1")
	}

	if c.Environment == "production" {
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required in production")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required in production")
		}
		return nil
	}

	if c.JWTSecret == "" {
		logrus.Warn("JWT_SECRET not set, using the development secret")
		c.JWTSecret = devJWTSecret
	}
	return nil
}

// DSN builds the Postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

func ConnectDB() error {
	log := logrus.WithField("component", "database")
	dsn := AppConfig.DSN()
	log.WithField("dsn", maskPassword(dsn)).Info("Connecting to database")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(gormLogLevel(AppConfig.LogLevel)),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(AppConfig.DBConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(AppConfig.DBConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("Connected to database")

	if AppConfig.AutoMigrate {
		if err := MigrateDB(db); err != nil {
			return err
		}
	}

	DB = db
	return nil
}

// MigrateDB brings the schema up to date
func MigrateDB(db *gorm.DB) error {
	log := logrus.WithField("component", "database")
	log.Info("Starting database migration")
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("Database migration completed")
	return nil
}

// ConnectRedis opens the Redis client when Redis is enabled. It leaves Redis nil
// and returns nil when Redis is disabled.
func ConnectRedis(ctx context.Context) error {
	if !AppConfig.Redis.Enabled {
		logrus.WithField("component", "redis").Info("Redis disabled, email is sent inline")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     AppConfig.Redis.Address,
		Password: AppConfig.Redis.Password,
		DB:       AppConfig.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	Redis = client
	logrus.WithField("component", "redis").WithField("address", AppConfig.Redis.Address).Info("Connected to Redis")
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return logger.Info
	case "warn", "warning":
		return logger.Warn
	case "error", "fatal", "panic":
		return logger.Error
	}
	return logger.Silent
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		logrus.Warnf("Invalid integer for %s, using default %d", key, fallback)
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		logrus.Warnf("Invalid boolean for %s, using default %t", key, fallback)
		return fallback
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30s") or a plain number of seconds
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	logrus.Warnf("Invalid duration for %s, using default %s", key, fallback)
	return fallback
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":      AppConfig.Environment,
		"server_port":      AppConfig.ServerPort,
		"database":         fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis_enabled":    AppConfig.Redis.Enabled,
		"smtp_configured":  AppConfig.SMTP.Host != "",
		"max_team_members": AppConfig.MaxTeamMembers,
		"sentry_enabled":   AppConfig.SentryDSN != "",
	}).Info("Loaded configuration")
}
