// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"medassoc/internal/logger"
)

// Variables available everywhere
var (
	baseDir        string
	dataDirectory  string
	logsDirectory  string
	databasePath   string
	catalogPath    string
	contentPath    string
	jwtSecret      string
	jwtTTL         time.Duration
	redisURL       string
	publicBaseURL  string
	bootstrapEmail string
	bootstrapPass  string

	AllowedOrigin string // For CORS
)

//
// --- Utility Helpers ---
//

// Environment returns the running environment, "dev" when unset.
func Environment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return env
}

// IsProduction reports whether ENVIRONMENT is prod/production.
func IsProduction() bool {
	env := strings.ToLower(Environment())
	return env == "prod" || env == "production"
}

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(Environment())))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

// Helper: log which environment is running
func LogCurrentEnvironment() {
	if IsProduction() {
		logger.LogInfo("Running in production environment")
	} else {
		logger.LogInfo("Running in %s environment", Environment())
	}
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	logDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logDir == "" {
		logDir = "./logs"
	}

	logFormat := GetEnvBasedSetting("LOG_FILE_FORMAT")
	if logFormat == "" {
		logFormat = "server_%s.log"
	}

	return logger.Config{
		LogsDirectory: logDir,
		LogFileFormat: logFormat,
		TimeZone:      TimeZone(),
		Level:         getEnv("LOG_LEVEL", "info"),
		TrustProxy:    getEnvAsBool("TRUST_PROXY_HEADERS", false),
	}
}

// ConfigurePaths sets up folders, paths and the remaining settings
func ConfigurePaths() {
	wd, err := os.Getwd()
	if err != nil {
		logger.LogFatal("Failed to get working directory: %v", err)
	}
	baseDir = wd

	AllowedOrigin = GetEnvBasedSetting("ALLOWED_ORIGIN")
	if AllowedOrigin == "" {
		AllowedOrigin = "*"
		logger.LogWarn("ALLOWED_ORIGIN not set, allowing all origins")
	}

	dataDirectory = GetEnvBasedSetting("DATA_DIRECTORY")
	if dataDirectory == "" {
		dataDirectory = filepath.Join(baseDir, "data")
	}

	logsDirectory = GetEnvBasedSetting("LOGS_DIRECTORY")
	if logsDirectory == "" {
		logsDirectory = filepath.Join(baseDir, "logs")
	}

	databasePath = GetEnvBasedSetting("DATABASE_PATH")
	if databasePath == "" {
		databasePath = filepath.Join(dataDirectory, "medassoc.db")
	}

	// Empty paths mean the embedded defaults are used
	catalogPath = os.Getenv("CATALOG_PATH")
	contentPath = os.Getenv("CONTENT_PATH")

	publicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/")
	redisURL = os.Getenv("REDIS_URL")
	bootstrapEmail = os.Getenv("BOOTSTRAP_ADMIN_EMAIL")
	bootstrapPass = os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
}

// LoadAuthConfig loads JWT settings
func LoadAuthConfig() error {
	jwtSecret = os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		jwtSecret = "dev-only-secret-change-me-please-32b"
		logger.LogWarn("JWT_SECRET not set, using development secret")
	}
	jwtTTL = getEnvAsDuration("JWT_TTL", 12*time.Hour)
	return nil
}

//
// --- Getters (exported) ---
//

func DataDirectory() string {
	return dataDirectory
}

func LogsDirectory() string {
	return logsDirectory
}

func DatabasePath() string {
	return databasePath
}

func CatalogPath() string {
	return catalogPath
}

func ContentPath() string {
	return contentPath
}

func JWTSecret() string {
	return jwtSecret
}

func JWTTTL() time.Duration {
	return jwtTTL
}

func RedisURL() string {
	return redisURL
}

func PublicBaseURL() string {
	return publicBaseURL
}

func BootstrapAdmin() (email, password string) {
	return bootstrapEmail, bootstrapPass
}

func ServerAddress() string {
	return getEnv("SERVER_HOST", "127.0.0.1") + ":" + getEnv("SERVER_PORT", "5051")
}

// RateLimitPerMinute is the number of sensitive requests (register, login, reset) an IP may make per minute.
func RateLimitPerMinute() int {
	return getEnvAsInt("RATE_LIMIT_PER_MINUTE", 10)
}

// MetricsEnabled controls the /metrics endpoint.
func MetricsEnabled() bool {
	return getEnvAsBool("ENABLE_METRICS", true)
}

// CSRFRequired controls whether registrations must carry a token from /api/csrf-token.
func CSRFRequired() bool {
	return getEnvAsBool("REQUIRE_CSRF", true)
}

// TimeZone is the location used for the daily cleanup schedule and log timestamps.
func TimeZone() string {
	return getEnv("TIME_ZONE", "Local")
}
