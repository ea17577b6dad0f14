package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Hasher   HasherConfig
	Lockout  LockoutConfig
	Tokens   TokenConfig
	Audit    AuditConfig
	Archive  ArchiveConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// JWTConfig holds access-token and session configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	SessionExpiry     time.Duration
	Issuer            string
	RotateRefresh     bool
}

// HasherConfig holds argon2id cost parameters for credential hashing
type HasherConfig struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// LockoutConfig holds account lockout policy parameters
type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// TokenConfig holds single-use token TTLs
type TokenConfig struct {
	VerificationTTL  time.Duration
	PasswordResetTTL time.Duration
}

// AuditConfig holds audit emitter configuration
type AuditConfig struct {
	BufferSize int
	DropIfFull bool
}

// ArchiveConfig holds S3 audit archive configuration
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Interval        time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "lockbox"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: getDurationEnv("JWT_ACCESS_EXPIRY_MINUTES", 15*time.Minute),
			SessionExpiry:     getDurationEnv("SESSION_EXPIRY_MINUTES", 7*24*60*time.Minute),
			Issuer:            getEnv("JWT_ISSUER", "lockbox"),
			RotateRefresh:     getBoolEnv("AUTH_ROTATE_REFRESH", false),
		},
		Hasher: HasherConfig{
			Time:        uint32(getPositiveIntEnv("HASH_TIME_COST", 1)),
			MemoryKiB:   uint32(getPositiveIntEnv("HASH_MEMORY_KIB", 64*1024)),
			Parallelism: uint8(getPositiveIntEnv("HASH_PARALLELISM", 4)),
			KeyLength:   uint32(getPositiveIntEnv("HASH_KEY_LENGTH", 32)),
			SaltLength:  uint32(getPositiveIntEnv("HASH_SALT_LENGTH", 16)),
		},
		Lockout: LockoutConfig{
			MaxAttempts:  getPositiveIntEnv("LOCKOUT_MAX_ATTEMPTS", 5),
			LockDuration: getDurationEnv("LOCKOUT_DURATION_MINUTES", 30*time.Minute),
		},
		Tokens: TokenConfig{
			VerificationTTL:  getDurationEnv("VERIFICATION_TOKEN_TTL_MINUTES", 24*60*time.Minute),
			PasswordResetTTL: getDurationEnv("RESET_TOKEN_TTL_MINUTES", 60*time.Minute),
		},
		Audit: AuditConfig{
			BufferSize: getPositiveIntEnv("AUDIT_BUFFER_SIZE", 1024),
			DropIfFull: getBoolEnv("AUDIT_DROP_IF_FULL", true),
		},
		Archive: ArchiveConfig{
			Enabled:         getBoolEnv("ARCHIVE_ENABLED", false),
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", "lockbox-audit"),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
			UseSSL:          getBoolEnv("ARCHIVE_S3_USE_SSL", true),
			Interval:        getDurationEnv("ARCHIVE_INTERVAL_MINUTES", 15*time.Minute),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration in minutes from environment variable or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

// getIntEnv returns an integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getPositiveIntEnv is getIntEnv restricted to values above zero. Several of
// these feed unsigned conversions (argon2 costs), where a negative value
// would wrap instead of failing.
func getPositiveIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns a boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
