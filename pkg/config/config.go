// Package config loads service configuration from the environment and
// governance profiles from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	SQLitePath  string
	RedisAddr   string
	AuditPath   string
	AuditSecret string
	JWTSecret   string
	ProfilesDir string
	DataDir     string
	Profile     string
	Supervisors string
}

// Load reads configuration from environment variables, with local-dev
// defaults for everything except secrets.
func Load() *Config {
	return &Config{
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		DatabaseURL: getenv("DATABASE_URL", "postgres://governor@localhost:5432/governor?sslmode=disable"),
		SQLitePath:  getenv("SQLITE_PATH", "data/governor.db"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		AuditPath:   getenv("AUDIT_LOG_PATH", "data/audit.log"),
		AuditSecret: os.Getenv("AUDIT_ROOT_SECRET"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		ProfilesDir: getenv("PROFILES_DIR", "profiles"),
		DataDir:     getenv("DATA_DIR", "data"),
		Profile:     os.Getenv("GOVERNOR_PROFILE"),
		Supervisors: os.Getenv("SUPERVISOR_USERS"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
