// Package config binds cobra's persistent flags to ZVAULT_*-prefixed
// environment variables, the same envOrDefault pattern the teacher's
// command-line entry point uses.
package config

import (
	"os"

	"github.com/spf13/cobra"
)

// Config holds every value a zvaultd process needs at startup.
type Config struct {
	Port         string
	DBDriver     string
	DBDSN        string
	SecretKey    string
	TokenExpire  string
	CORSOrigins  string
	LogLevel     string
}

// BindFlags registers cfg's fields as persistent flags on root, defaulting
// each to its ZVAULT_* environment variable (or a hard default if unset).
func BindFlags(root *cobra.Command, cfg *Config) {
	root.PersistentFlags().StringVar(&cfg.Port, "port", envOrDefault("ZVAULT_PORT", "8420"), "HTTP listen port")
	root.PersistentFlags().StringVar(&cfg.DBDriver, "db-driver", envOrDefault("ZVAULT_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.DBDSN, "db", envOrDefault("ZVAULT_DB", "./zvault.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.SecretKey, "secret-key", envOrDefault("ZVAULT_SECRET_KEY", ""), "Master secret key for encrypting credentials at rest (random, process-lifetime key if unset)")
	root.PersistentFlags().StringVar(&cfg.TokenExpire, "token-expire", envOrDefault("ZVAULT_TOKEN_EXPIRE", "480"), "Access-token TTL in minutes, consumed by the out-of-scope auth layer")
	root.PersistentFlags().StringVar(&cfg.CORSOrigins, "cors-origins", envOrDefault("ZVAULT_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins, consumed by the out-of-scope HTTP layer")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", envOrDefault("ZVAULT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
}

// envOrDefault returns the value of the named environment variable, or
// defaultVal if it is unset or empty.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
