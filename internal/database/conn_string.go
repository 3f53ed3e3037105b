package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/vehicle-sync/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DatabaseConfig) string {
	// Userinfo escaping keeps special characters in credentials intact
	credentials := url.UserPassword(cfg.User, cfg.Password).String()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		credentials,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
