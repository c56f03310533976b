package app

import (
	"strings"

	"github.com/pulsecare/pulsecare/internal/database"
)

// StoreConfig converts DatabaseConfig to the database package representation.
func (c DatabaseConfig) StoreConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   c.Path,
		DSN:    c.DSN,
	}

	switch cfg.Driver {
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
		cfg.Host = c.Postgres.Host
		cfg.Port = c.Postgres.Port
		cfg.User = c.Postgres.Username
		cfg.Password = c.Postgres.Password
		cfg.Name = c.Postgres.Database
	case "mysql":
		cfg.Host = c.MySQL.Host
		cfg.Port = c.MySQL.Port
		cfg.User = c.MySQL.Username
		cfg.Password = c.MySQL.Password
		cfg.Name = c.MySQL.Database
	}

	return cfg
}
