package db

import (
	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/conduit-ci/conduit/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var conn *gorm.DB

// Connection returns the shared gorm database handle,
// opening it on first use based on the environment.
func Connection() *gorm.DB {
	if conn != nil {
		return conn
	}

	var err error

	switch env.Variables().DatabaseType {
	case "postgres":
		conn, err = gorm.Open(
			postgres.Open(env.Variables().DatabaseDSN),
			&gorm.Config{},
		)
	case "sqlite":
		fallthrough
	default:
		conn, err = gorm.Open(
			sqlite.Open(env.Variables().DatabaseDSN),
			&gorm.Config{},
		)
	}

	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}

	return conn
}

// Migrate creates or updates the schema for every model
// conduit persists.
func Migrate() error {
	return Connection().AutoMigrate(models.All...)
}
