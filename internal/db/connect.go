// Package db opens the GORM connection backing the conversation store and
// manages its schema.
package db

import (
	"fmt"

	"github.com/zulandar/switchyard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL-compatible DSN for connecting to a Dolt or MySQL database.
func DSN(c config.DatabaseConfig) string {
	cred := c.User
	if c.Password != "" {
		cred += ":" + c.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", cred, c.Host, c.Port, c.Database)
}

// Open opens a GORM connection for the configured driver.
func Open(c config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case "mysql":
		dialector = mysql.Open(DSN(c))
	case "sqlite":
		dialector = sqlite.Open(c.Path)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", c.Driver, err)
	}
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database. Used by tests and by
// `sy chat --ephemeral`.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open memory: %w", err)
	}
	// A second pooled connection would see a different, empty database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// ConnectAdmin opens a GORM connection to the MySQL server without selecting
// a specific database, used for CREATE DATABASE operations.
func ConnectAdmin(c config.DatabaseConfig) (*gorm.DB, error) {
	admin := c
	admin.Database = ""
	db, err := gorm.Open(mysql.Open(DSN(admin)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", c.Host, c.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}
