package db

import (
	"fmt"
	"net"
	"strconv"

	gosql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/chatline/internal/config"
)

// MySQLDSN builds a MySQL DSN with parseTime enabled.
func MySQLDSN(user, host string, port int, database string) string {
	c := gosql.NewConfig()
	c.User = user
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = database
	c.ParseTime = true
	return c.FormatDSN()
}

// mysqlDialector parses dsn and forces parseTime so DATETIME columns scan
// into time.Time.
func mysqlDialector(dsn string) (gorm.Dialector, error) {
	c, err := gosql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("db: parse mysql dsn: %w", err)
	}
	c.ParseTime = true
	return mysql.New(mysql.Config{DSN: c.FormatDSN(), DSNConfig: c}), nil
}

// dialector picks the gorm driver for a configured database.
func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "mysql":
		return mysqlDialector(cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Open opens a GORM connection for the configured driver and migrates the
// schema.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db: dsn is required")
	}
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// Each sqlite connection to :memory: is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
