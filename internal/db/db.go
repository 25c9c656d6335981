package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// Open connects to the database named by dsn. "sqlite://path" selects the
// embedded SQLite driver; anything else is treated as a MySQL DSN.
func Open(dsn string, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var (
		gdb *gorm.DB
		err error
	)
	isSQLite := strings.HasPrefix(dsn, sqlitePrefix)
	if isSQLite {
		path := strings.TrimPrefix(dsn, sqlitePrefix)
		gdb, err = gorm.Open(gormsqlite.Open(sqliteDSN(path)), cfg)
	} else {
		gdb, err = gorm.Open(mysql.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if isSQLite {
		// single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	logger.Info("database connected", "driver", gdb.Dialector.Name())
	return gdb, nil
}

// Migrate creates or updates the tables for models.
func Migrate(gdb *gorm.DB, models ...any) error {
	if err := gdb.AutoMigrate(models...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_pragma=busy_timeout(5000)"
	}
	return path + "?_pragma=busy_timeout(5000)"
}
