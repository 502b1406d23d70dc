package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPull/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds the relational store settings.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"60s"`
	RetryInterval   time.Duration `yaml:"retry_interval" default:"3s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	LogLevel        string        `yaml:"log_level" default:"warn"`
	AutoMigrate     bool          `yaml:"auto_migrate" default:"true"`
}

// Open connects to Postgres, retrying until ConnectTimeout elapses.
func Open(cfg Config, lgr *logger.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database: dsn is required")
	}
	return OpenDialector(postgres.Open(cfg.DSN), cfg, lgr)
}

// OpenDialector opens any gorm dialector with the pool and logging settings
// of cfg.
func OpenDialector(d gorm.Dialector, cfg Config, lgr *logger.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger: NewGormLogger(lgr, cfg.SlowThreshold, ParseLevel(cfg.LogLevel)),
	}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	var (
		db  *gorm.DB
		err error
	)
	for {
		db, err = gorm.Open(d, gcfg)
		if err == nil {
			err = ping(db)
		}
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("database connect: %w", err)
		}
		lgr.Warn("database connect failed, retrying", logger.Error(err))
		time.Sleep(cfg.RetryInterval)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ParseLevel(s string) gormlogger.LogLevel {
	switch s {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
