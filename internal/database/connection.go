package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lereldarion/xstalker/internal/models"
)

const (
	defaultDBName = "xstalker.db"
	defaultDBDir  = ".config/xstalker"
)

type DB struct {
	*gorm.DB
}

func GetDefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dbDir := filepath.Join(homeDir, defaultDBDir)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}

	return filepath.Join(dbDir, defaultDBName), nil
}

func Connect(dbPath string) (*DB, error) {
	if dbPath == "" {
		var err error
		dbPath, err = GetDefaultDBPath()
		if err != nil {
			return nil, err
		}
	} else if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Initialize() error {
	err := db.AutoMigrate(
		&models.Interval{},
		&models.Bucket{},
		&models.Checkpoint{},
		&models.QuarantinedInterval{},
		&models.RejectedEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// ConnectWithRecovery opens and migrates the database. An unreadable
// file is moved aside to <path>.quarantined-<timestamp> and a fresh
// database is created in its place, so a corrupt store never prevents
// the daemon from starting. Returns the quarantine path when that
// happened, empty otherwise.
func ConnectWithRecovery(dbPath string, log zerolog.Logger) (*DB, string, error) {
	db, err := Connect(dbPath)
	if err == nil {
		merr := db.Initialize()
		if merr == nil {
			return db, "", nil
		}
		err = merr
		_ = db.Close()
	}

	if dbPath == "" {
		// Recovery needs a concrete file to rename.
		return nil, "", err
	}

	quarantined := fmt.Sprintf("%s.quarantined-%s", dbPath, time.Now().UTC().Format("20060102T150405Z"))
	if renameErr := os.Rename(dbPath, quarantined); renameErr != nil {
		return nil, "", fmt.Errorf("database unusable (%v) and quarantine failed: %w", err, renameErr)
	}
	log.Warn().
		Err(err).
		Str("quarantined", quarantined).
		Msg("database unreadable, moved aside and starting fresh")

	db, err = Connect(dbPath)
	if err != nil {
		return nil, quarantined, err
	}
	if err := db.Initialize(); err != nil {
		_ = db.Close()
		return nil, quarantined, err
	}
	return db, quarantined, nil
}
