package specforge

import (
	"fmt"
	"time"
)

// Config consolidates the settings of the specforge service layers. The pure
// engine (Apply/Validate/ComputePreview) needs none of this; config feeds
// the stores, the locker and the snapshot archiver.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	UseIAMAuth      bool          `json:"useIAMAuth"`
	MaxConnections  int           `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	Timeout         time.Duration `json:"timeout"`
	TableNames      TableNames    `json:"tableNames"`
}

// TableNames lets deployments namespace the specforge tables.
type TableNames struct {
	Specs        string `json:"specs"`
	SpecVersions string `json:"specVersions"`
	Features     string `json:"features"`
	ProjectLocks string `json:"projectLocks"`
}

// StorageConfig contains version snapshot archive settings.
type StorageConfig struct {
	EnableSnapshots bool   `json:"enableSnapshots"`
	SnapshotBucket  string `json:"snapshotBucket"`
	SnapshotPrefix  string `json:"snapshotPrefix"`
	Region          string `json:"region"`
}

// EngineConfig contains change application settings.
type EngineConfig struct {
	MaxOperationsPerRequest int           `json:"maxOperationsPerRequest"`
	LockTTL                 time.Duration `json:"lockTTL"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string `json:"level"`
	Format           string `json:"format"`
	EnableStructured bool   `json:"enableStructured"`
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "specforge",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxConnections:  25,
			ConnMaxLifetime: time.Hour,
			Timeout:         30 * time.Second,
			TableNames: TableNames{
				Specs:        "specs",
				SpecVersions: "spec_versions",
				Features:     "features",
				ProjectLocks: "project_locks",
			},
		},
		Storage: StorageConfig{
			SnapshotPrefix: "specforge/versions",
		},
		Engine: EngineConfig{
			MaxOperationsPerRequest: 100,
			LockTTL:                 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "json",
			EnableStructured: true,
		},
	}
}

// Validate checks configuration consistency before wiring.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	t := c.Database.TableNames
	if t.Specs == "" || t.SpecVersions == "" || t.Features == "" || t.ProjectLocks == "" {
		return NewForgeError(ErrorTypeValidation, ErrCodeInvalidConfig, "all table names must be set")
	}
	if c.Engine.LockTTL <= 0 {
		return NewForgeError(ErrorTypeValidation, ErrCodeInvalidConfig, "lock TTL must be positive")
	}
	if c.Storage.EnableSnapshots && c.Storage.SnapshotBucket == "" {
		return NewForgeError(ErrorTypeValidation, ErrCodeInvalidConfig, "snapshot bucket required when snapshots are enabled")
	}
	return nil
}
