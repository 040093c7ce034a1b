package factory

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/specforge/specforge"
	"github.com/specforge/specforge/internal"
)

// queryPool is the minimal pool surface the factory needs, so tests can
// substitute pgxmock.
type queryPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// tableCollector is swappable in tests.
var tableCollector = collectTablesFromPool

// archiverFactory is swappable in tests.
var archiverFactory = func(ctx context.Context, cfg specforge.StorageConfig) (specforge.SnapshotArchiver, error) {
	return internal.NewS3SnapshotArchiver(ctx, cfg)
}

func collectTablesFromPool(pool queryPool) ([]string, error) {
	rows, err := pool.Query(context.Background(), `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE';`)
	if err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tables, nil
}

// NewChangeServiceWithConfig creates a ChangeService backed by PostgreSQL.
// This is the primary way for external projects to wire the engine up.
//
// Usage:
//
//	import (
//	    "github.com/specforge/specforge"
//	    "github.com/specforge/specforge/factory"
//	)
//
//	config := specforge.DefaultConfig()
//	svc, err := factory.NewChangeServiceWithConfig(config, pool)
//	if err != nil {
//	    // handle error
//	}
func NewChangeServiceWithConfig(config *specforge.Config, pool *pgxpool.Pool) (*internal.ChangeService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	tables, err := tableCollector(pool)
	if err != nil {
		return nil, err
	}
	names := config.Database.TableNames
	required := []string{names.Specs, names.SpecVersions, names.Features, names.ProjectLocks}
	for _, name := range required {
		if !slices.Contains(tables, name) {
			return nil, fmt.Errorf("required tables are missing in the database: %s", name)
		}
	}

	store := internal.NewPostgresSpecStore(pool, names)
	locks := internal.NewPostgresLockManager(pool, names.ProjectLocks)

	var archiver specforge.SnapshotArchiver
	if config.Storage.EnableSnapshots {
		archiver, err = archiverFactory(context.Background(), config.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to build snapshot archiver: %w", err)
		}
	}

	return internal.NewChangeService(store, locks, archiver, config.Engine), nil
}

// NewFileChangeService creates a ChangeService backed by JSON files, for
// local development without a database. Locks are in-process only.
func NewFileChangeService(dir string, config *specforge.Config) (*internal.ChangeService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	store, err := internal.NewFileSpecStore(dir)
	if err != nil {
		return nil, err
	}
	return internal.NewChangeService(store, internal.NewMemoryLockManager(), nil, config.Engine), nil
}
