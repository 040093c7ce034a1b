package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/specforge/specforge"
	"github.com/specforge/specforge/internal"
)

type importSpecOptions struct {
	initDBOptions
	file      string
	projectID string
}

func runImportSpec(args []string) error {
	flags := flag.NewFlagSet("import-spec", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: specforge-tools import-spec -file <spec.json> -project-id <id> [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := importSpecOptions{}
	flags.StringVar(&opts.file, "file", "", "path to the extracted spec JSON file")
	flags.StringVar(&opts.projectID, "project-id", "", "project id to import the spec under (defaults to the document's project_id)")
	flags.StringVar(&opts.host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.database, "db-name", getenvDefault("DB_NAME", "specforge"), "database name")
	flags.StringVar(&opts.user, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.sslMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.StringVar(&opts.specsTable, "specs-table", getenvDefault("SPECS_TABLE", "specs"), "specs table name")
	flags.StringVar(&opts.specVersionsTable, "spec-versions-table", getenvDefault("SPEC_VERSIONS_TABLE", "spec_versions"), "spec versions table name")
	flags.StringVar(&opts.featuresTable, "features-table", getenvDefault("FEATURES_TABLE", "features"), "features table name")
	flags.StringVar(&opts.projectLocksTable, "project-locks-table", getenvDefault("PROJECT_LOCKS_TABLE", "project_locks"), "project locks table name")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.file == "" {
		flags.Usage()
		return errors.New("-file is required")
	}

	return importSpec(opts)
}

func importSpec(opts importSpecOptions) error {
	ctx := context.Background()

	raw, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("read spec file: %w", err)
	}

	guard, err := internal.NewDocumentGuard()
	if err != nil {
		return fmt.Errorf("build document guard: %w", err)
	}
	if err := guard.CheckSpec(raw); err != nil {
		return fmt.Errorf("spec document rejected: %w", err)
	}

	var spec specforge.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("decode spec document: %w", err)
	}
	if opts.projectID != "" {
		spec.ProjectID = opts.projectID
	}

	pool, err := pgxpool.New(ctx, buildConnString(opts.initDBOptions))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	store := internal.NewPostgresSpecStore(pool, specforge.TableNames{
		Specs:        opts.specsTable,
		SpecVersions: opts.specVersionsTable,
		Features:     opts.featuresTable,
		ProjectLocks: opts.projectLocksTable,
	})

	if err := store.CreateSpec(ctx, &spec); err != nil {
		return err
	}

	fmt.Printf("Imported spec for project %s as version 1.\n", spec.ProjectID)
	return nil
}
