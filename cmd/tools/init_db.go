package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type initDBOptions struct {
	host              string
	port              int
	database          string
	user              string
	password          string
	sslMode           string
	specsTable        string
	specVersionsTable string
	featuresTable     string
	projectLocksTable string
}

func runInitDB(args []string) error {
	flags := flag.NewFlagSet("init-db", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: specforge-tools init-db [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := initDBOptions{}
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

	return initDatabase(opts)
}

func initDatabase(opts initDBOptions) error {
	ctx := context.Background()

	connString := buildConnString(opts)
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		return ensureTables(ctx, tx, opts)
	}); err != nil {
		return err
	}

	fmt.Println("Database initialized successfully.")
	return nil
}

func buildConnString(opts initDBOptions) string {
	hostPort := fmt.Sprintf("%s:%d", opts.host, opts.port)

	var userInfo *url.Userinfo
	if opts.password != "" {
		userInfo = url.UserPassword(opts.user, opts.password)
	} else {
		userInfo = url.User(opts.user)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   hostPort,
		Path:   "/" + opts.database,
	}

	q := url.Values{}
	if opts.sslMode != "" {
		q.Set("sslmode", opts.sslMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func ensureTables(ctx context.Context, tx pgx.Tx, opts initDBOptions) error {
	specs := quoteIdentifier(opts.specsTable)
	specVersions := quoteIdentifier(opts.specVersionsTable)
	features := quoteIdentifier(opts.featuresTable)
	projectLocks := quoteIdentifier(opts.projectLocksTable)

	ddlSpecs := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		project_id  TEXT PRIMARY KEY,
		version     INTEGER NOT NULL,
		document    JSONB NOT NULL,
		updated_at  BIGINT NOT NULL
	)`, specs)

	if _, err := tx.Exec(ctx, ddlSpecs); err != nil {
		return fmt.Errorf("ensure specs table: %w", err)
	}
	fmt.Printf("Created specs table: %s\n", opts.specsTable)

	ddlVersions := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		project_id  TEXT NOT NULL,
		version     INTEGER NOT NULL,
		document    JSONB NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL,
		PRIMARY KEY (project_id, version)
	)`, specVersions)

	if _, err := tx.Exec(ctx, ddlVersions); err != nil {
		return fmt.Errorf("ensure spec versions table: %w", err)
	}
	fmt.Printf("Created spec versions table: %s\n", opts.specVersionsTable)

	ddlFeatures := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL,
		summary         TEXT NOT NULL DEFAULT '',
		change_request  JSONB,
		status          TEXT NOT NULL DEFAULT 'proposed',
		created_at      BIGINT NOT NULL DEFAULT 0
	)`, features)

	if _, err := tx.Exec(ctx, ddlFeatures); err != nil {
		return fmt.Errorf("ensure features table: %w", err)
	}
	fmt.Printf("Created features table: %s\n", opts.featuresTable)

	ddlLocks := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		project_id  TEXT PRIMARY KEY,
		holder_id   UUID NOT NULL,
		expires_at  BIGINT NOT NULL
	)`, projectLocks)

	if _, err := tx.Exec(ctx, ddlLocks); err != nil {
		return fmt.Errorf("ensure project locks table: %w", err)
	}
	fmt.Printf("Created project locks table: %s\n", opts.projectLocksTable)

	idxVersions := quoteIdentifier(makeIndexName(opts.specVersionsTable, "project_created"))
	createIdxVersions := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (project_id, created_at DESC)`, idxVersions, specVersions)
	if _, err := tx.Exec(ctx, createIdxVersions); err != nil {
		return fmt.Errorf("create version index: %w", err)
	}

	idxFeatures := quoteIdentifier(makeIndexName(opts.featuresTable, "project_status"))
	createIdxFeatures := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (project_id, status)`, idxFeatures, features)
	if _, err := tx.Exec(ctx, createIdxFeatures); err != nil {
		return fmt.Errorf("create feature index: %w", err)
	}

	return nil
}

func withTx(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func quoteIdentifier(name string) string {
	return pgx.Identifier(splitIdentifier(name)).Sanitize()
}

func splitIdentifier(name string) []string {
	parts := strings.Split(name, ".")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return []string{name}
	}
	return result
}

func makeIndexName(table string, suffix string) string {
	base := strings.ReplaceAll(table, ".", "_")
	base = strings.ReplaceAll(base, `"`, "")
	return fmt.Sprintf("%s_%s_idx", base, suffix)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
