package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/specforge/specforge"
	"github.com/specforge/specforge/factory"
	"github.com/specforge/specforge/internal"
	"go.uber.org/zap"
)

// Server represents the HTTP server around the change service.
type Server struct {
	service specService
	guard   *internal.DocumentGuard
	mux     *http.ServeMux
}

// NewServer creates a new Server instance.
func NewServer(service specService, guard *internal.DocumentGuard) *Server {
	return &Server{
		service: service,
		guard:   guard,
		mux:     http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/projects/", s.projectHandler)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// Start starts the HTTP server on the given port.
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	cfg := specforge.DefaultConfig()
	cfg.Database = specforge.DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		Database:        getEnv("DB_NAME", "specforge"),
		Username:        getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		UseIAMAuth:      getEnvBool("DB_USE_IAM_AUTH", false),
		MaxConnections:  getEnvInt("DB_MAX_CONNECTIONS", 25),
		ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second,
		Timeout:         time.Duration(getEnvInt("DB_TIMEOUT_SECONDS", 30)) * time.Second,
		TableNames: specforge.TableNames{
			Specs:        getEnv("SPECS_TABLE", "specs"),
			SpecVersions: getEnv("SPEC_VERSIONS_TABLE", "spec_versions"),
			Features:     getEnv("FEATURES_TABLE", "features"),
			ProjectLocks: getEnv("PROJECT_LOCKS_TABLE", "project_locks"),
		},
	}
	cfg.Storage = specforge.StorageConfig{
		EnableSnapshots: getEnvBool("ENABLE_SNAPSHOTS", false),
		SnapshotBucket:  getEnv("SNAPSHOT_BUCKET", ""),
		SnapshotPrefix:  getEnv("SNAPSHOT_PREFIX", "specforge/versions"),
		Region:          getEnv("AWS_REGION", ""),
	}
	cfg.Engine = specforge.EngineConfig{
		MaxOperationsPerRequest: getEnvInt("MAX_OPERATIONS_PER_REQUEST", 100),
		LockTTL:                 time.Duration(getEnvInt("LOCK_TTL_SECONDS", 120)) * time.Second,
	}

	pool, err := createDatabasePoolFromConfig(cfg.Database)
	if err != nil {
		sugar.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()

	service, err := factory.NewChangeServiceWithConfig(cfg, pool)
	if err != nil {
		sugar.Fatalf("failed to build change service: %v", err)
	}

	guard, err := internal.NewDocumentGuard()
	if err != nil {
		sugar.Fatalf("failed to compile boundary schemas: %v", err)
	}

	server := NewServer(service, guard)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// createDatabasePoolFromConfig creates a PostgreSQL connection pool from
// config. When IAM auth is enabled the password is replaced with a generated
// DB connect token.
func createDatabasePoolFromConfig(dbConfig specforge.DatabaseConfig) (*pgxpool.Pool, error) {
	password := dbConfig.Password
	if dbConfig.UseIAMAuth {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := fmt.Sprintf("%s:%d", dbConfig.Host, dbConfig.Port)
		token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
		if err != nil {
			zap.S().Warnw("failed to generate IAM auth token; falling back to DB_PASSWORD", "err", err)
		} else if token != "" {
			password = token
			zap.S().Infow("generated IAM auth token for Postgres connection (dsql)")
		}
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dbConfig.Username,
		password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(dbConfig.MaxConnections)
	poolConfig.MaxConnLifetime = dbConfig.ConnMaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = dbConfig.Timeout

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
