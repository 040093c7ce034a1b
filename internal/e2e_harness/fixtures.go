package e2e_harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// specforgeDDL creates the tables the PostgreSQL store and lock manager
// expect. Timestamps are unix millis stored as BIGINT; documents are JSONB.
var specforgeDDL = []string{
	`CREATE TABLE IF NOT EXISTS specs (
		project_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		document JSONB NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS spec_versions (
		project_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		document JSONB NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		PRIMARY KEY (project_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS features (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		change_request JSONB,
		status TEXT NOT NULL DEFAULT 'proposed',
		created_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS project_locks (
		project_id TEXT PRIMARY KEY,
		holder_id UUID NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
}

// SeedSpecforgeTables creates the specforge schema in the test database.
func SeedSpecforgeTables(ctx context.Context, db *sql.DB) error {
	for _, ddl := range specforgeDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// InsertFeature seeds one feature row in proposed state.
func InsertFeature(ctx context.Context, db *sql.DB, id, projectID, summary string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO features (id, project_id, summary, status, created_at) VALUES ($1, $2, $3, 'proposed', 0)`,
		id, projectID, summary)
	if err != nil {
		return fmt.Errorf("insert feature: %w", err)
	}
	return nil
}

// EnsureBucket creates the bucket on the endpoint if it does not exist yet.
func EnsureBucket(ctx context.Context, endpoint, accessKey, secretKey, bucket string) error {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"), // region required by SDK; custom endpoint takes over
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithBaseEndpoint(endpoint),
	)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				return nil
			}
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}
