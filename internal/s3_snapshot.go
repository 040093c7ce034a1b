package internal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/specforge/specforge"
	"go.uber.org/zap"
)

// s3Uploader is the slice of manager.Uploader the archiver needs.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3SnapshotArchiver ships persisted version documents to S3 under
// <prefix>/<project_id>/v<version>.json. Failures surface as SNAPSHOT_FAILED
// storage errors; the change service treats them as best-effort.
type S3SnapshotArchiver struct {
	uploader s3Uploader
	bucket   string
	prefix   string
}

// NewS3SnapshotArchiver builds an archiver from the ambient AWS config.
// Credentials from the environment are applied explicitly when present, and a
// custom endpoint (MinIO in the e2e harness) switches the client to path
// style.
func NewS3SnapshotArchiver(ctx context.Context, cfg specforge.StorageConfig) (*S3SnapshotArchiver, error) {
	if cfg.SnapshotBucket == "" {
		return nil, specforge.NewForgeError(specforge.ErrorTypeValidation,
			specforge.ErrCodeInvalidConfig, "snapshot bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if envKey := os.Getenv("AWS_ACCESS_KEY_ID"); envKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awsCreds.NewStaticCredentialsProvider(envKey, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")))
	}
	endpoint := os.Getenv("SPECFORGE_S3_ENDPOINT")
	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, specforge.NewForgeError(specforge.ErrorTypeStorage,
			specforge.ErrCodeConnectionError, "load aws config failed").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
		}
	})
	return &S3SnapshotArchiver{
		uploader: manager.NewUploader(client),
		bucket:   cfg.SnapshotBucket,
		prefix:   cfg.SnapshotPrefix,
	}, nil
}

// newS3SnapshotArchiverWithUploader wires a prebuilt uploader, for tests.
func newS3SnapshotArchiverWithUploader(uploader s3Uploader, bucket, prefix string) *S3SnapshotArchiver {
	return &S3SnapshotArchiver{uploader: uploader, bucket: bucket, prefix: prefix}
}

// ArchiveVersion uploads one version document.
func (a *S3SnapshotArchiver) ArchiveVersion(ctx context.Context, projectID string, version int, document []byte) error {
	key := path.Join(a.prefix, projectID, fmt.Sprintf("v%d.json", version))
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(document),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return specforge.NewForgeError(specforge.ErrorTypeStorage,
			specforge.ErrCodeSnapshotFailed, "archive version snapshot failed").
			WithProject(projectID).WithDetail("version", version).WithCause(err)
	}
	zap.S().Debugw("archived version snapshot",
		"project_id", projectID, "version", version, "bucket", a.bucket, "key", key)
	return nil
}
