// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/util"
	"go.uber.org/zap"
)

const (
	// Max retries for S3 operations
	maxS3Retries = 5
	// Initial retry delay
	initialRetryDelay = 1 * time.Second
	partSize          = 10 * 1024 * 1024
)

// uploadAPI is the subset of manager.Uploader used here.
type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader copies exports to S3 with automatic multipart for large files.
type Uploader struct {
	uploader   uploadAPI
	bucket     string
	prefix     string
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewUploader creates a new S3 uploader for the configured bucket.
func NewUploader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	awsCfg, err := util.LoadAWSConfig(ctx, util.AWSOptions{
		Region:          cfg.AWSRegion,
		Endpoint:        cfg.AWSEndpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		SessionToken:    cfg.AWSSessionToken,
	})
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpoint != "" {
			o.UsePathStyle = true // Required for LocalStack
			logger.Info("Using custom S3 endpoint", zap.String("endpoint", cfg.AWSEndpoint))
		}
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 3
	})

	return newUploader(up, cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

func newUploader(api uploadAPI, bucket, prefix string, logger *zap.Logger) *Uploader {
	return &Uploader{
		uploader:   api,
		bucket:     bucket,
		prefix:     prefix,
		retryDelay: initialRetryDelay,
		logger:     logger,
	}
}

// Key returns the object key for a local file.
func (u *Uploader) Key(localPath string) string {
	return path.Join(strings.Trim(u.prefix, "/"), filepath.Base(localPath))
}

// UploadFile uploads a file to S3.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	u.logger.Info("Uploading file to S3",
		zap.String("file", localPath),
		zap.String("bucket", u.bucket),
		zap.String("s3_key", key),
		zap.Int64("size", fileInfo.Size()))

	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	u.logger.Info("File uploaded successfully",
		zap.String("s3_key", key),
		zap.String("location", out.Location))

	return nil
}

// UploadFileWithRetry uploads a file with exponential backoff between attempts.
func (u *Uploader) UploadFileWithRetry(ctx context.Context, localPath, key string) error {
	var lastErr error
	delay := u.retryDelay

	for attempt := 1; attempt <= maxS3Retries; attempt++ {
		err := u.UploadFile(ctx, localPath, key)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < maxS3Retries {
			u.logger.Warn("Upload failed, retrying",
				zap.String("file", localPath),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxS3Retries),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxS3Retries, lastErr)
}
