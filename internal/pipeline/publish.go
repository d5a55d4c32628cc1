// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"github.com/netSkope/sharepoint-extractor/internal/extractor"
	"github.com/netSkope/sharepoint-extractor/internal/s3"
	"github.com/netSkope/sharepoint-extractor/internal/store"
	"go.uber.org/zap"
)

// Publisher copies a finished export to another destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, res *extractor.Result) (string, error)
}

// Publication is the outcome of one Publisher.
type Publication struct {
	Name   string
	Target string
	Err    error
}

// s3Publisher uploads the CSV file to the configured bucket.
type s3Publisher struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (p *s3Publisher) Name() string { return "s3" }

func (p *s3Publisher) Publish(ctx context.Context, res *extractor.Result) (string, error) {
	up, err := s3.NewUploader(ctx, p.cfg, p.logger)
	if err != nil {
		return "", fmt.Errorf("failed to create S3 uploader: %w", err)
	}
	key := up.Key(res.File.FilePath)
	if err := up.UploadFileWithRetry(ctx, res.File.FilePath, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", p.cfg.S3Bucket, key), nil
}

// mysqlPublisher mirrors the rows into a MySQL table.
type mysqlPublisher struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (p *mysqlPublisher) Name() string { return "mysql" }

func (p *mysqlPublisher) Publish(ctx context.Context, res *extractor.Result) (string, error) {
	sc, err := store.NewSQLClient(ctx, p.cfg, 0)
	if err != nil {
		return "", fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	defer sc.Close()

	table := p.cfg.MySQLTable
	if table == "" {
		table = p.cfg.ListName
	}
	n, err := sc.MirrorRows(ctx, table, res.Fields, res.Rows, p.logger)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s (%d new rows)", p.cfg.MySQLDatabase, table, n), nil
}

// configuredPublishers returns the destinations enabled in cfg.
func configuredPublishers(cfg *config.Config, logger *zap.Logger) []Publisher {
	var pubs []Publisher
	if cfg.S3Bucket != "" {
		pubs = append(pubs, &s3Publisher{cfg: cfg, logger: logger})
	}
	if cfg.MySQLHost != "" {
		pubs = append(pubs, &mysqlPublisher{cfg: cfg, logger: logger})
	}
	return pubs
}

// publishAll runs every publisher in parallel. The local export is already
// written; any failure is reported as an I/O error for the run.
func publishAll(ctx context.Context, pubs []Publisher, res *extractor.Result, logger *zap.Logger) ([]Publication, error) {
	out := make([]Publication, len(pubs))
	var wg sync.WaitGroup

	for i, p := range pubs {
		wg.Add(1)
		go func(i int, p Publisher) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Publisher panicked", zap.String("destination", p.Name()), zap.Any("panic", rec))
					out[i] = Publication{Name: p.Name(), Err: errs.New(errs.ErrUnexpected, "%s: %v", p.Name(), rec)}
				}
			}()

			target, err := p.Publish(ctx, res)
			out[i] = Publication{Name: p.Name(), Target: target, Err: err}
			if err != nil {
				logger.Error("Failed to publish export",
					zap.String("destination", p.Name()),
					zap.Error(err))
				return
			}
			logger.Info("Export published",
				zap.String("destination", p.Name()),
				zap.String("target", target))
		}(i, p)
	}
	wg.Wait()

	for _, pub := range out {
		if errors.Is(pub.Err, errs.ErrUnexpected) {
			return out, pub.Err
		}
		if pub.Err != nil {
			return out, errs.Wrap(errs.ErrIO, "publish to "+pub.Name, pub.Err)
		}
	}
	return out, nil
}
