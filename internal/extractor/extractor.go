// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package extractor

import (
	"context"
	"strings"

	"github.com/netSkope/sharepoint-extractor/internal/auth"
	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"github.com/netSkope/sharepoint-extractor/internal/exporter"
	"github.com/netSkope/sharepoint-extractor/internal/graph"
	"go.uber.org/zap"
)

// ListAPI reads a SharePoint list and its items.
type ListAPI interface {
	GetList(ctx context.Context, token, siteID, listName string) (*graph.List, error)
	ListItems(ctx context.Context, token, siteID, listID string) ([]graph.Item, error)
}

// Result summarizes a completed extraction.
type Result struct {
	ListID string
	Fields []string
	Items  int
	Rows   []Row
	File   *exporter.CSVFile
}

// Extractor materializes a list into a CSV file.
type Extractor struct {
	cfg    *config.Config
	tokens auth.TokenAcquirer
	lists  ListAPI
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg *config.Config, tokens auth.TokenAcquirer, lists ListAPI, logger *zap.Logger) *Extractor {
	return &Extractor{cfg: cfg, tokens: tokens, lists: lists, logger: logger}
}

// Extract fetches the configured list of siteID, builds the output rows and
// writes them to the configured output file.
func (e *Extractor) Extract(ctx context.Context, siteID string) (*Result, error) {
	fields := e.cfg.Fields()
	if strings.TrimSpace(e.cfg.ListName) == "" || len(fields) == 0 {
		e.logger.Error("List name or fields missing")
		return nil, errs.New(errs.ErrConfiguration, "list name or fields missing")
	}
	if siteID == "" {
		return nil, errs.New(errs.ErrConfiguration, "site id is empty")
	}

	delimiter, err := exporter.ParseDelimiter(e.cfg.CSVDelimiter)
	if err != nil {
		return nil, errs.Wrap(errs.ErrConfiguration, "csv delimiter", err)
	}

	output := e.cfg.OutputFile
	if output == "" {
		output = config.DefaultOutputFile
	}

	e.logger.Info("Starting data extraction",
		zap.String("list", e.cfg.ListName),
		zap.Strings("fields", fields))

	token, err := e.tokens.AcquireToken(ctx, e.cfg)
	if err != nil {
		return nil, err
	}

	list, err := e.lists.GetList(ctx, token, siteID, e.cfg.ListName)
	if err != nil {
		e.logger.Error("Failed to get list ID", zap.Error(err))
		return nil, errs.Wrap(errs.ErrRemoteLookup, "could not resolve list "+e.cfg.ListName, err)
	}
	if list.ID == "" {
		return nil, errs.New(errs.ErrRemoteLookup, "could not resolve list %s", e.cfg.ListName)
	}

	items, err := e.lists.ListItems(ctx, token, siteID, list.ID)
	if err != nil {
		e.logger.Error("Failed to get list items", zap.Error(err))
		return nil, errs.Wrap(errs.ErrRemoteLookup, "failed to get list items", err)
	}
	if len(items) == 0 {
		e.logger.Error("No list items found", zap.String("list_id", list.ID))
		return nil, errs.New(errs.ErrRemoteLookup, "no list items found")
	}

	rows := BuildRows(items, fields)

	file, err := exporter.WriteCSV(output, fields, rows, delimiter)
	if err != nil {
		e.logger.Error("Failed to write output", zap.String("file", output), zap.Error(err))
		return nil, errs.Wrap(errs.ErrIO, "write "+output, err)
	}

	e.logger.Info("Output written",
		zap.String("file", file.FilePath),
		zap.Int("items", len(items)),
		zap.Int("rows", file.RowCount))

	return &Result{
		ListID: list.ID,
		Fields: fields,
		Items:  len(items),
		Rows:   rows,
		File:   file,
	}, nil
}
