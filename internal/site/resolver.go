// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package site

import (
	"context"
	"strings"

	"github.com/netSkope/sharepoint-extractor/internal/auth"
	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"github.com/netSkope/sharepoint-extractor/internal/graph"
	"go.uber.org/zap"
)

// Searcher finds sites under a SharePoint hostname.
type Searcher interface {
	SearchSites(ctx context.Context, token, hostname, query string) ([]graph.Site, error)
}

// Resolver maps the configured site display name to a Graph site id.
type Resolver struct {
	cfg    *config.Config
	tokens auth.TokenAcquirer
	sites  Searcher
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg *config.Config, tokens auth.TokenAcquirer, sites Searcher, logger *zap.Logger) *Resolver {
	return &Resolver{cfg: cfg, tokens: tokens, sites: sites, logger: logger}
}

// ResolveSiteID returns the id of the first site matching the configured
// site name. No request is made unless every site key is set.
func (r *Resolver) ResolveSiteID(ctx context.Context) (string, error) {
	if missing := r.cfg.Missing(config.SiteKeys...); len(missing) > 0 {
		r.logger.Error("Missing configuration for site lookup", zap.Strings("keys", missing))
		return "", errs.New(errs.ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}

	token, err := r.tokens.AcquireToken(ctx, r.cfg)
	if err != nil {
		return "", err
	}

	sites, err := r.sites.SearchSites(ctx, token, r.cfg.Hostname, r.cfg.SiteName)
	if err != nil {
		r.logger.Error("Site search failed", zap.Error(err))
		return "", errs.Wrap(errs.ErrRemoteLookup, "site search failed", err)
	}
	if len(sites) == 0 {
		r.logger.Error("No site found", zap.String("site_name", r.cfg.SiteName))
		return "", errs.New(errs.ErrRemoteLookup, "no site found for %q on %s", r.cfg.SiteName, r.cfg.Hostname)
	}

	first := sites[0]
	if len(sites) > 1 {
		r.logger.Info("Multiple sites matched, using the first",
			zap.Int("matches", len(sites)),
			zap.String("display_name", first.DisplayName))
	}
	r.logger.Info("Resolved site", zap.String("site_id", first.ID), zap.String("web_url", first.WebURL))
	return first.ID, nil
}
