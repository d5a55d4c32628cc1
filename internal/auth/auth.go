// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenPath is appended to the tenant authority to reach the v2 token endpoint.
const tokenPath = "/oauth2/v2.0/token"

// TokenAcquirer exchanges configured client credentials for a bearer token.
type TokenAcquirer interface {
	AcquireToken(ctx context.Context, cfg *config.Config) (string, error)
}

// Authenticator performs the OAuth2 client-credentials grant. Every call
// requests a fresh token; nothing is cached.
type Authenticator struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAuthenticator creates an Authenticator. A nil httpClient uses
// http.DefaultClient.
func NewAuthenticator(httpClient *http.Client, logger *zap.Logger) *Authenticator {
	return &Authenticator{httpClient: httpClient, logger: logger}
}

// TokenURL returns the token endpoint for the configured tenant.
func TokenURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.Authority(), "/") + tokenPath
}

// AcquireToken implements TokenAcquirer.
func (a *Authenticator) AcquireToken(ctx context.Context, cfg *config.Config) (string, error) {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     TokenURL(cfg),
		Scopes:       []string{cfg.GraphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	a.logger.Debug("Requesting access token",
		zap.String("authority", cfg.Authority()),
		zap.String("client_id", cfg.ClientID))

	tok, err := cc.Token(ctx)
	if err != nil {
		a.logger.Error("Failed to get access token", zap.Error(err))
		return "", errs.Wrap(errs.ErrAuthentication, "token exchange failed", err)
	}
	if tok.AccessToken == "" {
		a.logger.Error("Token response has no access token")
		return "", errs.New(errs.ErrAuthentication, "token response has no access token")
	}

	a.logger.Info("Access token acquired", zap.Time("expiry", tok.Expiry))
	return tok.AccessToken, nil
}
