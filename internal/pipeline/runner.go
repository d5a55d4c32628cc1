// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/netSkope/sharepoint-extractor/internal/auth"
	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/credpath"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"github.com/netSkope/sharepoint-extractor/internal/extractor"
	"github.com/netSkope/sharepoint-extractor/internal/graph"
	xlog "github.com/netSkope/sharepoint-extractor/internal/log"
	"github.com/netSkope/sharepoint-extractor/internal/secrets"
	"github.com/netSkope/sharepoint-extractor/internal/site"
	"github.com/netSkope/sharepoint-extractor/internal/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// eventBuffer is the capacity of the channel returned by Start.
const eventBuffer = 64

// Summary describes a finished run.
type Summary struct {
	CredentialsFile string
	Secrets         *secrets.Result
	SiteID          string
	Extract         *extractor.Result
	Publications    []Publication
	Elapsed         time.Duration
}

// SecretResolver fetches the client secret from a secret store.
type SecretResolver func(ctx context.Context, cfg *config.Config) (string, error)

// Runner drives one extraction: load secrets, resolve the site, extract the
// list. A Runner is used for a single run.
type Runner struct {
	cfg           *config.Config
	logger        *zap.Logger
	prompter      credpath.Prompter
	locate        func() string
	httpClient    *http.Client
	publishers    []Publisher
	hasPublishers bool
	resolveSecret SecretResolver
}

// Option configures a Runner.
type Option func(*Runner)

// WithPrompter sets the prompter used when the credentials file is missing.
// Without one a missing file aborts the run.
func WithPrompter(p credpath.Prompter) Option {
	return func(r *Runner) { r.prompter = p }
}

// WithHTTPClient sets the client used for identity and Graph requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.httpClient = c }
}

// WithPublishers replaces the destinations derived from the configuration.
func WithPublishers(p ...Publisher) Option {
	return func(r *Runner) {
		r.publishers = p
		r.hasPublishers = true
	}
}

// WithSecretResolver replaces the Secrets Manager lookup.
func WithSecretResolver(f SecretResolver) Option {
	return func(r *Runner) { r.resolveSecret = f }
}

// WithLocator replaces the secure credentials location.
func WithLocator(f func() string) Option {
	return func(r *Runner) { r.locate = f }
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:           cfg,
		logger:        logger,
		locate:        credpath.Path,
		resolveSecret: secretsManagerResolver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func secretsManagerResolver(ctx context.Context, cfg *config.Config) (string, error) {
	return util.ResolveClientSecret(ctx, cfg.ClientSecretID, util.AWSOptions{
		Region:          cfg.SecretRegion,
		Endpoint:        cfg.AWSEndpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		SessionToken:    cfg.AWSSessionToken,
	})
}

// Run executes the pipeline on the calling goroutine.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	return r.run(ctx, r.logger, func(Event) {})
}

// Start executes the pipeline on a background goroutine. Stage transitions
// and log lines at info level and above are posted to the returned channel,
// followed by one EventFinished; the channel is then closed. The caller must
// drain the channel.
func (r *Runner) Start(ctx context.Context) <-chan Event {
	events := make(chan Event, eventBuffer)
	emit := func(ev Event) { events <- ev }

	logger := xlog.Tee(r.logger, xlog.NewSinkCore(zapcore.InfoLevel, func(l xlog.Line) {
		emit(Event{Type: EventLog, Line: l})
	}))

	go func() {
		defer close(events)
		summary, err := r.run(ctx, logger, emit)
		emit(Event{Type: EventFinished, Summary: summary, Err: err})
	}()

	return events
}

func (r *Runner) run(ctx context.Context, logger *zap.Logger, emit func(Event)) (summary *Summary, err error) {
	started := time.Now()
	summary = &Summary{}
	stage := StageStart

	enter := func(s Stage) {
		stage = s
		logger.Debug("Entering stage", zap.Stringer("stage", s))
		emit(Event{Type: EventStage, Stage: s})
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Unexpected failure",
				zap.Stringer("stage", stage),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = newStageError(stage, errs.New(errs.ErrUnexpected, "%v", rec))
		}

		if !r.cfg.KeepEnv {
			secrets.Remove(r.cfg.EnvFile, logger)
		}

		summary.Elapsed = time.Since(started)
		if err != nil {
			var se *StageError
			if errors.As(err, &se) {
				logger.Error("Run aborted",
					zap.Stringer("stage", se.Stage),
					zap.String("kind", se.Kind.Error()),
					zap.Error(se.Err))
			}
			enter(StageAborted)
			return
		}
		enter(StageDone)
		logger.Info("Run complete", zap.Duration("elapsed", summary.Elapsed))
	}()

	enter(StageStart)
	logger.Info("Starting SharePoint extraction")

	enter(StageLoadSecrets)
	if err := r.loadSecrets(ctx, logger, summary); err != nil {
		return summary, newStageError(stage, err)
	}

	tokens := auth.NewAuthenticator(r.httpClient, logger)
	client := graph.NewClient(r.cfg.GraphRoot, r.cfg.Timeout(), r.httpClient, logger)

	enter(StageResolveSite)
	siteID, err := site.NewResolver(r.cfg, tokens, client, logger).ResolveSiteID(ctx)
	if err != nil {
		return summary, newStageError(stage, err)
	}
	summary.SiteID = siteID

	enter(StageExtractData)
	res, err := extractor.NewExtractor(r.cfg, tokens, client, logger).Extract(ctx, siteID)
	if err != nil {
		return summary, newStageError(stage, err)
	}
	summary.Extract = res

	pubs := r.publishers
	if !r.hasPublishers {
		pubs = configuredPublishers(r.cfg, logger)
	}
	if len(pubs) > 0 {
		summary.Publications, err = publishAll(ctx, pubs, res, logger)
		if err != nil {
			return summary, newStageError(stage, err)
		}
	}

	return summary, nil
}

// loadSecrets locates the credentials file, writes the env file and merges
// it into the configuration.
func (r *Runner) loadSecrets(ctx context.Context, logger *zap.Logger, summary *Summary) error {
	path, err := r.credentialsFile(logger)
	if err != nil {
		return err
	}
	summary.CredentialsFile = path

	res, err := secrets.Load(path, r.cfg.EnvFile, logger)
	if err != nil {
		return err
	}
	summary.Secrets = res

	if err := r.cfg.ApplyEnvFile(res.EnvFile); err != nil {
		return errs.Wrap(errs.ErrConfiguration, "apply env file", err)
	}

	fromStore := r.cfg.ClientSecret == "" && r.cfg.ClientSecretID != ""
	if err := checkRequired(r.cfg, fromStore, logger); err != nil {
		return err
	}

	if fromStore {
		logger.Info("Fetching client secret from Secrets Manager",
			zap.String("secret_id", r.cfg.ClientSecretID))
		secret, err := r.resolveSecret(ctx, r.cfg)
		if err != nil {
			return errs.Wrap(errs.ErrAuthentication, "client secret lookup", err)
		}
		r.cfg.ClientSecret = secret
	}

	if err := r.cfg.Validate(); err != nil {
		return errs.Wrap(errs.ErrConfiguration, "invalid configuration", err)
	}
	return nil
}

// checkRequired fails when a required key is empty. The client secret is
// skipped when it will be fetched from the secret store.
func checkRequired(cfg *config.Config, skipSecret bool, logger *zap.Logger) error {
	keys := make([]string, 0, len(config.RequiredKeys))
	for _, k := range config.RequiredKeys {
		if skipSecret && k == config.KeyClientSecret {
			continue
		}
		keys = append(keys, k)
	}

	if missing := cfg.Missing(keys...); len(missing) > 0 {
		logger.Error("Missing required configuration", zap.Strings("keys", missing))
		return errs.New(errs.ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}
	if len(cfg.Fields()) == 0 {
		return errs.New(errs.ErrConfiguration, "%s names no fields", config.KeyListFields)
	}
	return nil
}

// credentialsFile returns the explicit credentials file, the secure location
// when it exists, or a path picked through the prompter.
func (r *Runner) credentialsFile(logger *zap.Logger) (string, error) {
	if r.cfg.CredentialsFile != "" {
		return r.cfg.CredentialsFile, nil
	}

	path := r.locate()
	if credpath.Exists(path) {
		logger.Info("Using credentials from secure location", zap.String("path", path))
		return path, nil
	}

	logger.Warn("Credentials file not found at secure location", zap.String("path", path))
	if r.prompter == nil {
		return "", errs.New(errs.ErrConfiguration, "credentials file not found at %s", path)
	}

	picked, err := r.prompter.Prompt(path)
	if err != nil {
		if errors.Is(err, credpath.ErrCancelled) {
			logger.Warn("No credentials file selected")
			return "", errs.Wrap(errs.ErrConfiguration, "no credentials file selected", err)
		}
		return "", errs.Wrap(errs.ErrIO, fmt.Sprintf("credentials file %s", path), err)
	}
	logger.Info("Using selected credentials file", zap.String("path", picked))
	return picked, nil
}
