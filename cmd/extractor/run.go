// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/credpath"
	"github.com/netSkope/sharepoint-extractor/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

type configLoader func(cmd *cobra.Command) (*config.Config, error)

func newRunCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load credentials, resolve the site and export the list (default).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			prompter := credpath.NewLinePrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
			runner := pipeline.NewRunner(cfg, logger, pipeline.WithPrompter(prompter))

			var last pipeline.Event
			for ev := range runner.Start(cmd.Context()) {
				render(cmd.ErrOrStderr(), ev)
				if ev.Type == pipeline.EventFinished {
					last = ev
				}
			}

			if last.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n%s\n", failureMessage(last.Err))
				return errRunFailed
			}

			printSummary(cmd.OutOrStdout(), cfg, last.Summary)
			return nil
		},
	}
}

// render prints one progress event.
func render(w io.Writer, ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventStage:
		fmt.Fprintf(w, "==> %s\n", ev.Stage)
	case pipeline.EventLog:
		prefix := "   "
		if ev.Line.Level >= zapcore.WarnLevel {
			prefix = " ! "
		}
		fmt.Fprintf(w, "%s%s\n", prefix, ev.Line.Message)
	}
}

// failureMessage names the stage a run stopped in.
func failureMessage(err error) string {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		return fmt.Sprintf("Run failed: %v", err)
	}

	switch se.Stage {
	case pipeline.StageLoadSecrets:
		return fmt.Sprintf("Could not load credentials: %v", se.Err)
	case pipeline.StageResolveSite:
		return fmt.Sprintf("Could not resolve the SharePoint site: %v", se.Err)
	case pipeline.StageExtractData:
		return fmt.Sprintf("Data extraction failed: %v", se.Err)
	}
	return se.Error()
}

func printSummary(w io.Writer, cfg *config.Config, s *pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Extraction Summary")
	t.AppendHeader(table.Row{"Item", "Value"})

	t.AppendRow(table.Row{"Credentials file", s.CredentialsFile})
	if s.Secrets != nil {
		t.AppendRow(table.Row{"Credential lines", fmt.Sprintf("%d accepted, %d skipped", s.Secrets.Accepted, s.Secrets.Skipped)})
	}
	t.AppendRow(table.Row{"Site", fmt.Sprintf("%s (%s)", cfg.SiteName, s.SiteID)})
	if s.Extract != nil {
		t.AppendRow(table.Row{"List", fmt.Sprintf("%s (%s)", cfg.ListName, s.Extract.ListID)})
		t.AppendRow(table.Row{"Items", s.Extract.Items})
		t.AppendRow(table.Row{"Rows written", s.Extract.File.RowCount})
		t.AppendRow(table.Row{"Output", s.Extract.File.FilePath})
	}
	for _, p := range s.Publications {
		t.AppendRow(table.Row{"Published (" + p.Name + ")", p.Target})
	}
	t.AppendRow(table.Row{"Elapsed", s.Elapsed.Round(time.Millisecond).String()})

	t.SetStyle(table.StyleRounded)
	t.Render()
}
