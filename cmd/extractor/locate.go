// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/credpath"
	"github.com/netSkope/sharepoint-extractor/internal/secrets"
	"github.com/spf13/cobra"
)

func newLocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Print the secure credentials file location.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := credpath.Path()
			status := "missing"
			if credpath.Exists(path) {
				status = "present"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", path, status)
			return nil
		},
	}
}

func newLoadCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "load <credentials-file>",
		Short: "Convert a credentials file into the env file without running an export.",
		Args:  cobra.ExactArgs(1),
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

			res, err := secrets.Load(args[0], cfg.EnvFile, logger)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Env file", "Accepted", "Skipped", "Missing"})
			if err := cfg.ApplyEnvFile(res.EnvFile); err != nil {
				return err
			}
			missing := cfg.Missing(config.RequiredKeys...)
			t.AppendRow(table.Row{res.EnvFile, res.Accepted, res.Skipped, len(missing)})
			t.SetStyle(table.StyleRounded)
			t.Render()

			for _, k := range missing {
				fmt.Fprintf(cmd.ErrOrStderr(), "missing: %s\n", k)
			}
			return nil
		},
	}
}
