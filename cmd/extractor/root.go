// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"errors"

	"github.com/netSkope/sharepoint-extractor/internal/config"
	xlog "github.com/netSkope/sharepoint-extractor/internal/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// errRunFailed is returned after the failure was already reported.
var errRunFailed = errors.New("run failed")

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "extractor",
		Short:         "extractor exports a SharePoint list to CSV through Microsoft Graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", config.DefaultConfigFile, "YAML configuration file")
	registerBindings(flags)

	load := func(cmd *cobra.Command) (*config.Config, error) {
		return config.LoadConfig(config.Options{
			ConfigFile: configFile,
			Overrides:  overrides(cmd.Flags()),
		})
	}

	run := newRunCmd(load)
	root.AddCommand(run, newLocateCmd(), newLoadCmd(load))
	root.Args = cobra.NoArgs
	root.RunE = run.RunE

	return root
}

// registerBindings adds one flag per configuration binding. Values are kept as
// strings and converted by the config package.
func registerBindings(flags *pflag.FlagSet) {
	for _, b := range config.Bindings {
		flags.String(b.Flag, "", b.Usage)
		if b.IsBool() {
			flags.Lookup(b.Flag).NoOptDefVal = "true"
		}
	}
}

// overrides returns the bindings set on the command line keyed by env name.
func overrides(flags *pflag.FlagSet) map[string]string {
	out := make(map[string]string)
	for _, b := range config.Bindings {
		if f := flags.Lookup(b.Flag); f != nil && f.Changed {
			out[b.Env] = f.Value.String()
		}
	}
	return out
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return xlog.NewLogger(xlog.Options{
		Dir:    cfg.LogDir,
		Name:   cfg.LogName,
		Debug:  cfg.Debug,
		Stdout: cfg.LogStdout,
	})
}
