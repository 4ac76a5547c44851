// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/isgraph/pkg/logging"
	"github.com/AleutianAI/isgraph/services/isg"
	"github.com/AleutianAI/isgraph/services/isg/config"
)

// app holds global flags and the state built from them before a command
// runs.
type app struct {
	configPath string
	backend    string
	path       string
	logLevel   string
	jsonLogs   bool

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "isg",
		Short: "Interface signature graph store",
		Long: `isg keeps a temporal graph of code entities and their dependencies,
records proposed changes on a future timeline, and exports the graph at
three levels of detail.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default $"+config.EnvConfigPath+", then built-in defaults)")
	pf.StringVar(&a.backend, "backend", "", "Storage backend: memory, badger or sqlite")
	pf.StringVar(&a.path, "path", "", "Storage path (badger directory or sqlite file)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVar(&a.jsonLogs, "json-logs", false, "Write logs to stderr as JSON")

	rootCmd.AddCommand(
		newServeCmd(a),
		newLoadCmd(a),
		newQueryCmd(a),
		newExportCmd(a),
		newEstimateCmd(a),
		newMutateCmd(a),
		newRevertCmd(a),
		newCommitCmd(a),
		newChangesCmd(a),
		newClusterCmd(a),
		newBlastRadiusCmd(a),
		newDependenciesCmd(a),
		newCyclesCmd(a),
		newStatsCmd(a),
	)
	return rootCmd
}

// setup loads config, applies flag overrides and starts logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Storage.Backend = strings.ToLower(a.backend)
	}
	if a.path != "" {
		cfg.Storage.Path = a.path
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(a.logLevel)
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Logging.JSON = a.jsonLogs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "isg",
		JSON:    cfg.Logging.JSON,
	})
	slog.SetDefault(a.logger.Slog())
	a.cfg = cfg
	return nil
}

// resolvedConfigPath is the file config.Load read, or "".
func (a *app) resolvedConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	return os.Getenv(config.EnvConfigPath)
}

// withService opens the configured store for the duration of fn.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *isg.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := isg.OpenService(ctx, a.cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			a.logger.Slog().Warn("closing store", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, svc)
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// readInput reads a file argument, or stdin when the argument is "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}
