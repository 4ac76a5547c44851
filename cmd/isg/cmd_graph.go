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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/isgraph/services/isg"
	"github.com/AleutianAI/isgraph/services/isg/store"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file|->",
		Short: "Replace the graph with parser output",
		Long: `Reads a JSON document {"entities": [...], "edges": [...]} and replaces
the whole graph with it, starting a new generation. Per-item problems are
reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var req isg.LoadRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				report, err := svc.Store().BulkLoad(ctx, req.Entities, req.Edges)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query [filter]",
		Short: "List entities matching a filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filterText := ""
			if len(args) == 1 {
				filterText = args[0]
			}
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				resp, err := svc.Query(ctx, filterText, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", isg.DefaultQueryLimit, "Maximum entities to print")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		level       string
		format      string
		filterText  string
		output      string
		currentCode bool
		maxBytes    int64
		compress    bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the graph at Level 0, 1 or 2",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := isg.ExportParams{
				Level:    level,
				Filter:   filterText,
				Format:   format,
				Compress: compress,
			}
			if cmd.Flags().Changed("include-current-code") {
				params.IncludeCurrentCode = &currentCode
			}
			if cmd.Flags().Changed("max-bytes") {
				params.MaxBytes = &maxBytes
			}
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				result, err := svc.Export(ctx, params)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(result.Data)
					return err
				}
				if err := os.WriteFile(output, result.Data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				a.logger.Slog().Info("export written",
					"path", output,
					"records", result.Records,
					"bytes", len(result.Data),
				)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&level, "level", "1", "Export level: 0, 1 or 2")
	f.StringVar(&format, "format", "json", "Output format: json or tsv")
	f.StringVar(&filterText, "filter", "", "Filter expression (default ALL)")
	f.StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	f.BoolVar(&currentCode, "include-current-code", false, "Add the current_code column at Level 1 and 2")
	f.Int64Var(&maxBytes, "max-bytes", 0, "Reject exports whose estimate exceeds this size (0 disables)")
	f.BoolVar(&compress, "compress", false, "Compress the output with zstd")
	return cmd
}

func newEstimateCmd(a *app) *cobra.Command {
	var level, filterText string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the size of an export without rendering it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(_ context.Context, svc *isg.Service) error {
				est, err := svc.Estimate(level, filterText)
				if err != nil {
					return err
				}
				return printJSON(cmd, est)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "1", "Export level: 0, 1 or 2")
	cmd.Flags().StringVar(&filterText, "filter", "", "Filter expression (default ALL)")
	return cmd
}

func newMutateCmd(a *app) *cobra.Command {
	var (
		code     string
		codeFile string
		meta     store.EntityMeta
	)
	cmd := &cobra.Command{
		Use:   "mutate <key> <create|edit|delete>",
		Short: "Record a pending change on the future timeline",
		Long: `Records a Create, Edit or Delete. Create and Edit need the future code,
given with --code or --code-file. Create takes entity metadata from the
flags, or from the key when it is a full entity key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := temporal.ParseAction(args[1])
			if err != nil {
				return err
			}
			if action == temporal.ActionNone {
				return fmt.Errorf("%w: %q", temporal.ErrUnknownAction, args[1])
			}

			req := store.MutationRequest{Key: args[0], Action: action}
			switch {
			case codeFile != "":
				data, err := readInput(cmd, codeFile)
				if err != nil {
					return err
				}
				s := string(data)
				req.FutureCode = &s
			case cmd.Flags().Changed("code"):
				req.FutureCode = &code
			}
			if meta.EntityType != "" || meta.Name != "" || meta.FilePath != "" {
				m := meta
				req.Meta = &m
			}

			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				if err := svc.Store().ApplyMutation(ctx, req); err != nil {
					return err
				}
				e, _ := svc.Store().Get(req.Key)
				return printJSON(cmd, isg.MutationResponse{
					Key:     req.Key,
					Entity:  &e,
					Version: svc.Store().Snapshot().Version(),
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&code, "code", "", "Future code")
	f.StringVar(&codeFile, "code-file", "", "Read future code from a file (- for stdin)")
	f.StringVar(&meta.EntityType, "entity-type", "", "Entity type of a created entity (fn, struct, ...)")
	f.StringVar(&meta.EntityClass, "entity-class", "", "Entity class of a created entity: code or test")
	f.StringVar(&meta.Name, "name", "", "Name of a created entity")
	f.StringVar(&meta.FilePath, "file-path", "", "File of a created entity")
	f.IntVar(&meta.LineStart, "line-start", 0, "First line of a created entity")
	f.IntVar(&meta.LineEnd, "line-end", 0, "Last line of a created entity")
	f.StringVar(&meta.Signature, "signature", "", "Signature of a created entity")
	f.StringVar(&meta.Language, "language", "", "Language of a created entity")
	return cmd
}

func newRevertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <key>",
		Short: "Discard the pending change of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				if err := svc.Store().RevertMutation(ctx, args[0]); err != nil {
					return err
				}
				resp := isg.MutationResponse{Key: args[0], Version: svc.Store().Snapshot().Version()}
				if e, ok := svc.Store().Get(args[0]); ok {
					resp.Entity = &e
				}
				return printJSON(cmd, resp)
			})
		},
	}
}

func newCommitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Make the future timeline the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				report, err := svc.Store().CommitAndReset(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newChangesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "List pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				snap := svc.Store().Snapshot()
				changes, err := svc.Changes(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, isg.ChangesResponse{
					Generation: snap.Generation(),
					Version:    snap.Version(),
					Changes:    changes,
				})
			})
		},
	}
}

func newClusterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Partition the graph with label propagation and store the clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				result, err := svc.Cluster(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func newBlastRadiusCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "blast-radius <key>",
		Short: "List entities that transitively depend on an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				result, err := svc.BlastRadius(ctx, args[0], depth)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "Hop limit (0 uses the default of 10)")
	return cmd
}

func newDependenciesCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "dependencies <key>",
		Short: "List entities an entity transitively depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				result, err := svc.Dependencies(ctx, args[0], depth)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "Hop limit (0 uses the default of 10)")
	return cmd
}

func newCyclesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "List dependency cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *isg.Service) error {
				cycles, err := svc.Cycles(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, isg.CyclesResponse{
					Generation: svc.Store().Snapshot().Generation(),
					Cycles:     cycles,
				})
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(_ context.Context, svc *isg.Service) error {
				return printJSON(cmd, svc.Store().Stats())
			})
		},
	}
}

