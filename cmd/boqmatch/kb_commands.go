package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"boqmatch/internal/daemonrun"
)

func newKBCommand(ctx *commandContext) *cobra.Command {
	kbCmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect and maintain the knowledge base",
	}

	kbCmd.AddCommand(newKBStatsCommand(ctx))
	kbCmd.AddCommand(newKBCleanupCommand(ctx))
	kbCmd.AddCommand(newKBRelatedCommand(ctx))

	return kbCmd
}

func newKBStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.KBStats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, resp)
				}
				stats := resp.Stats
				rows := [][]string{
					{"mappings", "total", strconv.Itoa(stats.Mappings)},
					{"feedback", "pending", strconv.Itoa(stats.FeedbackPending)},
					{"related", "edges", strconv.Itoa(stats.RelatedEdges)},
				}
				rows = appendCounts(rows, "mappings by source", stats.BySource)
				rows = appendCounts(rows, "mappings by language", stats.ByLanguage)
				rows = appendCounts(rows, "mappings by version", stats.ByVersion)
				rows = appendCounts(rows, "matches by source", stats.MatchesBySource)
				rows = appendCounts(rows, "feedback processed", stats.FeedbackProcessed)
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Group", "Key", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func appendCounts(rows [][]string, group string, counts map[string]int) [][]string {
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		rows = append(rows, []string{group, key, strconv.Itoa(counts[key])})
	}
	return rows
}

func newKBCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphaned and stale mappings and relearn related items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFields([][2]string{
					{"Orphaned mappings removed", strconv.FormatInt(resp.OrphanedMappings, 10)},
					{"Stale mappings removed", strconv.FormatInt(resp.StaleMappings, 10)},
					{"Match records removed", strconv.FormatInt(resp.MatchRecords, 10)},
					{"Processed feedback removed", strconv.FormatInt(resp.ProcessedFeedback, 10)},
					{"Related pairs learned", strconv.Itoa(resp.LearnedRelations)},
				}))
				return nil
			})
		},
	}
}

func newKBRelatedCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "related <code>",
		Short: "List items commonly billed together with a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.Related(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Related) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No related items for %s\n", resp.Code)
					return nil
				}
				rows := make([][]string, 0, len(resp.Related))
				for _, rel := range resp.Related {
					rows = append(rows, []string{rel.RelatedCode, formatConfidence(rel.Strength), rel.Source})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Related code", "Strength", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of suggestions")
	return cmd
}
