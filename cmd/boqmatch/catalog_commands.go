package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/catalog"
	"boqmatch/internal/daemonrun"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog versions",
	}

	catalogCmd.AddCommand(newCatalogSubmitCommand(ctx))
	catalogCmd.AddCommand(newCatalogTransitionCommand(ctx, api.ActionApprove, "Approve a validated pending version"))
	catalogCmd.AddCommand(newCatalogTransitionCommand(ctx, api.ActionReject, "Reject a pending or approved version"))
	catalogCmd.AddCommand(newCatalogTransitionCommand(ctx, api.ActionActivate, "Make an approved or inactive version the active one"))
	catalogCmd.AddCommand(newCatalogTransitionCommand(ctx, api.ActionArchive, "Archive a version"))
	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	catalogCmd.AddCommand(newCatalogStatusCommand(ctx))
	catalogCmd.AddCommand(newCatalogHealthCommand(ctx))

	return catalogCmd
}

func newCatalogSubmitCommand(ctx *commandContext) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "submit <file.json>",
		Short: "Submit parsed catalog codes as a pending version",
		Long: "Submit reads either a JSON array of codes ({code, name, unit, section}) or a\n" +
			"submission object ({label, codes, source_rows, skipped_rows}) and stores it\n" +
			"as a pending version after running validation.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			submission, err := readSubmission(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(label) != "" {
				submission.Label = strings.TrimSpace(label)
			}
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.Submit(cmd.Context(), submission)
				if err != nil {
					return err
				}
				return printVersion(ctx, cmd, resp.Version)
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Label for the new version")
	return cmd
}

func readSubmission(path string) (catalog.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return catalog.Submission{}, fmt.Errorf("read catalog file: %w", err)
	}
	data = bytes.TrimSpace(data)
	var submission catalog.Submission
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &submission.Codes); err != nil {
			return catalog.Submission{}, fmt.Errorf("parse catalog file %s: %w", path, err)
		}
		return submission, nil
	}
	if err := json.Unmarshal(data, &submission); err != nil {
		return catalog.Submission{}, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	return submission, nil
}

func newCatalogTransitionCommand(ctx *commandContext, action, short string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   action + " <version-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.Transition(cmd.Context(), args[0], action, reason)
				if err != nil {
					return err
				}
				return printVersion(ctx, cmd, resp.Version)
			})
		},
	}
	if action == api.ActionReject {
		cmd.Flags().StringVar(&reason, "reason", "", "Why the version was rejected")
	}
	return cmd
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.Versions(cmd.Context(), all)
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Versions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No catalog versions")
					return nil
				}
				rows := make([][]string, 0, len(resp.Versions))
				for _, v := range resp.Versions {
					rows = append(rows, []string{
						v.ID,
						v.Label,
						string(v.Status),
						strconv.Itoa(v.CodeCount),
						yesNo(v.ValidationPassed),
						v.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Version", "Label", "Status", "Codes", "Valid", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include archived versions")
	return cmd
}

func newCatalogStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active version and the last health check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.CatalogStatus(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, resp)
				}
				summary := resp.StatusSummary
				active := summary.ActiveVersionID
				if active == "" {
					active = "(none)"
				}
				fields := [][2]string{
					{"Active version", active},
					{"Label", summary.ActiveLabel},
					{"Codes", strconv.Itoa(summary.CodeCount)},
					{"Pending versions", strconv.Itoa(summary.PendingVersions)},
				}
				if summary.ActivatedAt != nil {
					fields = append(fields, [2]string{"Activated", summary.ActivatedAt.Local().Format(time.DateTime)})
				}
				if summary.LastHealth != nil {
					fields = append(fields,
						[2]string{"Last health check", summary.LastHealth.CheckedAt.Local().Format(time.DateTime)},
						[2]string{"Healthy", yesNo(summary.LastHealth.Healthy)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFields(fields))
				return nil
			})
		},
	}
}

func newCatalogHealthCommand(ctx *commandContext) *cobra.Command {
	var includeLLM bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the catalog health check now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				report, err := stack.Service.Health(cmd.Context(), includeLLM)
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				} else {
					rows := make([][]string, 0, len(report.Checks))
					for _, check := range report.Checks {
						status := "ok"
						if !check.Passed {
							status = "FAIL"
						}
						rows = append(rows, []string{check.Name, status, check.Detail})
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
				}
				if !report.Healthy {
					return errors.New("catalog health check failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeLLM, "llm", false, "Also ping the configured model endpoint")
	return cmd
}

func printVersion(ctx *commandContext, cmd *cobra.Command, v *catalog.Version) error {
	if ctx.output(cmd) == outputJSON {
		return writeJSON(cmd, api.VersionResponse{Version: v})
	}
	fields := [][2]string{
		{"Version", v.ID},
		{"Label", v.Label},
		{"Status", string(v.Status)},
		{"Reason", v.StatusReason},
		{"Codes", strconv.Itoa(v.CodeCount)},
		{"Validation passed", yesNo(v.ValidationPassed)},
	}
	if v.Report != nil {
		for _, rule := range v.Report.Rules {
			if !rule.Passed {
				fields = append(fields, [2]string{"Failed rule", rule.Rule + ": " + rule.Detail})
			}
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderFields(fields))
	return nil
}
