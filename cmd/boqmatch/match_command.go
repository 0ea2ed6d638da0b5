package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/daemonrun"
	"boqmatch/internal/language"
	"boqmatch/internal/resolve"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var unit string
	var quantity float64
	var projectContext map[string]string

	cmd := &cobra.Command{
		Use:   "match <text>",
		Short: "Resolve one line item against the active catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.MatchRequest{
				Text:           strings.Join(args, " "),
				Unit:           unit,
				ProjectContext: projectContext,
			}
			if cmd.Flags().Changed("quantity") {
				req.Quantity = &quantity
			}
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				result, err := stack.Service.Match(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, result)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMatch(result))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "Unit of measure of the line item")
	cmd.Flags().Float64Var(&quantity, "quantity", 0, "Quantity of the line item")
	cmd.Flags().StringToStringVar(&projectContext, "context", nil, "Project context as key=value pairs")
	return cmd
}

func renderMatch(res *resolve.Result) string {
	code := res.Code
	if res.NoMatch {
		code = "(no match)"
	}
	degraded := yesNo(res.Degraded)
	if res.DegradedReason != "" {
		degraded += " (" + res.DegradedReason + ")"
	}
	var b strings.Builder
	b.WriteString(renderFields([][2]string{
		{"Match ID", res.MatchID},
		{"Code", code},
		{"Name", res.Name},
		{"Unit", res.Unit},
		{"Section", res.Section},
		{"Confidence", formatConfidence(res.Confidence)},
		{"Source", string(res.Source)},
		{"Degraded", degraded},
		{"Catalog version", res.VersionID},
		{"Language", language.DisplayName(res.Language)},
		{"Explanation", res.Explanation},
	}))
	if len(res.Shortlist) > 0 {
		rows := make([][]string, 0, len(res.Shortlist))
		for i, ranked := range res.Shortlist {
			rows = append(rows, []string{strconv.Itoa(i + 1), ranked.Code.Code, ranked.Code.Name, formatConfidence(ranked.Score)})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"#", "Code", "Name", "Score"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	}
	if len(res.Related) > 0 {
		rows := make([][]string, 0, len(res.Related))
		for _, rel := range res.Related {
			rows = append(rows, []string{rel.RelatedCode, formatConfidence(rel.Strength), rel.Source})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Related code", "Strength", "Source"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
	}
	return b.String()
}
