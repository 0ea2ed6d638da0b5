package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/daemonrun"
	"boqmatch/internal/kb"
)

type feedbackResult struct {
	MatchID string `json:"match_id"`
	Queued  bool   `json:"queued"`
	Outcome string `json:"outcome,omitempty"`
}

func newFeedbackCommand(ctx *commandContext) *cobra.Command {
	var confirm bool
	var reject bool
	var corrected string

	cmd := &cobra.Command{
		Use:   "feedback <match-id>",
		Short: "Confirm, reject or correct an earlier match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chosen := 0
			for _, set := range []bool{confirm, reject, corrected != ""} {
				if set {
					chosen++
				}
			}
			if chosen != 1 {
				return errors.New("choose exactly one of --confirm, --reject or --correct")
			}
			req := api.FeedbackRequest{MatchID: args[0], Confirmed: confirm, CorrectedCode: corrected}
			return ctx.withStack(cmd, func(stack *daemonrun.Stack) error {
				resp, err := stack.Service.Feedback(cmd.Context(), req)
				if err != nil {
					return err
				}
				if _, err := stack.Recorder.ProcessPending(cmd.Context()); err != nil {
					return err
				}
				outcome, err := stack.KB.FeedbackOutcome(cmd.Context(), req.MatchID)
				switch {
				case errors.Is(err, kb.ErrNotFound):
					// Still in the inbox after a failed attempt; the daemon retries it.
					outcome = "pending"
				case err != nil:
					return fmt.Errorf("read feedback outcome: %w", err)
				}
				result := feedbackResult{MatchID: req.MatchID, Queued: resp.Queued, Outcome: outcome}
				if ctx.output(cmd) == outputJSON {
					return writeJSON(cmd, result)
				}
				if !resp.Queued {
					fmt.Fprintf(cmd.OutOrStdout(), "Feedback for %s was already recorded (%s)\n", result.MatchID, outcome)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feedback for %s applied: %s\n", result.MatchID, outcome)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the suggested code")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the suggested code")
	cmd.Flags().StringVar(&corrected, "correct", "", "Replace the suggested code with this code")
	return cmd
}
