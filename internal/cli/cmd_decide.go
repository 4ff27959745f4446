package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/review"
)

// newDecideCmd creates the decide command
func newDecideCmd() *cobra.Command {
	var (
		decision string
		reviewer string
		notes    string
		noResume bool
	)

	cmd := &cobra.Command{
		Use:   "decide <checkpoint-id>",
		Short: "Accept or reject an invoice held for review",
		Long: `Record a reviewer decision on a pending checkpoint and resume the run.

ACCEPT continues to reconciliation and posting. REJECT ends the run with
REQUIRES_MANUAL_HANDLING. A checkpoint can be decided once.

Examples:
  invoicegate decide chk_4f2a9c81d0 --decision ACCEPT --reviewer alice
  invoicegate decide chk_4f2a9c81d0 -d reject -r bob --notes "duplicate"
  invoicegate decide chk_4f2a9c81d0 -d accept -r alice --no-resume`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := review.NormalizeDecision(decision); err != nil {
				return err
			}

			ctx, cancel := SetupSignalHandler(cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(ctx, cmd, sessionOptions{progress: true})
			if err != nil {
				return err
			}
			defer s.Close()

			outcome, err := s.rt.Decide(ctx, args[0], decision, notes, reviewer, !noResume)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				var status *string
				if outcome.State != nil {
					status = &outcome.State.Status
				}
				return printJSON(out, map[string]any{
					"resume_token":    outcome.ResumeToken,
					"next_stage":      outcome.NextStage,
					"workflow_status": status,
				})
			}

			p := newPalette(out)
			fmt.Fprintf(out, "Recorded %s on %s\n", p.status(review.StatusResolved), args[0])
			fmt.Fprintf(out, "  resume token: %s\n", outcome.ResumeToken)
			fmt.Fprintf(out, "  next stage:   %s\n", outcome.NextStage)
			switch {
			case outcome.ResumeErr != nil:
				fmt.Fprintf(out, "  resume failed: %v\n", outcome.ResumeErr)
				fmt.Fprintln(out, p.hint("  retry with: invoicegate resume "+args[0]))
			case outcome.State != nil:
				return printRun(out, outcome.State)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&decision, "decision", "d", "", "ACCEPT or REJECT")
	cmd.Flags().StringVarP(&reviewer, "reviewer", "r", "", "reviewer ID")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "record the decision without resuming")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}
