package cli

import (
	"github.com/spf13/cobra"
)

// newResumeCmd creates the resume command
func newResumeCmd() *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "resume <checkpoint-id>",
		Short: "Resume a paused run from its review checkpoint",
		Long: `Reload the state saved at a review checkpoint and continue the run.

Without a recorded decision the run reports WAITING_HUMAN and stops again.
'invoicegate decide' resumes automatically; use this command after
'decide --no-resume' or to retry a resume that failed before posting.
A run that already posted or completed is not resumed again.

Examples:
  invoicegate resume chk_4f2a9c81d0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := SetupSignalHandler(cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(ctx, cmd, sessionOptions{progress: true})
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.rt.Engine.ResumeFromCheckpoint(ctx, args[0], stage)
			if err != nil {
				return err
			}
			return printRun(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "stage to resume at (default HITL_DECISION)")
	return cmd
}
