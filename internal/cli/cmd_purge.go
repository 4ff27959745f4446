package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/checkpoint"
)

// newPurgeCmd creates the purge command
func newPurgeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge <run-id>",
		Short: "Delete the execution history of a run",
		Long: `Delete every execution checkpoint and write recorded for a run.

Review checkpoints and final results are kept. A purged run that is still
paused can no longer show its history but can still be resumed from its
review checkpoint.

Examples:
  invoicegate purge run_3b1f0c2d9e --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to purge %s without --force", args[0])
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			cfg := checkpoint.Config{ThreadID: args[0]}
			if _, err := s.rt.Log.Get(ctx, cfg, ""); err != nil {
				return err
			}
			if err := s.rt.Log.DeleteThread(ctx, args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Purged execution history of %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "confirm deletion")
	return cmd
}
