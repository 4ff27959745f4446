package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/review"
)

// newPendingCmd creates the pending command
func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List invoices waiting for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.rt.Reviews.ListPending(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if items == nil {
					items = []review.PendingItem{}
				}
				return printJSON(out, map[string]any{"items": items})
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No invoices waiting for review.")
				return nil
			}

			w := newTable(out)
			_, _ = fmt.Fprintln(w, "CHECKPOINT\tINVOICE\tVENDOR\tAMOUNT\tCREATED\tREASON")
			for _, it := range items {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					it.CheckpointID, it.InvoiceID, it.VendorName, formatAmount(it.Amount),
					formatTime(it.CreatedAt), it.ReasonForHold)
			}
			return w.Flush()
		},
	}
}
