package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/review"
)

// newResultsCmd creates the results command
func newResultsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List final results of completed runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.rt.Reviews.ListFinalResults(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if items == nil {
					items = []review.FinalResult{}
				}
				return printJSON(out, map[string]any{"items": items})
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No final results yet.")
				return nil
			}

			p := newPalette(out)
			w := newTable(out)
			_, _ = fmt.Fprintln(w, "RUN\tINVOICE\tVENDOR\tAMOUNT\tCURRENCY\tSTATUS\tCREATED")
			for _, r := range items {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.RunID, r.InvoiceID, r.VendorName, formatAmount(r.Amount), r.Currency,
					p.status(r.Status), formatTime(r.CreatedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", review.DefaultResultsLimit, "maximum results to show")
	return cmd
}
