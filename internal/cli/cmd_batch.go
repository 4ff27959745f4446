package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/invoicegate/internal/executor"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// batchResult is the outcome of one invoice file.
type batchResult struct {
	File         string `json:"file"`
	RunID        string `json:"run_id,omitempty"`
	Status       string `json:"status,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// newBatchCmd creates the batch command
func newBatchCmd() *cobra.Command {
	var (
		concurrency int
		failFast    bool
	)

	cmd := &cobra.Command{
		Use:   "batch <glob>...",
		Short: "Process every invoice file matching the patterns",
		Long: `Run each matching invoice JSON file as its own workflow run.

Patterns support ** for recursive matches. Files are processed
concurrently; each run is independent and mismatches pause for review
as usual.

Examples:
  invoicegate batch 'inbox/**/*.json'
  invoicegate batch -c 8 'inbox/*.json' 'retry/*.json'
  invoicegate batch --fail-fast 'inbox/**/*.json'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be positive, got %d", concurrency)
			}
			files, err := expandGlobs(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files match %v", args)
			}

			ctx, cancel := SetupSignalHandler(cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(ctx, cmd, sessionOptions{progress: true})
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := runBatch(ctx, s.rt.Engine, files, concurrency, failFast)
			if err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := printJSON(out, results); err != nil {
					return err
				}
			} else {
				p := newPalette(out)
				w := newTable(out)
				_, _ = fmt.Fprintln(w, "FILE\tRUN\tSTATUS\tCHECKPOINT\tERROR")
				for _, r := range results {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						r.File, dash(r.RunID), p.status(dash(r.Status)), dash(r.CheckpointID), r.Error)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d invoices failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "invoices processed at once")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop starting new runs after the first failure")
	return cmd
}

// expandGlobs returns the sorted, de-duplicated files matching patterns.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// runBatch starts one run per file with at most limit in flight. Results
// keep the order of files. With failFast the first failure cancels runs
// that have not started.
func runBatch(ctx context.Context, engine *executor.Engine, files []string, limit int, failFast bool) ([]batchResult, error) {
	results := make([]batchResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, file := range files {
		results[i].File = file
		if gctx.Err() != nil {
			results[i].Error = "skipped"
			continue
		}
		g.Go(func() error {
			err := runBatchFile(gctx, engine, file, &results[i])
			if err != nil {
				results[i].Error = err.Error()
				if failFast {
					return err
				}
			}
			return nil
		})
	}
	// Failures are recorded per file.
	_ = g.Wait()
	return results, ctx.Err()
}

func runBatchFile(ctx context.Context, engine *executor.Engine, file string, res *batchResult) error {
	payload, err := readInvoice(nil, file)
	if err != nil {
		return err
	}
	st, err := engine.Start(ctx, payload, "")
	if st != nil {
		res.RunID = st.RunID
		res.Status = st.Status
		if st.Status == state.StatusPaused && st.Checkpoint != nil {
			res.CheckpointID = st.Checkpoint.CheckpointID
		}
	}
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
