package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/invoicegate/internal/checkpoint"
	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/executor"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// historyEntry is one execution checkpoint as shown by history.
type historyEntry struct {
	Step         int      `json:"step"`
	Stage        string   `json:"stage"`
	Status       string   `json:"status"`
	Source       string   `json:"source"`
	CheckpointID string   `json:"checkpoint_id"`
	ParentID     string   `json:"parent_id,omitempty"`
	CreatedAt    string   `json:"created_at"`
	Writes       []string `json:"writes,omitempty"`
}

// newHistoryCmd creates the history command
func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <run-id>",
		Short: "Show the execution checkpoints of a run",
		Long: `List every execution checkpoint recorded for a run, oldest first.

A paused and resumed run shows one continuous chain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			chain, err := s.rt.Log.Chain(ctx, checkpoint.Config{ThreadID: args[0]})
			if err != nil {
				return err
			}
			if len(chain) == 0 {
				return gateerrors.NotFound("run", args[0])
			}

			entries := make([]historyEntry, 0, len(chain))
			for i := len(chain) - 1; i >= 0; i-- {
				entries = append(entries, toHistoryEntry(chain[i]))
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, entries)
			}
			p := newPalette(out)
			w := newTable(out)
			_, _ = fmt.Fprintln(w, "STEP\tSTAGE\tSTATUS\tCHECKPOINT\tCREATED\tWRITES")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\n",
					e.Step, e.Stage, p.status(e.Status), e.CheckpointID, e.CreatedAt, e.Writes)
			}
			return w.Flush()
		},
	}
}

func toHistoryEntry(rec *checkpoint.Record) historyEntry {
	step, _ := state.ToFloat(rec.Metadata[executor.MetaStep])
	str := func(key string) string {
		v, _ := rec.Metadata[key].(string)
		return v
	}
	e := historyEntry{
		Step:         int(step),
		Stage:        str(executor.MetaStage),
		Status:       str(executor.MetaStatus),
		Source:       str(executor.MetaSource),
		CheckpointID: rec.CheckpointID,
		ParentID:     rec.ParentID,
		CreatedAt:    formatTime(rec.CreatedAt),
	}
	for _, pw := range rec.PendingWrites {
		e.Writes = append(e.Writes, pw.Channel)
	}
	return e
}
