package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/invoicegate/internal/review"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// palette colors status words when writing to a terminal.
type palette struct {
	enabled bool
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	dim     lipgloss.Style
	bold    lipgloss.Style
}

func newPalette(w io.Writer) palette {
	f, ok := w.(*os.File)
	return palette{
		enabled: ok && isatty.IsTerminal(f.Fd()),
		good:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		bold:    lipgloss.NewStyle().Bold(true),
	}
}

func (p palette) render(s lipgloss.Style, text string) string {
	if !p.enabled {
		return text
	}
	return s.Render(text)
}

// status colors a workflow or review status.
func (p palette) status(st string) string {
	switch st {
	case state.StatusCompleted, review.StatusResolved, state.DecisionAccept:
		return p.render(p.good, st)
	case state.StatusPaused, state.StatusWaitingHuman, review.StatusPending:
		return p.render(p.warn, st)
	case state.StatusRequiresManualHandling, state.DecisionReject:
		return p.render(p.bad, st)
	}
	return st
}

func (p palette) hint(text string) string { return p.render(p.dim, text) }

func (p palette) heading(text string) string { return p.render(p.bold, text) }

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatAmount(a *float64) string {
	if a == nil {
		return "-"
	}
	return strconv.FormatFloat(*a, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// runSummary is the JSON shape of a run outcome.
type runSummary struct {
	Status     string            `json:"status"`
	RunID      string            `json:"run_id"`
	Checkpoint *state.Checkpoint `json:"checkpoint"`
	Final      *state.Final      `json:"final"`
	Match      *state.Match      `json:"match"`
}

func summarize(st *state.WorkflowState) runSummary {
	status := st.Status
	if status == "" {
		status = "UNKNOWN"
	}
	return runSummary{
		Status:     status,
		RunID:      st.RunID,
		Checkpoint: st.Checkpoint,
		Final:      st.Final,
		Match:      st.Match,
	}
}

// printRun writes a run outcome in the selected format.
func printRun(w io.Writer, st *state.WorkflowState) error {
	if jsonOut {
		return printJSON(w, summarize(st))
	}
	p := newPalette(w)
	fmt.Fprintf(w, "%s  %s\n", p.heading(st.RunID), p.status(st.Status))
	if st.Match != nil {
		fmt.Fprintf(w, "  match: %s (score %.2f)\n", st.Match.MatchResult, st.Match.MatchScore)
	}
	if st.Status == state.StatusPaused && st.Checkpoint != nil {
		fmt.Fprintf(w, "  review checkpoint: %s\n", st.Checkpoint.CheckpointID)
		fmt.Fprintf(w, "  reason: %s\n", st.Checkpoint.PausedReason)
		fmt.Fprintln(w, p.hint(fmt.Sprintf(
			"  decide with: invoicegate decide %s --decision ACCEPT --reviewer <id>", st.Checkpoint.CheckpointID)))
	}
	if st.Human != nil && st.Status == state.StatusWaitingHuman {
		fmt.Fprintln(w, p.hint("  checkpoint has no decision yet"))
	}
	if st.Final != nil {
		fmt.Fprintf(w, "  final status: %s\n", p.status(st.Final.Status))
	}
	return nil
}
