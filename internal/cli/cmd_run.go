package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run <invoice.json|->",
		Short: "Process one invoice",
		Long: `Run an invoice through the workflow from its first stage.

The invoice is a JSON object with at least invoice_id, vendor_name,
invoice_date, amount, and currency. Use "-" to read it from stdin.

A run whose amount does not match the purchase order stops at a review
checkpoint with status PAUSED; resolve it with 'invoicegate decide'.

Examples:
  invoicegate run invoice.json
  invoicegate run --run-id run_demo invoice.json
  cat invoice.json | invoicegate run -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInvoice(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx, cancel := SetupSignalHandler(cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(ctx, cmd, sessionOptions{progress: true})
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.rt.Engine.Start(ctx, payload, runID)
			if err != nil {
				return err
			}
			return printRun(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run ID (default: generated)")
	return cmd
}

// readInvoice loads and validates an invoice JSON object from path or stdin.
func readInvoice(stdin io.Reader, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read invoice %s: %w", path, err)
	}
	return parseInvoice(data)
}

func parseInvoice(data []byte) (map[string]any, error) {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return nil, gateerrors.InvalidPayload("Invoice payload must be a JSON object.")
	}
	if missing := state.MissingInvoiceFields(payload); len(missing) > 0 {
		return nil, gateerrors.InvalidPayload("Missing required fields: " + strings.Join(missing, ", "))
	}
	return payload, nil
}
