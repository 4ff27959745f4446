package cli

import (
	"fmt"
	"os"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

// PrintError prints an error to stderr with appropriate formatting.
// Structured errors use their user-facing format.
func PrintError(err error) {
	if gateErr := gateerrors.AsGateError(err); gateErr != nil {
		fmt.Fprintln(os.Stderr, gateErr.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", gateErr.Code)
			if gateErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", gateErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
