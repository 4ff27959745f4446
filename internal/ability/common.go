package ability

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/randalmurphal/invoicegate/internal/state"
)

// NewCommon returns the COMMON server: deterministic, local computations.
func NewCommon() *Registry {
	return NewRegistry(ServerCommon).
		Register(AcceptInvoicePayload, acceptInvoicePayload).
		Register(ParseLineItems, parseLineItems).
		Register(NormalizeVendor, normalizeVendor).
		Register(ComputeFlags, computeFlags).
		Register(ComputeMatchScore, computeMatchScore).
		Register(BuildAccountingEntries, buildAccountingEntries).
		Register(OutputFinalPayload, outputFinalPayload)
}

// RequiredInvoiceFields must all be present and non-empty for an invoice
// to validate.
var RequiredInvoiceFields = []string{"invoice_id", "vendor_name", "invoice_date", "amount", "currency"}

func acceptInvoicePayload(_ context.Context, payload map[string]any) (map[string]any, error) {
	invoice := payload
	if inner, ok := payload["invoice"].(map[string]any); ok {
		invoice = inner
	}
	validated := true
	for _, f := range RequiredInvoiceFields {
		if !truthy(invoice[f]) {
			validated = false
			break
		}
	}
	return map[string]any{
		"raw_id":    "raw_" + state.HexID(12),
		"ingest_ts": nowISO(),
		"validated": validated,
	}, nil
}

func parseLineItems(_ context.Context, payload map[string]any) (map[string]any, error) {
	items := payload["line_items"]
	if !truthy(items) {
		items = payload["parsed_line_items"]
	}
	if !truthy(items) {
		items = []any{}
	}
	pos := payload["detected_pos"]
	if pos == nil {
		pos = []any{}
	}
	return map[string]any{"parsed_line_items": items, "detected_pos": pos}, nil
}

func normalizeVendor(_ context.Context, payload map[string]any) (map[string]any, error) {
	name, _ := payload["vendor_name"].(string)
	parts := strings.Fields(name)
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return map[string]any{
		"normalized_name": strings.Join(parts, " "),
		"tax_id":          payload["vendor_tax_id"],
	}, nil
}

func computeFlags(_ context.Context, payload map[string]any) (map[string]any, error) {
	missing := []string{}
	for _, f := range []string{"vendor_tax_id", "line_items", "amount"} {
		if !truthy(payload[f]) {
			missing = append(missing, f)
		}
	}
	risk := math.Min(0.1+0.15*float64(len(missing)), 0.95)
	return map[string]any{"missing_info": missing, "risk_score": round(risk, 2)}, nil
}

// MatchScore is 1 minus the relative difference as a share of the
// tolerance, floored at 0. A zero PO amount scores 0.
func MatchScore(invoiceAmount, poAmount, tolerancePct float64) float64 {
	if poAmount == 0 {
		return 0
	}
	delta := math.Abs(invoiceAmount-poAmount) / poAmount * 100
	tol := tolerancePct
	if tol == 0 {
		tol = 1
	}
	score := math.Max(0, 1-delta/math.Max(tol, 1))
	return round(score, 3)
}

func computeMatchScore(_ context.Context, payload map[string]any) (map[string]any, error) {
	inv, _ := state.ToFloat(payload["invoice_amount"])
	po, _ := state.ToFloat(payload["po_amount"])
	tol, _ := state.ToFloat(payload["tolerance_pct"])
	return map[string]any{
		"match_score":   MatchScore(inv, po, tol),
		"tolerance_pct": tol,
		"match_evidence": map[string]any{
			"invoice_amount": inv,
			"po_amount":      po,
		},
	}, nil
}

func buildAccountingEntries(_ context.Context, payload map[string]any) (map[string]any, error) {
	amount, _ := state.ToFloat(payload["amount"])
	currency, _ := payload["currency"].(string)
	if currency == "" {
		currency = "USD"
	}
	return map[string]any{
		"accounting_entries": []any{
			map[string]any{"type": "DEBIT", "account": "Expense", "amount": amount, "currency": currency},
			map[string]any{"type": "CREDIT", "account": "Accounts Payable", "amount": amount, "currency": currency},
		},
	}, nil
}

func outputFinalPayload(_ context.Context, payload map[string]any) (map[string]any, error) {
	final, ok := payload["final_payload"]
	if !ok {
		final = payload
	}
	status, ok := payload["status"]
	if !ok {
		status = state.StatusCompleted
	}
	return map[string]any{"final_payload": final, "status": status}, nil
}

// truthy mirrors loose JSON truthiness: nil, false, 0, "" and empty
// collections are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case []map[string]any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	if f, ok := state.ToFloat(v); ok {
		return f != 0
	}
	return true
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	lower := strings.ToLower(word)
	r := []rune(lower)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
