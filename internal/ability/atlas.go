package ability

import (
	"context"
	"strings"

	"github.com/randalmurphal/invoicegate/internal/state"
)

// Approval policy.
const (
	AutoApprovalLimit = 10000.0

	ApprovalApproved  = "APPROVED"
	ApprovalEscalated = "ESCALATED"
	ApproverAuto      = "AUTO"
	ApproverFinance   = "FINANCE_LEAD"
)

// ForcedMismatchRatio scales the invoice amount into the PO amount when a
// payload asks for a forced mismatch.
const ForcedMismatchRatio = 0.7

// NewAtlas returns the ATLAS server: simulated external systems.
func NewAtlas() *Registry {
	return NewRegistry(ServerAtlas).
		Register(OCRExtract, ocrExtract).
		Register(EnrichVendor, enrichVendor).
		Register(FetchPO, fetchPO).
		Register(FetchGRN, fetchGRN).
		Register(FetchHistory, fetchHistory).
		Register(ApplyInvoiceApprovalPolicy, applyApprovalPolicy).
		Register(PostToERP, postToERP).
		Register(SchedulePayment, schedulePayment).
		Register(NotifyVendor, notifyVendor).
		Register(NotifyFinanceTeam, notifyFinanceTeam)
}

func ocrExtract(_ context.Context, payload map[string]any) (map[string]any, error) {
	var parts []string
	for _, name := range stringList(payload["attachments"]) {
		parts = append(parts, "OCR("+name+")")
	}
	text := strings.Join(parts, " ")
	if text == "" {
		text = "OCR(NO_ATTACHMENTS)"
	}
	currency, _ := payload["currency"].(string)
	if currency == "" {
		currency = "USD"
	}
	return map[string]any{"invoice_text": text, "currency": currency}, nil
}

func enrichVendor(_ context.Context, payload map[string]any) (map[string]any, error) {
	name, _ := payload["vendor_name"].(string)
	if name == "" {
		name = "Unknown Vendor"
	}
	return map[string]any{
		"vendor_name":   name,
		"credit_score":  0.72,
		"risk_score":    0.28,
		"enrichment_ts": nowISO(),
	}, nil
}

// POAmount resolves the purchase order amount for an invoice: an explicit
// po_amount wins, then a forced mismatch, then the invoice amount itself.
func POAmount(payload map[string]any) float64 {
	amount, _ := state.ToFloat(payload["amount"])
	if v, ok := payload["po_amount"]; ok && v != nil {
		if f, ok := state.ToFloat(v); ok {
			return f
		}
		return amount
	}
	if truthy(payload["force_mismatch"]) {
		return amount * ForcedMismatchRatio
	}
	return amount
}

func fetchPO(_ context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{
		"matched_pos": []any{
			map[string]any{
				"po_id":    "PO-" + upperHex(6),
				"amount":   POAmount(payload),
				"currency": stringOr(payload["currency"], "USD"),
			},
		},
	}, nil
}

func fetchGRN(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"matched_grns": []any{
			map[string]any{"grn_id": "GRN-" + upperHex(6), "status": "RECEIVED"},
		},
	}, nil
}

func fetchHistory(_ context.Context, payload map[string]any) (map[string]any, error) {
	amount, _ := state.ToFloat(payload["amount"])
	return map[string]any{
		"history": []any{
			map[string]any{"invoice_id": "HIST-" + upperHex(6), "amount": amount, "status": "PAID"},
		},
	}, nil
}

func applyApprovalPolicy(_ context.Context, payload map[string]any) (map[string]any, error) {
	amount, _ := state.ToFloat(payload["amount"])
	if amount <= AutoApprovalLimit {
		return map[string]any{"approval_status": ApprovalApproved, "approver_id": ApproverAuto}, nil
	}
	return map[string]any{"approval_status": ApprovalEscalated, "approver_id": ApproverFinance}, nil
}

func postToERP(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"posted": true, "erp_txn_id": "ERP-" + upperHex(8)}, nil
}

func schedulePayment(_ context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{
		"scheduled_payment_id": "PAY-" + upperHex(8),
		"scheduled_for":        payload["due_date"],
	}, nil
}

func notifyVendor(_ context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{
		"notify_status":    map[string]any{"vendor": "SENT"},
		"notified_parties": []any{stringOr(payload["vendor_name"], "vendor")},
	}, nil
}

func notifyFinanceTeam(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"notify_status":    map[string]any{"finance_team": "SENT"},
		"notified_parties": []any{"finance_team"},
	}, nil
}

func upperHex(n int) string {
	return strings.ToUpper(state.HexID(n))
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
