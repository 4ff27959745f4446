package stages

import (
	"context"
	"fmt"

	"github.com/randalmurphal/invoicegate/internal/ability"
	"github.com/randalmurphal/invoicegate/internal/state"
	"github.com/randalmurphal/invoicegate/internal/tools"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

// Intake validates the payload and stores the raw invoice.
func (s *Stages) Intake(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageIntake
	if err := s.selectTool(&u, stage, tools.CapStorage, st); err != nil {
		return u, err
	}
	res, err := s.call(ctx, &u, stage, ability.AcceptInvoicePayload, map[string]any{"invoice": st.InputPayload})
	if err != nil {
		return u, err
	}
	var raw state.Raw
	if err := ability.Decode(res, &raw); err != nil {
		return u, err
	}
	if raw.RawID != "" && s.reviews != nil {
		if err := s.reviews.SaveRawInvoice(ctx, raw.RawID, st.InputPayload); err != nil {
			return u, err
		}
		u.Log(string(stage), ActionPersistRaw, map[string]any{"raw_id": raw.RawID, "stored": true})
	}
	u.Raw = &raw
	return u.WithStatus(state.StatusIngested), nil
}

// Understand extracts text and line items.
func (s *Stages) Understand(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageUnderstand
	if err := s.selectTool(&u, stage, tools.CapOCR, st); err != nil {
		return u, err
	}
	ocr, err := s.call(ctx, &u, stage, ability.OCRExtract, map[string]any{
		"attachments": listOrEmpty(st.InputPayload["attachments"]),
		"currency":    st.InputPayload["currency"],
	})
	if err != nil {
		return u, err
	}
	items, err := s.call(ctx, &u, stage, ability.ParseLineItems, map[string]any{
		"line_items": listOrEmpty(st.InputPayload["line_items"]),
	})
	if err != nil {
		return u, err
	}

	var parsed state.Parsed
	if err := ability.Decode(items, &parsed); err != nil {
		return u, err
	}
	var text struct {
		InvoiceText string `json:"invoice_text"`
		Currency    string `json:"currency"`
	}
	if err := ability.Decode(ocr, &text); err != nil {
		return u, err
	}
	parsed.InvoiceText = text.InvoiceText
	parsed.Currency = text.Currency
	if parsed.Currency == "" {
		parsed.Currency = st.PayloadString("currency")
	}
	parsed.ParsedDates = state.ParsedDates{
		InvoiceDate: st.PayloadString("invoice_date"),
		DueDate:     st.PayloadString("due_date"),
	}
	u.Parsed = &parsed
	return u.WithStatus(state.StatusUnderstood), nil
}

// Prepare normalizes and enriches the vendor and computes risk flags.
func (s *Stages) Prepare(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StagePrepare
	if err := s.selectTool(&u, stage, tools.CapEnrichment, st); err != nil {
		return u, err
	}
	normalized, err := s.call(ctx, &u, stage, ability.NormalizeVendor, map[string]any{
		"vendor_name":   st.InputPayload["vendor_name"],
		"vendor_tax_id": st.InputPayload["vendor_tax_id"],
	})
	if err != nil {
		return u, err
	}
	enriched, err := s.call(ctx, &u, stage, ability.EnrichVendor, map[string]any{
		"vendor_name": st.InputPayload["vendor_name"],
	})
	if err != nil {
		return u, err
	}
	flagsRes, err := s.call(ctx, &u, stage, ability.ComputeFlags, map[string]any{
		"vendor_tax_id": st.InputPayload["vendor_tax_id"],
		"line_items":    listOrEmpty(st.InputPayload["line_items"]),
		"amount":        st.InputPayload["amount"],
	})
	if err != nil {
		return u, err
	}

	var vendor state.Vendor
	if err := ability.Decode(normalized, &vendor); err != nil {
		return u, err
	}
	var enrichment state.Enrichment
	if err := ability.Decode(enriched, &enrichment); err != nil {
		return u, err
	}
	var flags state.Flags
	if err := ability.Decode(flagsRes, &flags); err != nil {
		return u, err
	}
	vendor.Enrichment = &enrichment
	vendor.NormalizedInvoice = &state.NormalizedInvoice{
		Amount:    st.PayloadAmount(),
		Currency:  st.PayloadString("currency"),
		LineItems: lineItems(st.InputPayload["line_items"]),
	}
	u.Vendor = &vendor
	u.Flags = &flags
	return u.WithStatus(state.StatusPrepared), nil
}

// Retrieve fetches purchase orders, goods receipts and vendor history.
func (s *Stages) Retrieve(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageRetrieve
	if err := s.selectTool(&u, stage, tools.CapERPConnector, st); err != nil {
		return u, err
	}
	poPayload := map[string]any{
		"amount":   st.InputPayload["amount"],
		"currency": st.InputPayload["currency"],
	}
	if v, ok := st.InputPayload["po_amount"]; ok {
		poPayload["po_amount"] = v
	}
	if force, _ := st.InputPayload["force_mismatch"].(bool); force {
		poPayload["force_mismatch"] = true
	}
	po, err := s.call(ctx, &u, stage, ability.FetchPO, poPayload)
	if err != nil {
		return u, err
	}
	grn, err := s.call(ctx, &u, stage, ability.FetchGRN, map[string]any{})
	if err != nil {
		return u, err
	}
	history, err := s.call(ctx, &u, stage, ability.FetchHistory, map[string]any{"amount": st.InputPayload["amount"]})
	if err != nil {
		return u, err
	}

	var retrieved state.Retrieved
	for _, res := range []map[string]any{po, grn, history} {
		if err := ability.Decode(res, &retrieved); err != nil {
			return u, err
		}
	}
	if retrieved.MatchedPOs == nil {
		retrieved.MatchedPOs = []state.PurchaseOrder{}
	}
	if retrieved.MatchedGRNs == nil {
		retrieved.MatchedGRNs = []state.GoodsReceipt{}
	}
	if retrieved.History == nil {
		retrieved.History = []state.HistoryEntry{}
	}
	u.Retrieved = &retrieved
	return u.WithStatus(state.StatusRetrieved), nil
}

// MatchTwoWay scores the invoice against the first matched PO.
func (s *Stages) MatchTwoWay(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageMatchTwoWay

	var poAmount any
	if st.Retrieved != nil && len(st.Retrieved.MatchedPOs) > 0 {
		poAmount = st.Retrieved.MatchedPOs[0].Amount
	}
	tolerance := st.ConfigFloat(workflow.ConfigTolerancePct, workflow.DefaultTolerancePct)
	threshold := st.ConfigFloat(workflow.ConfigMatchThreshold, workflow.DefaultMatchThreshold)

	res, err := s.call(ctx, &u, stage, ability.ComputeMatchScore, map[string]any{
		"invoice_amount": st.InputPayload["amount"],
		"po_amount":      poAmount,
		"tolerance_pct":  tolerance,
	})
	if err != nil {
		return u, err
	}
	var match state.Match
	if err := ability.Decode(res, &match); err != nil {
		return u, err
	}
	status := state.StatusMismatch
	match.MatchResult = state.MatchFailed
	if match.MatchScore >= threshold {
		match.MatchResult = state.MatchMatched
		status = state.StatusMatched
	}
	s.logger.Debug("two-way match scored",
		"run_id", st.RunID, "score", match.MatchScore, "threshold", threshold, "result", match.MatchResult)
	u.Match = &match
	return u.WithStatus(status), nil
}

// Reconcile builds the accounting entries.
func (s *Stages) Reconcile(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	res, err := s.call(ctx, &u, workflow.StageReconcile, ability.BuildAccountingEntries, map[string]any{
		"amount":   st.InputPayload["amount"],
		"currency": st.InputPayload["currency"],
	})
	if err != nil {
		return u, err
	}
	var rec state.Reconcile
	if err := ability.Decode(res, &rec); err != nil {
		return u, err
	}
	rec.Report = state.ReconciliationReport{
		ReconciledAt: s.timestamp(),
		Entries:      rec.AccountingEntries,
	}
	u.Reconcile = &rec
	return u.WithStatus(state.StatusReconciled), nil
}

// Approve applies the approval policy.
func (s *Stages) Approve(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	res, err := s.call(ctx, &u, workflow.StageApprove, ability.ApplyInvoiceApprovalPolicy, map[string]any{
		"amount": st.InputPayload["amount"],
	})
	if err != nil {
		return u, err
	}
	var approval state.Approval
	if err := ability.Decode(res, &approval); err != nil {
		return u, err
	}
	u.Approval = &approval
	return u.WithStatus(state.StatusApproved), nil
}

// Posting posts to the ERP and schedules payment.
func (s *Stages) Posting(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StagePosting
	if err := s.selectTool(&u, stage, tools.CapERPConnector, st); err != nil {
		return u, err
	}
	posted, err := s.call(ctx, &u, stage, ability.PostToERP, map[string]any{})
	if err != nil {
		return u, err
	}
	payment, err := s.call(ctx, &u, stage, ability.SchedulePayment, map[string]any{"due_date": st.InputPayload["due_date"]})
	if err != nil {
		return u, err
	}
	var posting state.Posting
	for _, res := range []map[string]any{posted, payment} {
		if err := ability.Decode(res, &posting); err != nil {
			return u, err
		}
	}
	u.Posting = &posting
	return u.WithStatus(state.StatusPosted), nil
}

// Notify tells the vendor and the finance team.
func (s *Stages) Notify(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageNotify
	if err := s.selectTool(&u, stage, tools.CapEmail, st); err != nil {
		return u, err
	}
	vendor, err := s.call(ctx, &u, stage, ability.NotifyVendor, map[string]any{"vendor_name": st.InputPayload["vendor_name"]})
	if err != nil {
		return u, err
	}
	finance, err := s.call(ctx, &u, stage, ability.NotifyFinanceTeam, map[string]any{})
	if err != nil {
		return u, err
	}

	notify := state.Notify{NotifyStatus: map[string]string{}, NotifiedParties: []string{}}
	for _, res := range []map[string]any{vendor, finance} {
		var part state.Notify
		if err := ability.Decode(res, &part); err != nil {
			return u, err
		}
		for k, v := range part.NotifyStatus {
			notify.NotifyStatus[k] = v
		}
		notify.NotifiedParties = append(notify.NotifiedParties, part.NotifiedParties...)
	}
	u.Notify = &notify
	return u.WithStatus(state.StatusNotified), nil
}

// Complete builds the final payload and records the outcome.
func (s *Stages) Complete(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageComplete
	if err := s.selectTool(&u, stage, tools.CapDB, st); err != nil {
		return u, err
	}

	finalStatus := state.StatusCompleted
	if st.Status == state.StatusRequiresManualHandling ||
		(st.Human != nil && st.Human.Decision == state.DecisionReject) {
		finalStatus = state.StatusRequiresManualHandling
	}
	payload := map[string]any{
		"invoice_id":  st.InputPayload["invoice_id"],
		"vendor_name": st.InputPayload["vendor_name"],
		"amount":      st.InputPayload["amount"],
		"currency":    st.InputPayload["currency"],
		"status":      finalStatus,
		"match":       st.Match,
		"approval":    st.Approval,
		"posting":     st.Posting,
	}
	res, err := s.call(ctx, &u, stage, ability.OutputFinalPayload, map[string]any{
		"final_payload": payload,
		"status":        finalStatus,
	})
	if err != nil {
		return u, err
	}
	var out struct {
		FinalPayload map[string]any `json:"final_payload"`
	}
	if err := ability.Decode(res, &out); err != nil {
		return u, err
	}
	if out.FinalPayload == nil {
		return u, fmt.Errorf("%s returned no final_payload", ability.OutputFinalPayload)
	}

	if st.RunID != "" && s.reviews != nil {
		if _, err := s.reviews.SaveFinalResult(ctx, st.RunID, st.InputPayload, finalStatus, out.FinalPayload); err != nil {
			return u, err
		}
		u.Log(string(stage), ActionPersistFinal, map[string]any{"run_id": st.RunID, "stored": true})
	}

	audit := make([]state.LogEntry, len(st.Logs))
	copy(audit, st.Logs)
	u.Final = &state.Final{
		FinalPayload: out.FinalPayload,
		AuditLog:     audit,
		Status:       finalStatus,
	}
	return u.WithStatus(finalStatus), nil
}

func listOrEmpty(v any) any {
	if v == nil {
		return []any{}
	}
	return v
}

func lineItems(v any) []map[string]any {
	out := []map[string]any{}
	switch x := v.(type) {
	case []map[string]any:
		return append(out, x...)
	case []any:
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}
