package state

// Raw is written by INTAKE.
type Raw struct {
	RawID     string `json:"raw_id"`
	IngestTS  string `json:"ingest_ts"`
	Validated bool   `json:"validated"`
}

// Parsed is written by UNDERSTAND.
type Parsed struct {
	InvoiceText     string           `json:"invoice_text"`
	ParsedLineItems []map[string]any `json:"parsed_line_items"`
	DetectedPOs     []string         `json:"detected_pos"`
	Currency        string           `json:"currency"`
	ParsedDates     ParsedDates      `json:"parsed_dates"`
}

// ParsedDates holds the dates lifted from the payload.
type ParsedDates struct {
	InvoiceDate string `json:"invoice_date,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Vendor is written by PREPARE.
type Vendor struct {
	NormalizedName    string             `json:"normalized_name"`
	TaxID             string             `json:"tax_id,omitempty"`
	Enrichment        *Enrichment        `json:"enrichment_meta,omitempty"`
	NormalizedInvoice *NormalizedInvoice `json:"normalized_invoice,omitempty"`
}

// Enrichment is the vendor profile returned by the enrichment ability.
type Enrichment struct {
	VendorName   string  `json:"vendor_name"`
	CreditScore  float64 `json:"credit_score"`
	RiskScore    float64 `json:"risk_score"`
	EnrichmentTS string  `json:"enrichment_ts"`
}

// NormalizedInvoice is the invoice core used by later stages.
type NormalizedInvoice struct {
	Amount    float64          `json:"amount"`
	Currency  string           `json:"currency"`
	LineItems []map[string]any `json:"line_items"`
}

// Flags is written by PREPARE.
type Flags struct {
	MissingInfo []string `json:"missing_info"`
	RiskScore   float64  `json:"risk_score"`
}

// Retrieved is written by RETRIEVE.
type Retrieved struct {
	MatchedPOs  []PurchaseOrder `json:"matched_pos"`
	MatchedGRNs []GoodsReceipt  `json:"matched_grns"`
	History     []HistoryEntry  `json:"history"`
}

// PurchaseOrder is a matched purchase order.
type PurchaseOrder struct {
	POID     string  `json:"po_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// GoodsReceipt is a matched goods receipt note.
type GoodsReceipt struct {
	GRNID  string `json:"grn_id"`
	Status string `json:"status"`
}

// HistoryEntry is a prior invoice from the same vendor.
type HistoryEntry struct {
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
}

// Match results.
const (
	MatchMatched = "MATCHED"
	MatchFailed  = "FAILED"
)

// Match is written by MATCH_TWO_WAY.
type Match struct {
	MatchScore   float64       `json:"match_score"`
	TolerancePct float64       `json:"tolerance_pct"`
	Evidence     MatchEvidence `json:"match_evidence"`
	MatchResult  string        `json:"match_result"`
}

// MatchEvidence records the amounts compared.
type MatchEvidence struct {
	InvoiceAmount float64 `json:"invoice_amount"`
	POAmount      float64 `json:"po_amount"`
}

// Checkpoint references the review record created by CHECKPOINT_HITL.
type Checkpoint struct {
	CheckpointID string `json:"checkpoint_id"`
	ReviewURL    string `json:"review_url"`
	PausedReason string `json:"paused_reason"`
}

// Human decisions as seen by HITL_DECISION.
const (
	DecisionAccept  = "ACCEPT"
	DecisionReject  = "REJECT"
	DecisionPending = "PENDING"
	DecisionUnknown = "UNKNOWN"
)

// Human is written by HITL_DECISION.
type Human struct {
	Decision    string `json:"human_decision"`
	ReviewerID  string `json:"reviewer_id,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
	NextStage   string `json:"next_stage"`
}

// Reconcile is written by RECONCILE.
type Reconcile struct {
	AccountingEntries []AccountingEntry    `json:"accounting_entries"`
	Report            ReconciliationReport `json:"reconciliation_report"`
}

// AccountingEntry is one side of a double-entry posting.
type AccountingEntry struct {
	Type     string  `json:"type"`
	Account  string  `json:"account"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// ReconciliationReport summarizes the reconciliation.
type ReconciliationReport struct {
	ReconciledAt string            `json:"reconciled_at"`
	Entries      []AccountingEntry `json:"entries"`
}

// Approval is written by APPROVE.
type Approval struct {
	ApprovalStatus string `json:"approval_status"`
	ApproverID     string `json:"approver_id"`
}

// Posting is written by POSTING.
type Posting struct {
	Posted             bool   `json:"posted"`
	ERPTxnID           string `json:"erp_txn_id"`
	ScheduledPaymentID string `json:"scheduled_payment_id"`
}

// Notify is written by NOTIFY.
type Notify struct {
	NotifyStatus    map[string]string `json:"notify_status"`
	NotifiedParties []string          `json:"notified_parties"`
}

// Final is written by COMPLETE.
type Final struct {
	FinalPayload map[string]any `json:"final_payload"`
	AuditLog     []LogEntry     `json:"audit_log"`
	Status       string         `json:"status"`
}
