package state

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cfg := map[string]any{"match_threshold": 0.9}
	s := New("", "", cfg, map[string]any{"invoice_id": "INV-1"})

	assert.Regexp(t, regexp.MustCompile(`^run_[0-9a-f]{10}$`), s.RunID)
	assert.Equal(t, DefaultWorkflowName, s.WorkflowName)
	assert.Equal(t, StatusNew, s.Status)
	assert.NotNil(t, s.Logs)
	assert.Equal(t, "INV-1", s.PayloadString("invoice_id"))

	// Config is copied, not aliased.
	cfg["match_threshold"] = 0.5
	assert.InDelta(t, 0.9, s.ConfigFloat("match_threshold", 0), 1e-9)
}

func TestNewKeepsRunID(t *testing.T) {
	t.Parallel()
	s := New("run_custom", "Flow", nil, nil)
	assert.Equal(t, "run_custom", s.RunID)
	assert.Equal(t, "Flow", s.WorkflowName)
	assert.NotNil(t, s.InputPayload)
}

func fullState() *WorkflowState {
	s := New("run_abcdef0123", "InvoiceProcessing",
		map[string]any{"match_threshold": 0.9, "two_way_tolerance_pct": 5.0},
		map[string]any{
			"invoice_id":  "INV-1",
			"vendor_name": "acme corp",
			"amount":      100.0,
			"line_items":  []any{map[string]any{"desc": "widget", "amount": 100.0}},
		})
	s.Status = StatusPaused
	s.ResumeFrom = "HITL_DECISION"
	s.Logs = []LogEntry{{Stage: "INTAKE", Action: "ability", Detail: map[string]any{"raw_id": "raw_1"}}}
	s.Raw = &Raw{RawID: "raw_1", IngestTS: "2026-01-01T00:00:00Z", Validated: true}
	s.Parsed = &Parsed{
		InvoiceText:     "OCR(a.pdf)",
		ParsedLineItems: []map[string]any{{"desc": "widget", "amount": 100.0}},
		DetectedPOs:     []string{"PO-1"},
		Currency:        "USD",
		ParsedDates:     ParsedDates{InvoiceDate: "2026-01-01", DueDate: "2026-02-01"},
	}
	s.Vendor = &Vendor{
		NormalizedName:    "Acme Corp",
		TaxID:             "TX-1",
		Enrichment:        &Enrichment{VendorName: "acme corp", CreditScore: 0.72, RiskScore: 0.28, EnrichmentTS: "t"},
		NormalizedInvoice: &NormalizedInvoice{Amount: 100, Currency: "USD"},
	}
	s.Flags = &Flags{MissingInfo: []string{"vendor_tax_id"}, RiskScore: 0.25}
	s.Retrieved = &Retrieved{
		MatchedPOs:  []PurchaseOrder{{POID: "PO-1", Amount: 60, Currency: "USD"}},
		MatchedGRNs: []GoodsReceipt{{GRNID: "GRN-1", Status: "RECEIVED"}},
		History:     []HistoryEntry{{InvoiceID: "HIST-1", Amount: 100, Status: "PAID"}},
	}
	s.Match = &Match{MatchScore: 0, TolerancePct: 5, Evidence: MatchEvidence{InvoiceAmount: 100, POAmount: 60}, MatchResult: MatchFailed}
	s.Checkpoint = &Checkpoint{CheckpointID: "chk_1", ReviewURL: "http://x/human-review/pending", PausedReason: "2-way match failed"}
	s.Human = &Human{Decision: DecisionAccept, ReviewerID: "r1", ResumeToken: "resume_1", NextStage: "RECONCILE"}
	s.Reconcile = &Reconcile{
		AccountingEntries: []AccountingEntry{{Type: "DEBIT", Account: "Expense", Amount: 100, Currency: "USD"}},
		Report:            ReconciliationReport{ReconciledAt: "t", Entries: []AccountingEntry{{Type: "DEBIT", Account: "Expense", Amount: 100, Currency: "USD"}}},
	}
	s.Approval = &Approval{ApprovalStatus: "APPROVED", ApproverID: "AUTO"}
	s.Posting = &Posting{Posted: true, ERPTxnID: "ERP-1", ScheduledPaymentID: "PAY-1"}
	s.Notify = &Notify{NotifyStatus: map[string]string{"vendor": "SENT"}, NotifiedParties: []string{"acme corp"}}
	s.Final = &Final{FinalPayload: map[string]any{"status": "COMPLETED"}, AuditLog: []LogEntry{}, Status: StatusCompleted}
	return s
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	s := fullState()
	data, err := s.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestMarshalRoundTripEmptyNamespaces(t *testing.T) {
	t.Parallel()

	s := New("run_0000000000", "", nil, nil)
	data, err := s.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"match"`)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestUnmarshalInvalid(t *testing.T) {
	t.Parallel()
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}

func TestMergePreservesAbsentNamespaces(t *testing.T) {
	t.Parallel()

	s := New("run_1", "", nil, nil)
	s.Raw = &Raw{RawID: "raw_1"}
	s.Match = &Match{MatchResult: MatchFailed, MatchScore: 0.2}

	var u Update
	u.Match = &Match{MatchResult: MatchMatched}
	u.Log("MATCH_TWO_WAY", "ability", map[string]any{"k": "v"})
	Merge(s, u.WithStatus(StatusMatched))

	assert.Equal(t, StatusMatched, s.Status)
	assert.Equal(t, "raw_1", s.Raw.RawID)
	// Namespace replaced wholesale, no field-level merge.
	assert.Equal(t, MatchMatched, s.Match.MatchResult)
	assert.Zero(t, s.Match.MatchScore)
	require.Len(t, s.Logs, 1)
	assert.Equal(t, "MATCH_TWO_WAY", s.Logs[0].Stage)
}

func TestMergeWithoutStatusKeepsStatus(t *testing.T) {
	t.Parallel()
	s := New("run_1", "", nil, nil)
	s.Status = StatusMismatch
	Merge(s, Update{})
	assert.Equal(t, StatusMismatch, s.Status)
	assert.Empty(t, s.Logs)
}

func TestTouched(t *testing.T) {
	t.Parallel()
	u := Update{Vendor: &Vendor{}, Flags: &Flags{}}
	touched := u.Touched()
	require.Len(t, touched, 2)
	assert.Equal(t, NSVendor, touched[0].Name)
	assert.Equal(t, NSFlags, touched[1].Name)
	assert.Empty(t, Update{}.Touched())
}

func TestClone(t *testing.T) {
	t.Parallel()
	s := fullState()
	c, err := s.Clone()
	require.NoError(t, err)
	c.Match.MatchResult = MatchMatched
	assert.Equal(t, MatchFailed, s.Match.MatchResult)
}

func TestToFloat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{100.5, 100.5, true},
		{42, 42, true},
		{int64(7), 7, true},
		{"12.5", 12.5, true},
		{"abc", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "%v", tt.in)
	}
}
