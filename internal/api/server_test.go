package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/invoicegate/internal/db"
	"github.com/randalmurphal/invoicegate/internal/events"
	"github.com/randalmurphal/invoicegate/internal/executor"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

func newTestServer(t *testing.T) (*Server, *events.MemoryPublisher) {
	t.Helper()
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	rt, err := executor.Assemble(executor.Components{
		DB:         db.NewTestDB(t),
		Definition: workflow.DefaultDefinition(),
		AppURL:     "http://review.local",
		Publisher:  pub,
	})
	require.NoError(t, err)

	srv, err := New(Config{Runtime: rt, Publisher: pub})
	require.NoError(t, err)
	return srv, pub
}

func invoiceBody(amount, poAmount float64) map[string]any {
	return map[string]any{
		"invoice_id":   "INV-3001",
		"vendor_name":  "globex",
		"invoice_date": "2026-05-02",
		"amount":       amount,
		"po_amount":    poAmount,
		"currency":     "EUR",
		"line_items":   []any{map[string]any{"sku": "G-9", "qty": 2.0, "unit_price": amount / 2}},
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNew_RequiresRuntime(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestSubmit_MatchedInvoiceCompletes(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/invoice/submit", invoiceBody(80, 80))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "COMPLETED", resp["status"])
	assert.Regexp(t, `^run_[0-9a-f]{10}$`, resp["run_id"])
	assert.Nil(t, resp["checkpoint"])
	assert.Equal(t, "MATCHED", resp["match"].(map[string]any)["match_result"])
	assert.Equal(t, "COMPLETED", resp["final"].(map[string]any)["status"])

	rec = doJSON(t, srv, http.MethodGet, "/final-results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[map[string][]map[string]any](t, rec)["items"]
	require.Len(t, items, 1)
	assert.Equal(t, resp["run_id"], items[0]["run_id"])
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"not an object", `[1,2]`, "Invoice payload must be a JSON object."},
		{"malformed", `{"invoice_id":`, "Invoice payload must be a JSON object."},
		{"null", `null`, "Invoice payload must be a JSON object."},
		{
			"missing fields",
			`{"invoice_id":"INV-1","vendor_name":"","amount":0,"currency":"USD"}`,
			"Missing required fields: vendor_name, invoice_date, amount",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/invoice/submit", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.detail, decode[APIError](t, rec).Detail)
		})
	}

	rec := doJSON(t, srv, http.MethodGet, "/final-results", nil)
	assert.Empty(t, decode[map[string][]any](t, rec)["items"])
}

func TestReviewFlow(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/invoice/submit", invoiceBody(100, 60))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	submitted := decode[map[string]any](t, rec)
	assert.Equal(t, "PAUSED", submitted["status"])
	chk := submitted["checkpoint"].(map[string]any)
	chkID := chk["checkpoint_id"].(string)
	assert.Equal(t, "http://review.local/human-review/pending", chk["review_url"])
	assert.Nil(t, submitted["final"])

	rec = doJSON(t, srv, http.MethodGet, "/human-review/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[map[string][]map[string]any](t, rec)["items"]
	require.Len(t, pending, 1)
	assert.Equal(t, chkID, pending[0]["checkpoint_id"])
	assert.Equal(t, "INV-3001", pending[0]["invoice_id"])
	assert.Equal(t, 100.0, pending[0]["amount"])

	rec = doJSON(t, srv, http.MethodPost, "/human-review/decision", DecisionRequest{
		CheckpointID: chkID, Decision: "ACCEPT", Notes: "approved by phone", ReviewerID: "rev-9",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decode[DecisionResponse](t, rec)
	assert.Regexp(t, `^resume_[0-9a-f]{10}$`, decided.ResumeToken)
	assert.Equal(t, "RECONCILE", decided.NextStage)
	require.NotNil(t, decided.WorkflowStatus)
	assert.Equal(t, "COMPLETED", *decided.WorkflowStatus)

	rec = doJSON(t, srv, http.MethodGet, "/human-review/pending", nil)
	assert.Empty(t, decode[map[string][]any](t, rec)["items"])

	rec = doJSON(t, srv, http.MethodPost, "/human-review/decision", DecisionRequest{
		CheckpointID: chkID, Decision: "REJECT", ReviewerID: "rev-9",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RESOLVED", decode[APIError](t, rec).Code)

	rec = doJSON(t, srv, http.MethodGet, "/final-results?limit=5", nil)
	items := decode[map[string][]map[string]any](t, rec)["items"]
	require.Len(t, items, 1)
	assert.Equal(t, "COMPLETED", items[0]["status"])
}

func TestDecision_Validation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing fields", DecisionRequest{Decision: "ACCEPT"}, http.StatusBadRequest, ""},
		{"bad decision", DecisionRequest{CheckpointID: "chk_1", Decision: "MAYBE", ReviewerID: "r"}, http.StatusBadRequest, "INVALID_DECISION"},
		{"unknown checkpoint", DecisionRequest{CheckpointID: "chk_1", Decision: "ACCEPT", ReviewerID: "r"}, http.StatusNotFound, "NOT_FOUND"},
		{"not an object", "ACCEPT", http.StatusBadRequest, "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/human-review/decision", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[APIError](t, rec).Code)
		})
	}
}

func TestDecisionHelp(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/human-review/decision", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "This endpoint expects POST with JSON body.", resp["detail"])
	assert.Equal(t, map[string]any{
		"checkpoint_id": "chk_123",
		"decision":      "ACCEPT",
		"notes":         "ok",
		"reviewer_id":   "reviewer_1",
	}, resp["example"])
}

func TestFinalResults_BadLimit(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	for _, q := range []string{"abc", "0", "-3"} {
		rec := doJSON(t, srv, http.MethodGet, "/final-results?limit="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/invoice/submit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
