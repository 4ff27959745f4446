package ability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

func meta(t *testing.T, result map[string]any) map[string]any {
	t.Helper()
	m, ok := result[MetaKey].(map[string]any)
	require.True(t, ok, "result carries _meta")
	return m
}

func TestEveryAbilityIsServedByItsDefaultServer(t *testing.T) {
	t.Parallel()
	common, atlas := NewCommon(), NewAtlas()
	for _, id := range All() {
		switch id.DefaultServer() {
		case ServerCommon:
			assert.True(t, common.Serves(id), "%s on COMMON", id)
		case ServerAtlas:
			assert.True(t, atlas.Serves(id), "%s on ATLAS", id)
		default:
			t.Errorf("ability %s has no default server", id)
		}
	}
	assert.Len(t, append(common.Abilities(), atlas.Abilities()...), len(All()))
}

func TestRouterInvokeTagsMeta(t *testing.T) {
	t.Parallel()
	r := NewDemoRouter()

	res, err := r.Invoke(context.Background(), " atlas ", FetchGRN, nil)
	require.NoError(t, err)
	m := meta(t, res)
	assert.Equal(t, "ATLAS", m["server"])
	assert.Equal(t, "fetch_grn", m["ability"])

	_, err = r.Invoke(context.Background(), "BOGUS", FetchGRN, nil)
	assert.True(t, errors.Is(err, gateerrors.ErrConfig))
}

func TestRouterWrongServer(t *testing.T) {
	t.Parallel()
	r := NewDemoRouter()
	_, err := r.Invoke(context.Background(), "COMMON", FetchPO, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateerrors.ErrAbilityFailed))
}

func TestRouterAbilityMap(t *testing.T) {
	t.Parallel()
	m, err := Validate(map[string]string{"compute_match_score": "atlas"})
	require.NoError(t, err)

	atlas := NewAtlas().Register(ComputeMatchScore, computeMatchScore)
	r := NewRouter(
		WithProvider(ServerCommon, NewCommon()),
		WithProvider(ServerAtlas, atlas),
		WithAbilityMap(m),
	)
	assert.Equal(t, ServerAtlas, r.ServerFor(ComputeMatchScore))
	assert.Equal(t, ServerCommon, r.ServerFor(NormalizeVendor))

	res, err := r.Call(context.Background(), ComputeMatchScore, map[string]any{
		"invoice_amount": 100.0, "po_amount": 100.0, "tolerance_pct": 5.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "ATLAS", meta(t, res)["server"])
	assert.Equal(t, 1.0, res["match_score"])
}

func TestValidate(t *testing.T) {
	t.Parallel()
	_, err := Validate(map[string]string{"shred_invoice": "COMMON"})
	assert.True(t, errors.Is(err, gateerrors.ErrConfig))

	_, err = Validate(map[string]string{"fetch_po": "MARS"})
	assert.True(t, errors.Is(err, gateerrors.ErrConfig))

	m, err := Validate(nil)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestCheckServed(t *testing.T) {
	t.Parallel()
	r := NewRouter(WithProvider(ServerCommon, NewCommon()))
	assert.NoError(t, r.CheckServed(ComputeFlags))
	assert.True(t, errors.Is(r.CheckServed(FetchPO), gateerrors.ErrConfig))
}

func TestRegistryFailureIsWrapped(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(ServerAtlas).Register(PostToERP, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("erp offline")
	})
	_, err := reg.Execute(context.Background(), PostToERP, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateerrors.ErrAbilityFailed))
	assert.Contains(t, err.Error(), "erp offline")
}

func TestRegisterUnknownPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewRegistry(ServerCommon).Register("nope", computeFlags) })
}

func TestRouterRecordsSpans(t *testing.T) {
	t.Parallel()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	r := NewDemoRouter(WithTracer(tp.Tracer("test")))

	_, err := r.Call(context.Background(), PostToERP, nil)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ability.post_to_erp", spans[0].Name())
}

func TestMatchScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		inv, po, tol float64
		want         float64
	}{
		{name: "exact", inv: 100, po: 100, tol: 5, want: 1},
		{name: "within tolerance", inv: 102, po: 100, tol: 5, want: 0.6},
		{name: "far off", inv: 100, po: 60, tol: 5, want: 0},
		{name: "zero po", inv: 100, po: 0, tol: 5, want: 0},
		{name: "zero tolerance uses one", inv: 100.5, po: 100, tol: 0, want: 0.5},
		{name: "sub-one tolerance clamps to one", inv: 100.5, po: 100, tol: 0.2, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MatchScore(tt.inv, tt.po, tt.tol), 1e-9)
		})
	}
}

func TestComputeFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	res, err := computeFlags(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor_tax_id", "line_items", "amount"}, res["missing_info"])
	assert.InDelta(t, 0.55, res["risk_score"], 1e-9)

	res, err = computeFlags(ctx, map[string]any{
		"vendor_tax_id": "TX-1",
		"line_items":    []any{map[string]any{"sku": "A"}},
		"amount":        10.0,
	})
	require.NoError(t, err)
	assert.Empty(t, res["missing_info"])
	assert.InDelta(t, 0.1, res["risk_score"], 1e-9)
}

func TestAcceptInvoicePayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	full := map[string]any{
		"invoice_id": "INV-1", "vendor_name": "Acme", "invoice_date": "2026-01-01",
		"amount": 100.0, "currency": "USD",
	}
	res, err := acceptInvoicePayload(ctx, map[string]any{"invoice": full})
	require.NoError(t, err)
	assert.Equal(t, true, res["validated"])
	assert.True(t, strings.HasPrefix(res["raw_id"].(string), "raw_"))
	assert.Len(t, res["raw_id"], len("raw_")+12)

	delete(full, "currency")
	res, err = acceptInvoicePayload(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, false, res["validated"])
}

func TestNormalizeVendor(t *testing.T) {
	t.Parallel()
	res, err := normalizeVendor(context.Background(), map[string]any{"vendor_name": "  aCME   widgets inc ", "vendor_tax_id": "TX"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Widgets Inc", res["normalized_name"])
	assert.Equal(t, "TX", res["tax_id"])
}

func TestPOAmount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 60.0, POAmount(map[string]any{"amount": 100.0, "po_amount": 60.0}))
	assert.InDelta(t, 70.0, POAmount(map[string]any{"amount": 100.0, "force_mismatch": true}), 1e-9)
	assert.Equal(t, 100.0, POAmount(map[string]any{"amount": 100.0}))
	assert.Equal(t, 100.0, POAmount(map[string]any{"amount": 100.0, "po_amount": "n/a"}))
}

func TestApprovalPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	res, err := applyApprovalPolicy(ctx, map[string]any{"amount": 10000.0})
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, res["approval_status"])
	assert.Equal(t, ApproverAuto, res["approver_id"])

	res, err = applyApprovalPolicy(ctx, map[string]any{"amount": 10000.01})
	require.NoError(t, err)
	assert.Equal(t, ApprovalEscalated, res["approval_status"])
	assert.Equal(t, ApproverFinance, res["approver_id"])
}

func TestOCRExtract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	res, err := ocrExtract(ctx, map[string]any{"attachments": []any{"a.pdf", "b.png"}})
	require.NoError(t, err)
	assert.Equal(t, "OCR(a.pdf) OCR(b.png)", res["invoice_text"])
	assert.Equal(t, "USD", res["currency"])

	res, err = ocrExtract(ctx, map[string]any{"currency": "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "OCR(NO_ATTACHMENTS)", res["invoice_text"])
	assert.Equal(t, "EUR", res["currency"])
}

func TestDecode(t *testing.T) {
	t.Parallel()
	var out struct {
		Posted bool   `json:"posted"`
		TxnID  string `json:"erp_txn_id"`
	}
	res, err := NewAtlas().Execute(context.Background(), PostToERP, nil)
	require.NoError(t, err)
	require.NoError(t, Decode(res, &out))
	assert.True(t, out.Posted)
	assert.True(t, strings.HasPrefix(out.TxnID, "ERP-"))
}
