package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/invoicegate/internal/db"
	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// DefaultResultsLimit is used when ListFinalResults is called with limit <= 0.
const DefaultResultsLimit = 20

// FinalResult is one completed run as recorded by the COMPLETE stage.
type FinalResult struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	CreatedAt    time.Time      `json:"created_at"`
	InvoiceID    string         `json:"invoice_id,omitempty"`
	VendorName   string         `json:"vendor_name,omitempty"`
	Amount       *float64       `json:"amount,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	Status       string         `json:"status"`
	FinalPayload map[string]any `json:"final_payload"`
}

// SaveRawInvoice records the invoice as received. Saving the same rawID
// again replaces the row.
func (s *Store) SaveRawInvoice(ctx context.Context, rawID string, payload map[string]any) error {
	attachments := payload["attachments"]
	if attachments == nil {
		attachments = []any{}
	}
	attachBlob, err := json.Marshal(attachments)
	if err != nil {
		return gateerrors.Persistence("serialize attachments", err)
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return gateerrors.Persistence("serialize raw invoice", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_invoices
			(raw_id, created_at, invoice_id, vendor_name, amount, currency, attachments, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (raw_id) DO UPDATE SET
			created_at = excluded.created_at,
			invoice_id = excluded.invoice_id,
			vendor_name = excluded.vendor_name,
			amount = excluded.amount,
			currency = excluded.currency,
			attachments = excluded.attachments,
			payload = excluded.payload`,
		rawID, db.Timestamp(s.now()),
		nullString(payloadString(payload, "invoice_id")),
		nullString(payloadString(payload, "vendor_name")),
		nullFloat(payloadAmount(payload)),
		nullString(payloadString(payload, "currency")),
		string(attachBlob), string(blob))
	if err != nil {
		return gateerrors.Persistence("save raw invoice", err)
	}
	s.logger.Debug("raw invoice saved", "raw_id", rawID)
	return nil
}

// SaveFinalResult appends the outcome of a finished run.
func (s *Store) SaveFinalResult(ctx context.Context, runID string, payload map[string]any, status string, finalPayload map[string]any) (string, error) {
	blob, err := json.Marshal(finalPayload)
	if err != nil {
		return "", gateerrors.Persistence("serialize final payload", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO final_results
			(id, run_id, created_at, invoice_id, vendor_name, amount, currency, status, final_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, db.Timestamp(s.now()),
		nullString(payloadString(payload, "invoice_id")),
		nullString(payloadString(payload, "vendor_name")),
		nullFloat(payloadAmount(payload)),
		nullString(payloadString(payload, "currency")),
		status, string(blob))
	if err != nil {
		return "", gateerrors.Persistence("save final result", err)
	}
	s.logger.Info("final result saved", "run_id", runID, "status", status)
	return id, nil
}

// ListFinalResults returns the most recent final results, newest first.
func (s *Store) ListFinalResults(ctx context.Context, limit int) ([]FinalResult, error) {
	if limit <= 0 {
		limit = DefaultResultsLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, invoice_id, vendor_name, amount, currency, status, final_payload
		FROM final_results
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, gateerrors.Persistence("list final results", err)
	}
	defer func() { _ = rows.Close() }()

	results := []FinalResult{}
	for rows.Next() {
		var (
			r                           FinalResult
			createdAt, blob             string
			invoiceID, vendor, currency sql.NullString
			amount                      sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &createdAt, &invoiceID, &vendor, &amount, &currency, &r.Status, &blob); err != nil {
			return nil, gateerrors.Persistence("scan final result", err)
		}
		r.CreatedAt, _ = db.ParseTimestamp(createdAt)
		r.InvoiceID = invoiceID.String
		r.VendorName = vendor.String
		r.Currency = currency.String
		if amount.Valid {
			v := amount.Float64
			r.Amount = &v
		}
		if err := json.Unmarshal([]byte(blob), &r.FinalPayload); err != nil {
			return nil, gateerrors.Persistence("decode final payload", fmt.Errorf("result %s: %w", r.ID, err))
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, gateerrors.Persistence("iterate final results", err)
	}
	return results, nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadAmount(payload map[string]any) *float64 {
	f, ok := state.ToFloat(payload["amount"])
	if !ok {
		return nil
	}
	return &f
}
