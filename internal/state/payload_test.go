package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingInvoiceFields(t *testing.T) {
	t.Parallel()

	complete := map[string]any{
		"invoice_id": "INV-1", "vendor_name": "acme", "invoice_date": "2026-01-01",
		"amount": 12.5, "currency": "USD",
	}
	assert.Empty(t, MissingInvoiceFields(complete))

	assert.Equal(t, RequiredInvoiceFields, MissingInvoiceFields(map[string]any{}))
	assert.Equal(t, RequiredInvoiceFields, MissingInvoiceFields(nil))

	falsy := map[string]any{
		"invoice_id": "", "vendor_name": "acme", "invoice_date": false,
		"amount": 0.0, "currency": []any{},
	}
	assert.Equal(t, []string{"invoice_id", "invoice_date", "amount", "currency"}, MissingInvoiceFields(falsy))
}
