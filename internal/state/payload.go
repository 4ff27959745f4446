package state

// RequiredInvoiceFields must be present and non-empty on a submitted invoice.
var RequiredInvoiceFields = []string{"invoice_id", "vendor_name", "invoice_date", "amount", "currency"}

// MissingInvoiceFields returns the required fields that are absent or
// empty, in declaration order. Zero and false count as empty.
func MissingInvoiceFields(payload map[string]any) []string {
	var missing []string
	for _, f := range RequiredInvoiceFields {
		if isEmpty(payload[f]) {
			missing = append(missing, f)
		}
	}
	return missing
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
