package checkpoint

import (
	"encoding/json"
	"fmt"
)

// Serialization tags stored in the type columns.
const (
	TypeJSON  = "json"
	TypeBytes = "bytes"
)

// Serde converts values to and from tagged blobs.
type Serde interface {
	DumpsTyped(v any) (string, []byte, error)
	LoadsTyped(typeTag string, data []byte, out any) error
}

// JSONSerde stores raw byte slices as-is and everything else as JSON.
type JSONSerde struct{}

// DumpsTyped serializes v and returns its type tag.
func (JSONSerde) DumpsTyped(v any) (string, []byte, error) {
	switch b := v.(type) {
	case []byte:
		return TypeBytes, b, nil
	case json.RawMessage:
		return TypeJSON, b, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("serialize %T: %w", v, err)
	}
	return TypeJSON, data, nil
}

// LoadsTyped decodes data into out. An empty tag is read as bytes, which
// is how rows written before typed serialization are stored.
func (JSONSerde) LoadsTyped(typeTag string, data []byte, out any) error {
	if typeTag == "" {
		typeTag = TypeBytes
	}
	switch typeTag {
	case TypeJSON:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode json blob: %w", err)
		}
		return nil
	case TypeBytes:
		if p, ok := out.(*[]byte); ok {
			*p = append([]byte(nil), data...)
			return nil
		}
		// Untagged legacy rows usually hold JSON.
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode bytes blob into %T: %w", out, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown serialization type %q", typeTag)
	}
}
