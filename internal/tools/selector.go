// Package tools picks one implementation from a pool of interchangeable
// backend tools for a capability. Selection is a pure function of the seed,
// capability and invoice identity, so every process agrees without
// coordination.
package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

// Selection reasons.
const (
	ReasonPreferred = "preferred_tool"
	ReasonHash      = "deterministic_hash"
)

// Capabilities used by the built-in stages.
const (
	CapStorage      = "storage"
	CapOCR          = "ocr"
	CapEnrichment   = "enrichment"
	CapERPConnector = "erp_connector"
	CapDB           = "db"
	CapEmail        = "email"
)

// DefaultPools are the pools used when no tool configuration is loaded.
func DefaultPools() map[string][]string {
	return map[string][]string{
		CapStorage:      {"s3", "gcs", "local_fs"},
		CapOCR:          {"google_vision", "tesseract", "aws_textract"},
		CapEnrichment:   {"clearbit", "people_data_labs", "vendor_db"},
		CapERPConnector: {"sap_sandbox", "netsuite", "mock_erp"},
		CapDB:           {"postgres", "sqlite", "dynamodb"},
		CapEmail:        {"sendgrid", "smartlead", "ses"},
	}
}

// Context carries the invoice identity used for hashing.
type Context struct {
	InvoiceID     string
	VendorName    string
	Amount        *float64
	PreferredTool string
	// Tool is an alias for PreferredTool.
	Tool string
}

// Selection is the outcome of one Select call.
type Selection struct {
	Capability string   `json:"capability"`
	Tool       string   `json:"tool"`
	Pool       []string `json:"pool"`
	Reason     string   `json:"reason"`
}

// LogDetail renders the selection for an audit log entry.
func (s Selection) LogDetail() map[string]any {
	pool := make([]any, len(s.Pool))
	for i, p := range s.Pool {
		pool[i] = p
	}
	return map[string]any{
		"capability": s.Capability,
		"tool":       s.Tool,
		"pool":       pool,
		"reason":     s.Reason,
	}
}

// Selector chooses tools from configured pools.
type Selector struct {
	pools  map[string][]string
	seed   string
	logger *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithSeed sets the hash seed.
func WithSeed(seed string) Option {
	return func(s *Selector) { s.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) { s.logger = l }
}

// NewSelector creates a selector over the given pools.
func NewSelector(pools map[string][]string, opts ...Option) *Selector {
	s := &Selector{
		pools:  make(map[string][]string, len(pools)),
		logger: slog.Default(),
	}
	for k, v := range pools {
		s.pools[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select picks a tool for capability. A non-empty poolHint replaces the
// configured pool.
func (s *Selector) Select(capability string, ctx Context, poolHint []string) (Selection, error) {
	pool := poolHint
	if len(pool) == 0 {
		pool = s.pools[capability]
	}
	if len(pool) == 0 {
		return Selection{}, gateerrors.ConfigInvalid("tools.pools."+capability,
			"no tools configured for capability "+strconv.Quote(capability))
	}
	pool = append([]string(nil), pool...)

	preferred := ctx.PreferredTool
	if preferred == "" {
		preferred = ctx.Tool
	}
	if preferred != "" && contains(pool, preferred) {
		sel := Selection{Capability: capability, Tool: preferred, Pool: pool, Reason: ReasonPreferred}
		s.logger.Debug("tool selected", "capability", capability, "tool", preferred, "reason", sel.Reason)
		return sel, nil
	}

	idx := hashIndex(s.key(capability, ctx), len(pool))
	sel := Selection{Capability: capability, Tool: pool[idx], Pool: pool, Reason: ReasonHash}
	s.logger.Debug("tool selected", "capability", capability, "tool", sel.Tool, "reason", sel.Reason)
	return sel, nil
}

func (s *Selector) key(capability string, ctx Context) string {
	amount := ""
	if ctx.Amount != nil {
		amount = strconv.FormatFloat(*ctx.Amount, 'g', -1, 64)
	}
	return strings.Join([]string{s.seed, capability, ctx.InvoiceID, ctx.VendorName, amount}, "|")
}

// hashIndex maps key onto [0, n) using the first 32 bits of its SHA-256.
func hashIndex(key string, n int) int {
	sum := sha256.Sum256([]byte(key))
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:4]), 16, 32)
	return int(v % uint64(n))
}

func contains(pool []string, tool string) bool {
	for _, p := range pool {
		if p == tool {
			return true
		}
	}
	return false
}

// Validate checks that every configured pool is non-empty.
func Validate(pools map[string][]string) error {
	names := make([]string, 0, len(pools))
	for k := range pools {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(pools[name]) == 0 {
			return gateerrors.ConfigInvalid("tools.pools."+name, "pool is empty")
		}
		for _, tool := range pools[name] {
			if strings.TrimSpace(tool) == "" {
				return gateerrors.ConfigInvalid("tools.pools."+name, "pool contains a blank tool name")
			}
		}
	}
	return nil
}

// Pools returns a copy of the configured pools.
func (s *Selector) Pools() map[string][]string {
	out := make(map[string][]string, len(s.pools))
	for k, v := range s.pools {
		out[k] = append([]string(nil), v...)
	}
	return out
}
