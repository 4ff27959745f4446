// Package ability dispatches stage work to ability servers.
//
// Abilities are a closed set of identifiers. Each server registers a
// function per ability it serves; the Router picks the server from the
// workflow's ability map and tags every result with _meta.
package ability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

// ID names one ability.
type ID string

// Abilities served by the built-in servers.
const (
	AcceptInvoicePayload       ID = "accept_invoice_payload"
	ParseLineItems             ID = "parse_line_items"
	NormalizeVendor            ID = "normalize_vendor"
	ComputeFlags               ID = "compute_flags"
	ComputeMatchScore          ID = "compute_match_score"
	BuildAccountingEntries     ID = "build_accounting_entries"
	OutputFinalPayload         ID = "output_final_payload"
	OCRExtract                 ID = "ocr_extract"
	EnrichVendor               ID = "enrich_vendor"
	FetchPO                    ID = "fetch_po"
	FetchGRN                   ID = "fetch_grn"
	FetchHistory               ID = "fetch_history"
	ApplyInvoiceApprovalPolicy ID = "apply_invoice_approval_policy"
	PostToERP                  ID = "post_to_erp"
	SchedulePayment            ID = "schedule_payment"
	NotifyVendor               ID = "notify_vendor"
	NotifyFinanceTeam          ID = "notify_finance_team"
)

// Server names an ability server.
type Server string

// Built-in servers.
const (
	ServerCommon Server = "COMMON"
	ServerAtlas  Server = "ATLAS"
)

// MetaKey is the result key carrying {server, ability}.
const MetaKey = "_meta"

var defaultServers = map[ID]Server{
	AcceptInvoicePayload:       ServerCommon,
	ParseLineItems:             ServerCommon,
	NormalizeVendor:            ServerCommon,
	ComputeFlags:               ServerCommon,
	ComputeMatchScore:          ServerCommon,
	BuildAccountingEntries:     ServerCommon,
	OutputFinalPayload:         ServerCommon,
	OCRExtract:                 ServerAtlas,
	EnrichVendor:               ServerAtlas,
	FetchPO:                    ServerAtlas,
	FetchGRN:                   ServerAtlas,
	FetchHistory:               ServerAtlas,
	ApplyInvoiceApprovalPolicy: ServerAtlas,
	PostToERP:                  ServerAtlas,
	SchedulePayment:            ServerAtlas,
	NotifyVendor:               ServerAtlas,
	NotifyFinanceTeam:          ServerAtlas,
}

// All returns every known ability, sorted.
func All() []ID {
	ids := make([]ID, 0, len(defaultServers))
	for id := range defaultServers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Valid reports whether id is a known ability.
func (id ID) Valid() bool {
	_, ok := defaultServers[id]
	return ok
}

// DefaultServer is the server that serves id when the ability map is silent.
func (id ID) DefaultServer() Server {
	return defaultServers[id]
}

// ParseServer normalizes a server name. Only COMMON and ATLAS are known.
func ParseServer(name string) (Server, error) {
	s := Server(strings.ToUpper(strings.TrimSpace(name)))
	switch s {
	case ServerCommon, ServerAtlas:
		return s, nil
	}
	return "", gateerrors.ConfigInvalid("server", fmt.Sprintf("unsupported ability server %q", name))
}

// Validate converts a workflow ability map into typed form. Unknown
// abilities and servers are configuration errors.
func Validate(abilityMap map[string]string) (map[ID]Server, error) {
	out := make(map[ID]Server, len(abilityMap))
	for name, server := range abilityMap {
		id := ID(name)
		if !id.Valid() {
			return nil, gateerrors.ConfigInvalid("ability_map", fmt.Sprintf("unknown ability %q", name))
		}
		s, err := ParseServer(server)
		if err != nil {
			return nil, gateerrors.ConfigInvalid("ability_map", fmt.Sprintf("ability %q: unsupported server %q", name, server))
		}
		out[id] = s
	}
	return out, nil
}

// Provider executes abilities on one server.
type Provider interface {
	Execute(ctx context.Context, id ID, payload map[string]any) (map[string]any, error)
}

// Func implements one ability.
type Func func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry is a Provider backed by a table of functions.
type Registry struct {
	server Server
	funcs  map[ID]Func
}

// NewRegistry creates an empty registry for server.
func NewRegistry(server Server) *Registry {
	return &Registry{server: server, funcs: make(map[ID]Func)}
}

// Register binds fn to id. Registering an unknown ability panics.
func (r *Registry) Register(id ID, fn Func) *Registry {
	if !id.Valid() {
		panic(fmt.Sprintf("ability: register unknown ability %q", id))
	}
	r.funcs[id] = fn
	return r
}

// Server returns the server name.
func (r *Registry) Server() Server { return r.server }

// Serves reports whether id is registered.
func (r *Registry) Serves(id ID) bool {
	_, ok := r.funcs[id]
	return ok
}

// Abilities returns the registered abilities, sorted.
func (r *Registry) Abilities() []ID {
	ids := make([]ID, 0, len(r.funcs))
	for id := range r.funcs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Execute runs the ability and tags the result with _meta.
func (r *Registry) Execute(ctx context.Context, id ID, payload map[string]any) (map[string]any, error) {
	fn, ok := r.funcs[id]
	if !ok {
		return nil, gateerrors.Ability(string(r.server), string(id), fmt.Errorf("not served by %s", r.server))
	}
	if payload == nil {
		payload = map[string]any{}
	}
	result, err := fn(ctx, payload)
	if err != nil {
		return nil, gateerrors.Ability(string(r.server), string(id), err)
	}
	if result == nil {
		result = map[string]any{}
	}
	result[MetaKey] = map[string]any{"server": string(r.server), "ability": string(id)}
	return result, nil
}

// Decode converts an ability result into a typed value. Unknown keys,
// including _meta, are ignored.
func Decode(result map[string]any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode ability result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode ability result into %T: %w", out, err)
	}
	return nil
}
