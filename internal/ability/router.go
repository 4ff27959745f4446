package ability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

const tracerName = "github.com/randalmurphal/invoicegate/internal/ability"

// Router sends ability calls to the provider of the named server.
type Router struct {
	providers  map[Server]Provider
	abilityMap map[ID]Server
	tracer     trace.Tracer
	logger     *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProvider registers p as the provider for server.
func WithProvider(server Server, p Provider) RouterOption {
	return func(r *Router) { r.providers[server] = p }
}

// WithAbilityMap overrides the default server of individual abilities.
func WithAbilityMap(m map[ID]Server) RouterOption {
	return func(r *Router) {
		for id, s := range m {
			r.abilityMap[id] = s
		}
	}
}

// WithTracer sets the tracer used for ability spans.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router. Without WithProvider options it has no
// servers; use NewDemoRouter for the built-in ones.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[Server]Provider),
		abilityMap: make(map[ID]Server),
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDemoRouter returns a router over the built-in COMMON and ATLAS servers.
func NewDemoRouter(opts ...RouterOption) *Router {
	base := []RouterOption{
		WithProvider(ServerCommon, NewCommon()),
		WithProvider(ServerAtlas, NewAtlas()),
	}
	return NewRouter(append(base, opts...)...)
}

// ServerFor returns the server that handles id.
func (r *Router) ServerFor(id ID) Server {
	if s, ok := r.abilityMap[id]; ok {
		return s
	}
	return id.DefaultServer()
}

// CheckServed verifies that every ability resolves to a registered
// provider.
func (r *Router) CheckServed(ids ...ID) error {
	for _, id := range ids {
		s := r.ServerFor(id)
		if _, ok := r.providers[s]; !ok {
			return gateerrors.ConfigInvalid("ability_map", fmt.Sprintf("ability %q routes to %s, which has no provider", id, s))
		}
	}
	return nil
}

// Call invokes id on the server chosen by the ability map.
func (r *Router) Call(ctx context.Context, id ID, payload map[string]any) (map[string]any, error) {
	return r.Invoke(ctx, string(r.ServerFor(id)), id, payload)
}

// Invoke runs id on the named server. Server names are case-insensitive.
func (r *Router) Invoke(ctx context.Context, server string, id ID, payload map[string]any) (map[string]any, error) {
	s, err := ParseServer(server)
	if err != nil {
		return nil, err
	}
	p, ok := r.providers[s]
	if !ok {
		return nil, gateerrors.ConfigInvalid("server", fmt.Sprintf("no provider registered for %s", s))
	}

	ctx, span := r.tracer.Start(ctx, "ability."+string(id),
		trace.WithAttributes(
			attribute.String("ability.server", string(s)),
			attribute.String("ability.id", string(id)),
		))
	defer span.End()

	result, err := p.Execute(ctx, id, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("ability failed", "server", s, "ability", id, "error", err)
		return nil, err
	}
	r.logger.Debug("ability executed", "server", s, "ability", id)
	return result, nil
}
