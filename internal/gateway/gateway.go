package gateway

import (
	"fmt"
	"net/http"
	"sort"

	"refunds-service/config"
	"refunds-service/internal/core/domain"
)

// Adapter binds one payment gateway's webhook protocol: how deliveries are
// authenticated, how payloads map onto normalized events, and how the
// three-valued acknowledgment is answered in the gateway's own dialect.
type Adapter interface {
	// ID is the path segment the gateway posts to (/webhooks/<id>).
	ID() string
	// Verify authenticates the exact raw body bytes against the request
	// headers. It runs before any JSON parsing.
	Verify(body []byte, header http.Header) error
	// Normalize maps a verified payload onto a GatewayEvent. Unrecognized
	// provider statuses normalize to EventOutcomeUnknown, not an error.
	Normalize(body []byte) (*domain.GatewayEvent, error)
	// RenderAck translates an acknowledgment into the HTTP status and
	// response body this gateway expects.
	RenderAck(ack domain.Ack) (int, any)
}

// Registry resolves webhook adapters by gateway id.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

// FromConfig builds a registry with an adapter per configured gateway.
// Configuring a gateway this build has no adapter for is a startup error.
func FromConfig(cfgs map[string]config.GatewayConfig) (*Registry, error) {
	adapters := make([]Adapter, 0, len(cfgs))
	for id, gc := range cfgs {
		if gc.Secret == "" {
			return nil, fmt.Errorf("gateway %s: no webhook secret configured", id)
		}
		switch id {
		case CardlinkID:
			adapters = append(adapters, NewCardlink(gc.Secret, gc.SkewTolerance))
		case SwiftpayID:
			adapters = append(adapters, NewSwiftpay(gc.Secret, gc.SkewTolerance))
		default:
			return nil, fmt.Errorf("gateway %s: no adapter available", id)
		}
	}
	return NewRegistry(adapters...), nil
}

// Get returns the adapter for the given gateway id.
func (r *Registry) Get(gatewayID string) (Adapter, bool) {
	a, ok := r.adapters[gatewayID]
	return a, ok
}

// IDs returns the registered gateway ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
