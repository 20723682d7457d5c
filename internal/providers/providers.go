// Package providers defines the Provider contract backends implement, and a
// Registry for looking them up by name. No concrete cloud provider backend
// is required by this gateway; the one bundled implementation,
// internal/providers/subprocess, is the sandboxed reference exemplar — the
// one provider guaranteed to always run through internal/sandbox.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/promptctx"
)

// Provider is what the pipeline, scheduler, summarizer, and build
// orchestrator call to turn a Context into a reply.
type Provider interface {
	Name() string
	RequiresAPIKey() bool
	Complete(ctx context.Context, pctx promptctx.Context) (bus.OutgoingMessage, error)
	IsAvailable() bool
}

// Registry looks providers up by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, overwriting any existing one under the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider and whether it is registered.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Available returns every registered provider whose IsAvailable() is true.
func (r *Registry) Available() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var avail []Provider
	for _, p := range r.providers {
		if p.IsAvailable() {
			avail = append(avail, p)
		}
	}
	return avail
}

// Elapsed is a small helper providers use to report processing time in
// OutgoingMessage.Metadata, matching the metadata contract in spec.md §3.
func Elapsed(start time.Time) string {
	return fmt.Sprintf("%d", time.Since(start).Milliseconds())
}
