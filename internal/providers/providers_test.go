package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/promptctx"
)

type stubProvider struct {
	name      string
	available bool
}

func (s stubProvider) Name() string        { return s.name }
func (s stubProvider) RequiresAPIKey() bool { return false }
func (s stubProvider) IsAvailable() bool    { return s.available }
func (s stubProvider) Complete(context.Context, promptctx.Context) (bus.OutgoingMessage, error) {
	return bus.OutgoingMessage{Content: "ok"}, nil
}

func TestRegistryGetAndAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(stubProvider{name: "a", available: true})
	r.Register(stubProvider{name: "b", available: false})

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", p.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	avail := r.Available()
	require.Len(t, avail, 1)
	assert.Equal(t, "a", avail[0].Name())
}

func TestRegistryRegisterOverwritesSameName(t *testing.T) {
	r := NewRegistry()
	r.Register(stubProvider{name: "a", available: false})
	r.Register(stubProvider{name: "a", available: true})

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.True(t, p.IsAvailable())
}
