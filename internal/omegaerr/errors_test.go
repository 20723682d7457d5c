package omegaerr

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageHasDomainLabel(t *testing.T) {
	err := New(Provider, "backend timed out")
	assert.Equal(t, "provider: backend timed out", err.Error())
}

func TestWrapAutoLiftsIO(t *testing.T) {
	_, statErr := os.Stat("/nonexistent/path/for/omegaerr/test")
	require.Error(t, statErr)

	wrapped := Wrap(Memory, "read facts file", statErr)
	assert.Equal(t, Io, wrapped.Kind)
	assert.True(t, Is(wrapped, Io))
}

func TestWrapAutoLiftsSerialization(t *testing.T) {
	var target struct{}
	jsonErr := json.Unmarshal([]byte("{not json"), &target)
	require.Error(t, jsonErr)

	wrapped := Wrap(Config, "parse config", jsonErr)
	assert.Equal(t, Serialization, wrapped.Kind)
}

func TestWrapKeepsRequestedKindOtherwise(t *testing.T) {
	cause := New(Provider, "upstream 500")
	wrapped := Wrap(Channel, "send failed", cause)
	assert.Equal(t, Channel, wrapped.Kind)
	assert.Equal(t, Provider, KindOf(cause))
}
