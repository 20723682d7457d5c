package promptctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAgentModeRendersBareMessage(t *testing.T) {
	ctx := Build(Input{
		AgentName:      "architect",
		CurrentMessage: "design the schema",
		SystemPrompt:   "ignored in agent mode",
		Facts:          map[string]string{"x": "y"},
	})
	assert.Empty(t, ctx.SystemPrompt)
	assert.Empty(t, ctx.History)
	assert.Equal(t, "design the schema", ctx.Rendered())
}

func TestBuildSessionModeRendersMinimalContinuation(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	ctx := Build(Input{
		SessionID:      "sess-1",
		CurrentMessage: "what about my open trade?",
		CurrentTime:    now,
		SystemPrompt:   "should not appear",
	})
	assert.Empty(t, ctx.SystemPrompt)
	rendered := ctx.Rendered()
	assert.Contains(t, rendered, "Current time: 2026-07-31T12:00:00Z")
	assert.Contains(t, rendered, "trading positions")
	assert.Contains(t, rendered, "what about my open trade?")
	assert.NotContains(t, rendered, "should not appear")
}

func TestBuildColdPathComposesFullPrompt(t *testing.T) {
	ctx := Build(Input{
		SystemPrompt:    "You are Omega.",
		Facts:           map[string]string{"timezone": "UTC"},
		RecentSummaries: []string{"talked about deployments"},
		Recall:          []string{"previously asked about sqlite"},
		History:         []HistoryEntry{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		CurrentMessage:  "follow up question",
	})
	rendered := ctx.Rendered()
	assert.Contains(t, rendered, "You are Omega.")
	assert.Contains(t, rendered, "timezone: UTC")
	assert.Contains(t, rendered, "talked about deployments")
	assert.Contains(t, rendered, "previously asked about sqlite")
	assert.Contains(t, rendered, "user: hi")
	assert.Contains(t, rendered, "follow up question")
}

// TestColdPathFallbackIdentity verifies P3: retrying after a session error by
// clearing the session id must reproduce exactly the cold path, since Build
// is a pure function of Input and nothing special-cases "this is a retry".
func TestColdPathFallbackIdentity(t *testing.T) {
	base := Input{
		SystemPrompt:   "You are Omega.",
		Facts:          map[string]string{"a": "b"},
		History:        []HistoryEntry{{Role: "user", Content: "hi"}},
		CurrentMessage: "continue",
	}

	direct := Build(base)

	withStaleSession := base
	withStaleSession.SessionID = "sess-stale"
	fallback := Build(withStaleSession)
	require.NotEqual(t, direct.Rendered(), fallback.Rendered(), "sanity: session mode must differ before clearing")

	withStaleSession.SessionID = ""
	clearedRetry := Build(withStaleSession)
	assert.Equal(t, direct.Rendered(), clearedRetry.Rendered())
}

func TestConditionalBlocksDeduplicated(t *testing.T) {
	blocks := conditionalBlocks("my trade and position update, also a new task")
	assert.Len(t, blocks, 2)
}
