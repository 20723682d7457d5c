package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

type scriptedProvider struct {
	replies []string
	calls   int
	err     error
}

func (s *scriptedProvider) Name() string        { return "subprocess" }
func (s *scriptedProvider) RequiresAPIKey() bool { return false }
func (s *scriptedProvider) IsAvailable() bool    { return true }
func (s *scriptedProvider) Complete(_ context.Context, _ promptctx.Context) (bus.OutgoingMessage, error) {
	if s.err != nil {
		return bus.OutgoingMessage{}, s.err
	}
	if s.calls >= len(s.replies) {
		return bus.OutgoingMessage{}, errors.New("scripted provider ran out of replies")
	}
	reply := s.replies[s.calls]
	s.calls++
	return bus.OutgoingMessage{Content: reply}, nil
}

func newEngine(t *testing.T, p *scriptedProvider) *Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := providers.NewRegistry()
	reg.Register(p)

	return &Engine{Store: st, Providers: reg, DataDir: t.TempDir()}
}

func TestSanitizeSender(t *testing.T) {
	assert.Equal(t, "telegram_123", sanitizeSender("telegram:123"))
	assert.Equal(t, "a_b_c", sanitizeSender("a/b c"))
}

func TestStartRejectsWhenAlreadyActive(t *testing.T) {
	e := newEngine(t, &scriptedProvider{replies: []string{"DISCOVERY_QUESTIONS: more?"}})

	out, err := e.Start(context.Background(), "alice", "build me a todo app", "en")
	require.NoError(t, err)
	require.False(t, out.Complete)

	out2, err := e.Start(context.Background(), "alice", "build me something else", "en")
	require.NoError(t, err)
	assert.True(t, out2.Rejected)
}

func TestStartFirstRoundFailureDegradesToDirectConfirmation(t *testing.T) {
	e := newEngine(t, &scriptedProvider{err: errors.New("backend down")})

	out, err := e.Start(context.Background(), "bob", "build a widget", "en")
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Equal(t, "build a widget", out.Brief.Summary)

	active, err := e.Active("bob")
	require.NoError(t, err)
	assert.False(t, active, "degraded completion must not leave a dangling pending_discovery fact")
}

func TestMultiRoundFlowCompletesWithIdeaBrief(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"DISCOVERY_QUESTIONS: what should it track?",
		"DISCOVERY_QUESTIONS: any deadline reminders?",
		"DISCOVERY_COMPLETE\nIDEA_BRIEF: {project: \"todo\", summary: \"a todo app with reminders\"}",
	}}
	e := newEngine(t, p)
	ctx := context.Background()

	out, err := e.Start(ctx, "carol", "build me a todo app", "en")
	require.NoError(t, err)
	assert.False(t, out.Complete)
	assert.Contains(t, out.Reply, "what should it track")

	out, err = e.Continue(ctx, "carol", "tasks and due dates", "en")
	require.NoError(t, err)
	assert.False(t, out.Complete)

	out, err = e.Continue(ctx, "carol", "yes, daily reminders", "en")
	require.NoError(t, err)
	require.True(t, out.Complete)
	assert.Equal(t, "todo", out.Brief.Project)

	active, err := e.Active("carol")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRound3ForcesCompletionRegardlessOfMarker(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"DISCOVERY_QUESTIONS: question one",
		"DISCOVERY_QUESTIONS: question two",
		"DISCOVERY_QUESTIONS: still not sure, more questions needed",
	}}
	e := newEngine(t, p)
	ctx := context.Background()

	_, err := e.Start(ctx, "dave", "build an app", "en")
	require.NoError(t, err)
	_, err = e.Continue(ctx, "dave", "answer one", "en")
	require.NoError(t, err)

	out, err := e.Continue(ctx, "dave", "answer two", "en")
	require.NoError(t, err)
	assert.True(t, out.Complete, "round 3 must force completion even without DISCOVERY_COMPLETE")
}

func TestContinueCancellationClearsState(t *testing.T) {
	p := &scriptedProvider{replies: []string{"DISCOVERY_QUESTIONS: more?"}}
	e := newEngine(t, p)
	ctx := context.Background()

	_, err := e.Start(ctx, "erin", "build a thing", "en")
	require.NoError(t, err)

	out, err := e.Continue(ctx, "erin", "actually, cancel that", "en")
	require.NoError(t, err)
	assert.True(t, out.Cancelled)

	active, err := e.Active("erin")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestContinueExpiredSessionFallsThrough(t *testing.T) {
	p := &scriptedProvider{replies: []string{"DISCOVERY_QUESTIONS: more?"}}
	e := newEngine(t, p)
	ctx := context.Background()

	_, err := e.Start(ctx, "frank", "build a thing", "en")
	require.NoError(t, err)

	path := statePath(e.DataDir, "frank")
	st, err := loadState(path)
	require.NoError(t, err)
	st.started = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.save())
	// Backdate the Started: line too, since loadState re-parses it from the body.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rewritten := startedLineRe.ReplaceAllString(string(data), "Started: "+st.started.Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(rewritten), 0644))

	out, err := e.Continue(ctx, "frank", "still there?", "en")
	require.NoError(t, err)
	assert.True(t, out.Expired)

	active, err := e.Active("frank")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestContinueSubsequentRoundFailureKeepsSessionAlive(t *testing.T) {
	p := &scriptedProvider{replies: []string{"DISCOVERY_QUESTIONS: more?"}}
	e := newEngine(t, p)
	ctx := context.Background()

	_, err := e.Start(ctx, "gina", "build a thing", "en")
	require.NoError(t, err)

	p.err = errors.New("backend down")
	out, err := e.Continue(ctx, "gina", "here's more detail", "en")
	require.NoError(t, err)
	assert.NotEmpty(t, out.Reply)
	assert.False(t, out.Complete)

	active, err := e.Active("gina")
	require.NoError(t, err)
	assert.True(t, active, "a mid-session failure must not drop the pending session")
}
