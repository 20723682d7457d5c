package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/discovery"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

type fakeChannel struct {
	*channels.BaseChannel
	mu  sync.Mutex
	out []bus.OutgoingMessage
}

func newFakeChannel(name string, allow []string) *fakeChannel {
	return &fakeChannel{BaseChannel: channels.NewBaseChannel(name, len(allow) > 0, allow)}
}

func (f *fakeChannel) Start(ctx context.Context) (<-chan bus.IncomingMessage, error) {
	ch := make(chan bus.IncomingMessage)
	close(ch)
	return ch, nil
}

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, msg)
	return nil
}

func (f *fakeChannel) SendTyping(ctx context.Context, target string) error { return nil }
func (f *fakeChannel) Stop(ctx context.Context) error                     { return nil }

func (f *fakeChannel) sent() []bus.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.OutgoingMessage, len(f.out))
	copy(out, f.out)
	return out
}

type scriptedProvider struct {
	name    string
	replies []string
	calls   int
}

func (s *scriptedProvider) Name() string        { return s.name }
func (s *scriptedProvider) RequiresAPIKey() bool { return false }
func (s *scriptedProvider) IsAvailable() bool    { return true }
func (s *scriptedProvider) Complete(_ context.Context, _ promptctx.Context) (bus.OutgoingMessage, error) {
	reply := "ok"
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return bus.OutgoingMessage{Content: reply}, nil
}

func newTestPipeline(t *testing.T, allow []string, replies []string) (*Pipeline, *fakeChannel) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "subprocess", replies: replies})

	inbound := bus.NewQueue(1)
	mgr := channels.NewManager(inbound)
	fc := newFakeChannel("testchan", allow)
	mgr.RegisterChannel(fc)

	cfg := config.Default()
	cfg.Gateway.DefaultProvider = "subprocess"
	cfg.Gateway.Language = "en"

	dataDir := t.TempDir()
	engine := &discovery.Engine{Store: st, Providers: reg, DataDir: dataDir}

	return &Pipeline{
		Config:    cfg,
		Store:     st,
		Channels:  mgr,
		Providers: reg,
		Discovery: engine,
	}, fc
}

func TestProcessDeniesUnauthorizedSender(t *testing.T) {
	p, fc := newTestPipeline(t, []string{"allowed"}, nil)

	err := p.Process(context.Background(), bus.IncomingMessage{
		Channel: "testchan", SenderID: "stranger", ChatID: "c1", Content: "hello",
	})
	require.NoError(t, err)

	sent := fc.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, defaultDeniedText, sent[0].Content)
}

func TestProcessAllowsListedSenderAndCallsProvider(t *testing.T) {
	p, fc := newTestPipeline(t, []string{"alice"}, []string{"hi there"})

	err := p.Process(context.Background(), bus.IncomingMessage{
		Channel: "testchan", SenderID: "alice", ChatID: "c1", Content: "hello",
	})
	require.NoError(t, err)

	sent := fc.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi there", sent[0].Content)
}

func TestProcessDispatchesSlashCommandWithoutCallingProvider(t *testing.T) {
	p, fc := newTestPipeline(t, nil, []string{"should not be used"})

	err := p.Process(context.Background(), bus.IncomingMessage{
		Channel: "testchan", SenderID: "alice", ChatID: "c1", Content: "/help",
	})
	require.NoError(t, err)

	sent := fc.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "Available commands")
}

func TestProcessSetsActiveProjectFact(t *testing.T) {
	p, fc := newTestPipeline(t, nil, nil)

	err := p.Process(context.Background(), bus.IncomingMessage{
		Channel: "testchan", SenderID: "alice", ChatID: "c1", Content: "/project garden-app",
	})
	require.NoError(t, err)
	assert.Contains(t, fc.sent()[0].Content, "garden-app")

	v, ok, err := p.Store.GetFact("alice", "active_project")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "garden-app", v)
}

func TestProcessBuildKeywordStartsDiscovery(t *testing.T) {
	p, fc := newTestPipeline(t, nil, nil)
	// Replace the provider in the registry the pipeline shares with the
	// discovery engine, so the first discovery round replies with a question.
	p.Discovery.Providers.Register(&scriptedProvider{name: "subprocess", replies: []string{"DISCOVERY_QUESTIONS: what should it do?"}})

	err := p.Process(context.Background(), bus.IncomingMessage{
		Channel: "testchan", SenderID: "alice", ChatID: "c1", Content: "build me a todo app",
	})
	require.NoError(t, err)

	sent := fc.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "what should it do")

	active, err := p.Discovery.Active("alice")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestHandleSelfHealSchedulesVerificationTask(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)
	msg := bus.IncomingMessage{Channel: "testchan", SenderID: "alice", ChatID: "c1"}

	p.handleSelfHeal("alice", msg, "Fixed it.\nSELF_HEAL: restarted worker | worker responds to ping")

	state, ok, err := p.Store.GetFact("alice", "self_heal_state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "restarted worker", state)

	tasks, err := p.Store.ListTasks("alice")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Description, "worker responds to ping")
}

func TestHandleSelfHealResolvedClearsState(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)
	require.NoError(t, p.Store.SetSystemFact("alice", "self_heal_state", "restarted worker"))

	p.handleSelfHeal("alice", bus.IncomingMessage{Channel: "testchan", SenderID: "alice"}, "All good now. SELF_HEAL_RESOLVED")

	_, ok, err := p.Store.GetFact("alice", "self_heal_state")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsBuildKeyword(t *testing.T) {
	assert.True(t, isBuildKeyword("Build me a CRM"))
	assert.True(t, isBuildKeyword("let's build something cool"))
	assert.False(t, isBuildKeyword("what time is it"))
}

func TestIsAffirmative(t *testing.T) {
	assert.True(t, isAffirmative("Yes"))
	assert.True(t, isAffirmative(" ok "))
	assert.False(t, isAffirmative("maybe"))
}
