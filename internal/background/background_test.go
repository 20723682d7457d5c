package background

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

type fakeChannel struct {
	*channels.BaseChannel
	sent []bus.OutgoingMessage
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{BaseChannel: channels.NewBaseChannel(name, false, nil)}
}

func (f *fakeChannel) Start(ctx context.Context) (<-chan bus.IncomingMessage, error) {
	ch := make(chan bus.IncomingMessage)
	close(ch)
	return ch, nil
}
func (f *fakeChannel) Send(ctx context.Context, msg bus.OutgoingMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) SendTyping(ctx context.Context, target string) error { return nil }
func (f *fakeChannel) Stop(ctx context.Context) error                     { return nil }

type scriptedProvider struct {
	replies []string
	calls   int
}

func (s *scriptedProvider) Name() string        { return "subprocess" }
func (s *scriptedProvider) RequiresAPIKey() bool { return false }
func (s *scriptedProvider) IsAvailable() bool    { return true }
func (s *scriptedProvider) Complete(_ context.Context, _ promptctx.Context) (bus.OutgoingMessage, error) {
	reply := ""
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return bus.OutgoingMessage{Content: reply}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSummarizerClosesIdleConversationAndExtractsFacts(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.StoreExchange("alice", "testchan", "I live in Paris", "Noted!"))

	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{replies: []string{
		"Alice mentioned where she lives.",
		"city: Paris",
	}})

	s := &Summarizer{Store: st, Providers: reg, IdleThreshold: -time.Hour}
	s.sweepOnce(context.Background())

	facts, err := st.ListFacts("alice")
	require.NoError(t, err)
	assert.Equal(t, "Paris", facts["city"])
}

func TestSummarizerSkipsNoneFactResponse(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.StoreExchange("bob", "testchan", "hey", "hi"))

	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{replies: []string{"Just a greeting.", "none"}})

	s := &Summarizer{Store: st, Providers: reg, IdleThreshold: -time.Hour}
	s.sweepOnce(context.Background())

	facts, err := st.ListFacts("bob")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestSummarizerNeverWritesSystemFactKeys(t *testing.T) {
	st := newTestStore(t)
	s := &Summarizer{Store: st}
	s.applyExtractedFacts("carol", "active_project: sneaky\ncity: Lyon")

	facts, err := st.ListFacts("carol")
	require.NoError(t, err)
	assert.Equal(t, "Lyon", facts["city"])
	_, ok, err := st.GetFact("carol", "active_project")
	require.NoError(t, err)
	assert.False(t, ok, "system-reserved key must never be set via fact extraction")
}

func TestHeartbeatOKDoesNotNotify(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{replies: []string{"HEARTBEAT_OK"}})

	inbound := bus.NewQueue(1)
	mgr := channels.NewManager(inbound)
	fc := newFakeChannel("owner-channel")
	mgr.RegisterChannel(fc)

	h := &Heartbeat{Channels: mgr, Providers: reg, OwnerChannel: "owner-channel", OwnerChatID: "owner-chat"}
	h.pingOnce(context.Background())

	assert.Empty(t, fc.sent)
}

func TestHeartbeatProblemNotifiesOwner(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{replies: []string{"disk usage at 98%"}})

	inbound := bus.NewQueue(1)
	mgr := channels.NewManager(inbound)
	fc := newFakeChannel("owner-channel")
	mgr.RegisterChannel(fc)

	h := &Heartbeat{Channels: mgr, Providers: reg, OwnerChannel: "owner-channel", OwnerChatID: "owner-chat"}
	h.pingOnce(context.Background())

	require.Len(t, fc.sent, 1)
	assert.Contains(t, fc.sent[0].Content, "disk usage")
	assert.Equal(t, "owner-chat", fc.sent[0].ChatID)
}

func TestRenderTranscript(t *testing.T) {
	assert.Empty(t, renderTranscript(nil))
	out := renderTranscript([]promptctx.HistoryEntry{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}})
	assert.Equal(t, "user: hi\nassistant: hello", out)
}
