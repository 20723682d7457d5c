package scheduler

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
	reply string
	err   error
}

func (s *scriptedProvider) Name() string        { return "subprocess" }
func (s *scriptedProvider) RequiresAPIKey() bool { return false }
func (s *scriptedProvider) IsAvailable() bool    { return true }
func (s *scriptedProvider) Complete(_ context.Context, _ promptctx.Context) (bus.OutgoingMessage, error) {
	if s.err != nil {
		return bus.OutgoingMessage{}, s.err
	}
	return bus.OutgoingMessage{Content: s.reply}, nil
}

func newTestScheduler(t *testing.T, reply string) (*Scheduler, *store.Store, *fakeChannel) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{reply: reply})

	inbound := bus.NewQueue(1)
	mgr := channels.NewManager(inbound)
	fc := newFakeChannel("testchan")
	mgr.RegisterChannel(fc)

	return &Scheduler{Store: st, Channels: mgr, Providers: reg}, st, fc
}

func TestExecuteReminderSendsAndCompletes(t *testing.T) {
	s, st, fc := newTestScheduler(t, "")
	id, err := st.CreateTask(store.ScheduledTask{
		Channel: "testchan", Sender: "alice", ReplyTarget: "c1",
		Description: "water the plants", DueAt: time.Now().UTC().Add(-time.Minute), TaskType: "reminder",
	})
	require.NoError(t, err)

	due, err := st.GetDueTasks(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)

	s.execute(context.Background(), due[0])

	require.Len(t, fc.sent, 1)
	assert.Contains(t, fc.sent[0].Content, "water the plants")

	tasks, err := st.ListTasks("alice")
	require.NoError(t, err)
	assert.Empty(t, tasks, "one-shot reminder should no longer be pending")
	_ = id
}

func TestExecuteActionSuccessCompletesAndNotifies(t *testing.T) {
	s, st, fc := newTestScheduler(t, "Done.\nACTION_OUTCOME: success")
	_, err := st.CreateTask(store.ScheduledTask{
		Channel: "testchan", Sender: "bob", ReplyTarget: "c1",
		Description: "restart service", DueAt: time.Now().UTC().Add(-time.Minute), TaskType: "action",
	})
	require.NoError(t, err)

	due, err := st.GetDueTasks(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)

	s.execute(context.Background(), due[0])

	require.Len(t, fc.sent, 1)
	assert.Contains(t, fc.sent[0].Content, "completed")

	tasks, err := st.ListTasks("bob")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestExecuteActionFailureRetriesThenPermanentlyFails(t *testing.T) {
	s, st, fc := newTestScheduler(t, "Nope.\nACTION_OUTCOME: failed, disk full")
	_, err := st.CreateTask(store.ScheduledTask{
		Channel: "testchan", Sender: "carol", ReplyTarget: "c1",
		Description: "free disk space", DueAt: time.Now().UTC().Add(-time.Minute), TaskType: "action",
	})
	require.NoError(t, err)

	due, err := st.GetDueTasks(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	task := due[0]

	// FailTask pushes due_at into the future between retries, so repeated
	// failures are driven directly rather than re-polling GetDueTasks:
	// the initial attempt plus three retries.
	for i := 0; i < 4; i++ {
		s.execute(context.Background(), task)
	}

	tasks, err := st.ListTasks("carol")
	require.NoError(t, err)
	assert.Empty(t, tasks, "task should be permanently failed and no longer pending")

	require.NotEmpty(t, fc.sent)
	last := fc.sent[len(fc.sent)-1].Content
	assert.Contains(t, last, "permanently")
}

func TestParseActionOutcome(t *testing.T) {
	ok, reason, found := parseActionOutcome("All done.\nACTION_OUTCOME: success")
	assert.True(t, found)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason, found = parseActionOutcome("ACTION_OUTCOME: failed, permission denied")
	assert.True(t, found)
	assert.False(t, ok)
	assert.Equal(t, "permission denied", reason)

	_, _, found = parseActionOutcome("no marker here")
	assert.False(t, found)
}

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("0 9 * * *"))
	assert.Error(t, ValidateCronExpr("not a cron"))
}
