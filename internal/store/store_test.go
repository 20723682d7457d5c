package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omega.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildContextColdPathComposesFactsAndHistory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetFact("alice", "favorite_color", "blue"))
	require.NoError(t, s.StoreExchange("alice", "telegram", "hi there", "hello alice"))

	ctx, err := s.BuildContext("alice", "what's my favorite color?", ContextParams{SystemPrompt: "You are Omega."})
	require.NoError(t, err)

	rendered := ctx.Rendered()
	assert.Contains(t, rendered, "You are Omega.")
	assert.Contains(t, rendered, "favorite_color: blue")
	assert.Contains(t, rendered, "user: hi there")
	assert.Contains(t, rendered, "assistant: hello alice")
}

func TestBuildContextAgentModeSkipsHistory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.StoreExchange("alice", "telegram", "hi", "hello"))

	ctx, err := s.BuildContext("alice", "do the thing", ContextParams{AgentName: "architect"})
	require.NoError(t, err)
	assert.Empty(t, ctx.SystemPrompt)
	assert.Equal(t, "do the thing", ctx.Rendered())
}

func TestFTS5RecallFiltersBySenderAndExcludesCurrentConversation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.StoreExchange("alice", "telegram", "I love hiking in the mountains", "noted"))
	require.NoError(t, s.StoreExchange("bob", "telegram", "I love hiking too", "noted"))

	convID, err := s.openConversationID("alice")
	require.NoError(t, err)

	recalled, err := s.recallMessages("alice", convID, "hiking", 5)
	require.NoError(t, err)
	assert.Empty(t, recalled, "current conversation should be excluded from its own recall")

	require.NoError(t, s.CloseConversation(convID, "talked about hiking"))
	require.NoError(t, s.StoreExchange("alice", "telegram", "new topic entirely", "ok"))

	newConvID, err := s.openConversationID("alice")
	require.NoError(t, err)
	recalled, err = s.recallMessages("alice", newConvID, "hiking", 5)
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Contains(t, recalled[0], "hiking")
}

func TestSetFactRejectsSystemKeys(t *testing.T) {
	s := newTestStore(t)
	err := s.SetFact("alice", "pending_build_request", "nope")
	assert.ErrorIs(t, err, ErrSystemFactKey)

	require.NoError(t, s.SetSystemFact("alice", "pending_build_request", "brief text"))
	val, ok, err := s.GetFact("alice", "pending_build_request")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "brief text", val)
}

func TestListFactsExcludesSystemKeys(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetFact("alice", "timezone", "UTC"))
	require.NoError(t, s.SetSystemFact("alice", "active_session_id", "sess-1"))

	facts, err := s.ListFacts("alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"timezone": "UTC"}, facts)
}

func TestCompleteTaskOneShotMarksDelivered(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateTask(ScheduledTask{
		Channel: "telegram", Sender: "alice", ReplyTarget: "alice", Description: "buy milk",
		DueAt: time.Now().Add(-time.Minute), TaskType: "reminder",
	})
	require.NoError(t, err)

	require.NoError(t, s.CompleteTask(id))

	tasks, err := s.GetDueTasks(time.Now())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCompleteTaskWeekdaysSkipsWeekend(t *testing.T) {
	s := newTestStore(t)
	friday := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC) // a Friday
	require.Equal(t, time.Friday, friday.Weekday())

	id, err := s.CreateTask(ScheduledTask{
		Channel: "telegram", Sender: "alice", ReplyTarget: "alice", Description: "standup",
		DueAt: friday, Repeat: "weekdays", TaskType: "reminder",
	})
	require.NoError(t, err)

	require.NoError(t, s.CompleteTask(id))

	var dueAt int64
	require.NoError(t, s.db.QueryRow(`SELECT due_at FROM scheduled_tasks WHERE id = ?`, id).Scan(&dueAt))
	next := time.Unix(dueAt, 0).UTC()
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestFailTaskRetriesThenPermanentlyFails(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateTask(ScheduledTask{
		Channel: "telegram", Sender: "alice", ReplyTarget: "alice", Description: "deploy",
		DueAt: time.Now(), TaskType: "action",
	})
	require.NoError(t, err)

	require.NoError(t, s.FailTask(id, "timeout"))
	require.NoError(t, s.FailTask(id, "timeout"))
	require.NoError(t, s.FailTask(id, "timeout"))

	var status string
	require.NoError(t, s.db.QueryRow(`SELECT status FROM scheduled_tasks WHERE id = ?`, id).Scan(&status))
	assert.Equal(t, taskStatusPending, status)

	require.NoError(t, s.FailTask(id, "timeout"))
	var retryCount int
	require.NoError(t, s.db.QueryRow(`SELECT status, retry_count FROM scheduled_tasks WHERE id = ?`, id).Scan(&status, &retryCount))
	assert.Equal(t, taskStatusFailed, status)
	assert.Equal(t, 4, retryCount)
}

func TestUpsertLessonUniqueOnSenderDomainProject(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertLesson(Lesson{Sender: "alice", Domain: "trading", Project: "", Lesson: "be patient"}))
	require.NoError(t, s.UpsertLesson(Lesson{Sender: "alice", Domain: "trading", Project: "", Lesson: "be very patient"}))

	lessons, err := s.LessonsFor("alice", "trading")
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "be very patient", lessons[0].Lesson)
}

func TestFindIdleConversations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.StoreExchange("alice", "telegram", "hi", "hello"))

	idle, err := s.FindIdleConversations(0)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "alice", idle[0].Sender)

	idle, err = s.FindIdleConversations(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, idle)
}

func TestAliasResolution(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LinkAlias("alice-primary", "15551234567@c.us", "whatsapp"))

	resolved, err := s.ResolvePrimarySender("15551234567@c.us", "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, "alice-primary", resolved)

	resolved, err = s.ResolvePrimarySender("unlinked", "telegram")
	require.NoError(t, err)
	assert.Equal(t, "unlinked", resolved)
}

func TestAppendAudit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendAudit(AuditEntry{
		Channel: "telegram", Sender: "alice", Input: "hi", Output: "hello", Status: "ok",
	}))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&count))
	assert.Equal(t, 1, count)
}
